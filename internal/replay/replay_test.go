package replay

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/alerting"
	"github.com/fluxtrade/execpipe/internal/book"
	"github.com/fluxtrade/execpipe/internal/ledger"
	"github.com/fluxtrade/execpipe/internal/pipeline"
	"github.com/fluxtrade/execpipe/internal/risk"
	"github.com/fluxtrade/execpipe/internal/router"
	"github.com/fluxtrade/execpipe/internal/sched"
	"github.com/fluxtrade/execpipe/internal/types"
	"github.com/fluxtrade/execpipe/internal/venue"
)

// testPipeline builds a pipeline over two frictionless simulated
// venues, matching the venue names testFlowConfig hands out.
func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	gate := risk.NewGate(risk.Limits{
		MaxPositionSizeUSD:   1000000,
		MaxDailyLossUSD:      1000000,
		MaxDrawdownPct:       99,
		MaxLeverage:          10,
		MinTradeInterval:     0,
		MaxOrdersPerSecond:   10000,
		MaxSymbolExposurePct: 10000,
	}, 100000)
	led := ledger.New(ledger.Config{
		MaxPositionPerSymbol: map[string]decimal.Decimal{},
		DefaultMaxPosition:   decimal.NewFromInt(100000),
		MaxTotalExposure:     decimal.NewFromInt(100000000),
		InitialCashBalance:   decimal.NewFromInt(100000),
	}, nil)
	books := book.NewManager()

	schedCfg := sched.DefaultConfig()
	schedCfg.DefaultAlgorithm = sched.AlgoDMA
	schedCfg.MaxExecutionTime = 2 * time.Second
	schedCfg.Seed = 1
	scheduler := sched.New(schedCfg, books, nil)

	rtCfg := router.DefaultConfig()
	rtCfg.Retry.BaseDelay = time.Millisecond
	rtCfg.Retry.MaxDelay = 2 * time.Millisecond
	rt := router.New(rtCfg, router.NewTrustBook(nil), nil)
	for _, name := range []string{"sim-a", "sim-b"} {
		rt.RegisterVenue(venue.NewSim(venue.SimConfig{Name: name, FeeRate: decimal.Zero, Seed: 1}, nil))
	}

	return pipeline.New(pipeline.Config{AgentID: "agent-replay", OrderTimeout: 5 * time.Second},
		gate, led, books, scheduler, rt, alerting.NewMockAlerter(), nil)
}

// testFlowConfig keeps every order small so each one executes as a
// single DMA slice.
func testFlowConfig() FlowConfig {
	return FlowConfig{
		Symbols:     []string{"BTC-USD"},
		Venues:      []string{"sim-a", "sim-b"},
		Seed:        7,
		BookLevels:  2,
		SmallQtyMax: 5,
	}
}

func TestFlow_Deterministic(t *testing.T) {
	a := NewFlow(testFlowConfig())
	b := NewFlow(testFlowConfig())

	for i := 0; i < 20; i++ {
		sa, sb := a.Next(), b.Next()
		if len(sa.Marks) != len(sb.Marks) || len(sa.Ticks) != len(sb.Ticks) {
			t.Fatalf("step %d: shape diverged", i)
		}
		for j := range sa.Marks {
			if sa.Marks[j] != sb.Marks[j] {
				t.Fatalf("step %d: mark %d diverged: %+v vs %+v", i, j, sa.Marks[j], sb.Marks[j])
			}
		}
		for j := range sa.Ticks {
			if sa.Ticks[j] != sb.Ticks[j] {
				t.Fatalf("step %d: tick %d diverged: %+v vs %+v", i, j, sa.Ticks[j], sb.Ticks[j])
			}
		}
		if sa.Order.Symbol != sb.Order.Symbol || !sa.Order.Quantity.Equal(sb.Order.Quantity) {
			t.Fatalf("step %d: order diverged: %+v vs %+v", i, sa.Order, sb.Order)
		}
	}
}

func TestFlow_SizeBands(t *testing.T) {
	cfg := testFlowConfig()
	cfg.TWAPShare = 1.0
	f := NewFlow(cfg)

	for i := 0; i < 50; i++ {
		qty := f.Next().Order.Quantity.InexactFloat64()
		if qty < 1000 || qty >= 5000 {
			t.Fatalf("order %d: qty %v outside the slicing band", i, qty)
		}
	}
}

func TestFlow_IcebergOverride(t *testing.T) {
	cfg := testFlowConfig()
	cfg.IcebergShare = 1.0
	f := NewFlow(cfg)

	for i := 0; i < 20; i++ {
		o := f.Next().Order
		if got := o.Param("executionMode"); got != "Iceberg" {
			t.Fatalf("order %d: executionMode = %q, want Iceberg", i, got)
		}
		if o.Quantity.InexactFloat64() > float64(cfg.SmallQtyMax) {
			t.Fatalf("order %d: iceberg qty %s above small cap", i, o.Quantity)
		}
	}
}

// Requoting clears old levels before inserting new ones, so the flow
// must never produce an update the book rejects.
func TestFlow_TicksNeverCrossBook(t *testing.T) {
	cfg := testFlowConfig()
	cfg.Symbols = []string{"BTC-USD", "ETH-USD", "SOL-USD"}
	cfg.WalkBps = 50 // exaggerate the walk so levels move every step
	f := NewFlow(cfg)
	books := book.NewManager()

	for i := 0; i < 40; i++ {
		step := f.Next()
		for _, tk := range step.Ticks {
			if _, err := books.ProcessUpdate(tk.Symbol, tk.Price, tk.Size, tk.Side, tk.UpdateID); err != nil {
				t.Fatalf("step %d: update rejected: %v (price %v side %v)", i, err, tk.Price, tk.Side)
			}
		}
	}

	for _, sym := range cfg.Symbols {
		snap, err := books.Snapshot(sym, 10)
		if err != nil {
			t.Fatalf("snapshot %s: %v", sym, err)
		}
		if len(snap.Bids) != cfg.BookLevels || len(snap.Asks) != cfg.BookLevels {
			t.Errorf("%s: depth %d/%d, want %d per side", sym, len(snap.Bids), len(snap.Asks), cfg.BookLevels)
		}
	}
}

func TestRunner_RunCollectsStats(t *testing.T) {
	r := NewRunner(Config{Orders: 10, Flow: testFlowConfig()}, testPipeline(t), nil)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Orders != 10 {
		t.Fatalf("orders = %d, want 10", stats.Orders)
	}
	if stats.Completed != 10 {
		t.Errorf("completed = %d (partial %d rejected %d failed %d), want 10",
			stats.Completed, stats.Partial, stats.Rejected, stats.Failed)
	}
	if got := stats.FillRatePct(); got != 100 {
		t.Errorf("fill rate = %v, want 100", got)
	}
	if !stats.FilledQty.IsPositive() || !stats.Notional.IsPositive() {
		t.Errorf("filled qty %s notional %s, want both positive", stats.FilledQty, stats.Notional)
	}
	total := 0
	for _, n := range stats.VenueFills {
		total += n
	}
	if total != 10 {
		t.Errorf("venue fills sum = %d, want 10", total)
	}
	// Frictionless venues fill at the mark, which is also the mid.
	if slip := stats.AvgSlippageBps(); math.Abs(slip) > 1e-9 {
		t.Errorf("avg slippage = %v bps, want 0", slip)
	}
}

func TestRunner_ProgressCallback(t *testing.T) {
	r := NewRunner(Config{Orders: 6, Flow: testFlowConfig()}, testPipeline(t), nil)

	var updates []ProgressUpdate
	r.SetProgressCallback(func(u ProgressUpdate) {
		updates = append(updates, u)
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(updates) != 6 {
		t.Fatalf("got %d updates, want 6", len(updates))
	}
	last := updates[len(updates)-1]
	if last.Order != 6 || last.TotalOrders != 6 {
		t.Errorf("last update order = %d/%d, want 6/6", last.Order, last.TotalOrders)
	}
	if last.Status != "COMPLETED" {
		t.Errorf("last status = %q, want COMPLETED", last.Status)
	}
	if last.Equity <= 0 {
		t.Errorf("equity = %v, want positive", last.Equity)
	}
	if len(last.Trust) == 0 {
		t.Error("trust snapshot empty after fills")
	}
}

func TestRunner_CancelStopsReplay(t *testing.T) {
	r := NewRunner(Config{Orders: 100, Flow: testFlowConfig()}, testPipeline(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := r.Run(ctx)
	if stats != nil || err == nil {
		t.Fatalf("Run = (%v, %v), want (nil, context error)", stats, err)
	}
}

func TestStats_SlippageSigns(t *testing.T) {
	s := NewStats()

	// Buying above the mid and selling below it both cost money.
	s.RecordResult(&types.ExecutionResult{
		Status:    types.ExecStatusCompleted,
		FilledQty: decimal.NewFromInt(1),
		AvgPrice:  decimal.NewFromInt(101),
		Attempts:  1,
	}, types.SideBuy, 100)
	s.RecordResult(&types.ExecutionResult{
		Status:    types.ExecStatusCompleted,
		FilledQty: decimal.NewFromInt(1),
		AvgPrice:  decimal.NewFromInt(99),
		Attempts:  1,
	}, types.SideSell, 100)

	if got := s.AvgSlippageBps(); math.Abs(got-100) > 1e-9 {
		t.Errorf("avg slippage = %v bps, want 100", got)
	}
}

func TestStats_FormatText(t *testing.T) {
	s := NewStats()
	s.RecordResult(&types.ExecutionResult{
		Status:    types.ExecStatusCompleted,
		FilledQty: decimal.NewFromInt(10),
		AvgPrice:  decimal.NewFromInt(100),
		Venue:     "sim-a",
		Attempts:  2,
	}, types.SideBuy, 100)
	s.RecordRejected("risk")

	text := s.FormatText()
	for _, want := range []string{"2 orders", "1 completed", "1 rejected", "risk=1", "sim-a=1", "Avg attempts: 2.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

func quietSimConfig(name string) SimConfig {
	cfg := DefaultSimConfig(name)
	cfg.FillDelay = 0
	cfg.SlippageBps = 2.0
	cfg.MaxOrdersPerSecond = 0
	cfg.Seed = 1
	return cfg
}

func simOrder(side types.Side, price float64) *types.Order {
	return &types.Order{
		ID:        "ord-1",
		Symbol:    "BTC-USD",
		Side:      side,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromFloat(price),
		CreatedAt: time.Now(),
	}
}

func TestSim_Execute_BuyPaysSlippage(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)

	res, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected fill, got reason %v", res.Reason)
	}
	if !res.AvgPrice.Equal(decimal.NewFromInt(50010)) {
		t.Errorf("AvgPrice = %s, want 50010", res.AvgPrice)
	}
	if !res.FilledQty.Equal(decimal.NewFromInt(1)) {
		t.Errorf("FilledQty = %s, want 1", res.FilledQty)
	}
	// 50010 notional at 2 bps.
	if !res.Fees.Equal(decimal.NewFromFloat(10.002)) {
		t.Errorf("Fees = %s, want 10.002", res.Fees)
	}
	if s.Fills() != 1 {
		t.Errorf("Fills = %d, want 1", s.Fills())
	}
}

func TestSim_Execute_SellPaysSlippageDown(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)

	res, err := s.Execute(context.Background(), simOrder(types.SideSell, 50000))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected fill, got reason %v", res.Reason)
	}
	if !res.AvgPrice.Equal(decimal.NewFromInt(49990)) {
		t.Errorf("AvgPrice = %s, want 49990", res.AvgPrice)
	}
}

func TestSim_Execute_SlippageCapRejects(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)

	order := simOrder(types.SideBuy, 50000)
	order.MaxSlippage = decimal.NewFromFloat(0.0001) // 1 bp cap, venue slips 2 bps

	res, err := s.Execute(context.Background(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.Reason != ReasonSlippageTooHigh {
		t.Errorf("Reason = %v, want SLIPPAGE_TOO_HIGH", res.Reason)
	}
}

func TestSim_Execute_SlippageAtCapFills(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)

	order := simOrder(types.SideBuy, 50000)
	order.MaxSlippage = decimal.NewFromFloat(0.0002) // exactly the venue's 2 bps

	res, err := s.Execute(context.Background(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected fill at the cap, got reason %v", res.Reason)
	}
}

func TestSim_Execute_InjectedFailuresConsumedInOrder(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)
	s.FailNext(ReasonRevert, 2)

	for i := 0; i < 2; i++ {
		res, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000))
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
		if res.Success || res.Reason != ReasonRevert {
			t.Fatalf("attempt %d: got success=%v reason=%v, want injected REVERT", i, res.Success, res.Reason)
		}
	}

	res, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000))
	if err != nil {
		t.Fatalf("Execute after injections: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected fill once injections drained, got reason %v", res.Reason)
	}
}

func TestSim_Execute_RandomFailuresAlwaysCategorized(t *testing.T) {
	cfg := quietSimConfig("sim-a")
	cfg.FailureRate = 1.0
	s := NewSim(cfg, nil)

	for i := 0; i < 20; i++ {
		res, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000))
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
		if res.Success {
			t.Fatalf("attempt %d: expected failure at rate 1.0", i)
		}
		switch res.Reason {
		case ReasonRevert, ReasonOutOfResources, ReasonSlippageTooHigh:
		default:
			t.Fatalf("attempt %d: uncategorized reason %v", i, res.Reason)
		}
	}
}

func TestSim_Execute_RateLimited(t *testing.T) {
	cfg := quietSimConfig("sim-a")
	cfg.MaxOrdersPerSecond = 1
	s := NewSim(cfg, nil)

	if _, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000)); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := s.Execute(context.Background(), simOrder(types.SideBuy, 50000))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Execute error = %v, want ErrRateLimited", err)
	}
}

func TestSim_Execute_MarkPricesUnpricedOrder(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)
	s.SetMark("BTC-USD", decimal.NewFromInt(50000))

	order := simOrder(types.SideBuy, 0)
	order.Price = decimal.Zero

	res, err := s.Execute(context.Background(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected fill from mark, got reason %v", res.Reason)
	}
	if !res.AvgPrice.Equal(decimal.NewFromInt(50010)) {
		t.Errorf("AvgPrice = %s, want 50010", res.AvgPrice)
	}
}

func TestSim_Execute_NoReferencePriceRejects(t *testing.T) {
	s := NewSim(quietSimConfig("sim-a"), nil)

	order := simOrder(types.SideBuy, 0)
	order.Price = decimal.Zero

	res, err := s.Execute(context.Background(), order)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Reason != ReasonUnknown {
		t.Errorf("got success=%v reason=%v, want UNKNOWN rejection", res.Success, res.Reason)
	}
}

func TestSim_Execute_ContextCancelledDuringDelay(t *testing.T) {
	cfg := quietSimConfig("sim-a")
	cfg.FillDelay = 10 * time.Second
	s := NewSim(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Execute(ctx, simOrder(types.SideBuy, 50000))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute blocked %v past cancellation", elapsed)
	}
}

package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

func setupTestDB(t *testing.T) (*SQLiteJournal, func()) {
	t.Helper()

	// Create temp file
	f, err := os.CreateTemp("", "execpipe-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	j, err := NewSQLite(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("create journal: %v", err)
	}

	cleanup := func() {
		j.Close()
		os.Remove(path)
	}

	return j, cleanup
}

func sampleExecution(id, orderID, symbol string, status types.ExecStatus, at time.Time) ExecutionRecord {
	return ExecutionRecord{
		ID:          id,
		OrderID:     orderID,
		AgentID:     "agent-1",
		Symbol:      symbol,
		Side:        types.SideBuy,
		Venue:       "sim-alpha",
		FilledQty:   decimal.NewFromInt(10),
		AvgPrice:    decimal.RequireFromString("50010.5"),
		Fees:        decimal.RequireFromString("10.002"),
		RealizedPnL: decimal.RequireFromString("-3.25"),
		Status:      status,
		Attempts:    2,
		TrustScore:  0.51,
		Latency: types.LatencyBreakdown{
			RiskGate:   800 * time.Nanosecond,
			Scheduling: 40 * time.Microsecond,
			Routing:    15 * time.Millisecond,
			Total:      16 * time.Millisecond,
		},
		CreatedAt: at,
	}
}

func TestSQLiteJournal_Execution(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rec := sampleExecution("exec-1", "order-1", "BTC-USD", types.ExecStatusCompleted, now)
	if err := j.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("record execution: %v", err)
	}

	records, err := j.Executions(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}

	got := records[0]
	if got.ID != rec.ID {
		t.Errorf("ID = %s, want %s", got.ID, rec.ID)
	}
	if got.Side != types.SideBuy {
		t.Errorf("Side = %s, want BUY", got.Side)
	}
	if !got.AvgPrice.Equal(rec.AvgPrice) {
		t.Errorf("AvgPrice = %s, want %s", got.AvgPrice, rec.AvgPrice)
	}
	if !got.RealizedPnL.Equal(rec.RealizedPnL) {
		t.Errorf("RealizedPnL = %s, want %s", got.RealizedPnL, rec.RealizedPnL)
	}
	if got.Status != types.ExecStatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if got.Latency.Routing != 15*time.Millisecond {
		t.Errorf("Latency.Routing = %v, want 15ms", got.Latency.Routing)
	}
	if got.TrustScore != 0.51 {
		t.Errorf("TrustScore = %f, want 0.51", got.TrustScore)
	}
}

func TestSQLiteJournal_ExecutionsBySymbol(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		rec := sampleExecution(
			"exec-btc-"+string(rune('a'+i)), "order-btc", "BTC-USD",
			types.ExecStatusCompleted, now.Add(time.Duration(i)*time.Minute))
		if err := j.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("record execution %d: %v", i, err)
		}
	}
	other := sampleExecution("exec-eth", "order-eth", "ETH-USD", types.ExecStatusCompleted, now)
	if err := j.RecordExecution(ctx, other); err != nil {
		t.Fatalf("record other execution: %v", err)
	}

	records, err := j.ExecutionsBySymbol(ctx, "BTC-USD", 3)
	if err != nil {
		t.Fatalf("query by symbol: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("records length = %d, want 3", len(records))
	}
	// Most recent first.
	if records[0].ID != "exec-btc-e" {
		t.Errorf("first record = %s, want exec-btc-e", records[0].ID)
	}
	for _, rec := range records {
		if rec.Symbol != "BTC-USD" {
			t.Errorf("symbol = %s, want BTC-USD", rec.Symbol)
		}
	}
}

func TestSQLiteJournal_Fills(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	fills := []types.Fill{
		{
			Symbol: "BTC-USD", Side: types.SideBuy,
			Size: decimal.NewFromInt(4), Price: decimal.NewFromInt(50000),
			Timestamp: now, OrderID: "order-1", FillID: "fill-1",
			IsFill: true, Venue: "sim-alpha", StrategyID: "twap",
		},
		{
			Symbol: "BTC-USD", Side: types.SideBuy,
			Size: decimal.NewFromInt(6), Price: decimal.NewFromInt(50010),
			Timestamp: now.Add(time.Second), OrderID: "order-1", FillID: "fill-2",
			IsFill: true, Venue: "sim-beta", StrategyID: "twap",
		},
	}
	for i, fill := range fills {
		if err := j.RecordFill(ctx, fill); err != nil {
			t.Fatalf("record fill %d: %v", i, err)
		}
	}

	got, err := j.FillsForOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("query fills: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("fills length = %d, want 2", len(got))
	}
	// Oldest first.
	if got[0].FillID != "fill-1" {
		t.Errorf("first fill = %s, want fill-1", got[0].FillID)
	}
	if !got[1].Price.Equal(decimal.NewFromInt(50010)) {
		t.Errorf("second fill price = %s, want 50010", got[1].Price)
	}
	if got[1].Venue != "sim-beta" {
		t.Errorf("second fill venue = %s, want sim-beta", got[1].Venue)
	}
	if !got[0].IsFill {
		t.Error("first fill should be a fill event")
	}

	none, err := j.FillsForOrder(ctx, "order-unknown")
	if err != nil {
		t.Fatalf("query unknown order: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown order fills = %d, want 0", len(none))
	}
}

func TestSQLiteJournal_LatestTrust(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	events := []TrustEvent{
		{Venue: "sim-alpha", Score: 0.51, Delta: 0.01, Reason: "fill", CreatedAt: now},
		{Venue: "sim-beta", Score: 0.48, Delta: -0.02, Reason: "failure", CreatedAt: now},
		{Venue: "sim-alpha", Score: 0.49, Delta: -0.02, Reason: "failure", CreatedAt: now.Add(time.Second)},
	}
	for i, event := range events {
		if err := j.RecordTrustEvent(ctx, event); err != nil {
			t.Fatalf("record trust event %d: %v", i, err)
		}
	}

	trust, err := j.LatestTrust(ctx)
	if err != nil {
		t.Fatalf("query latest trust: %v", err)
	}

	if len(trust) != 2 {
		t.Fatalf("trust venues = %d, want 2", len(trust))
	}
	// The later sim-alpha event wins.
	if trust["sim-alpha"] != 0.49 {
		t.Errorf("sim-alpha trust = %f, want 0.49", trust["sim-alpha"])
	}
	if trust["sim-beta"] != 0.48 {
		t.Errorf("sim-beta trust = %f, want 0.48", trust["sim-beta"])
	}
}

func TestSQLiteJournal_ExecutionStats(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	statuses := []types.ExecStatus{
		types.ExecStatusCompleted,
		types.ExecStatusCompleted,
		types.ExecStatusPartial,
		types.ExecStatusFailed,
	}
	for i, status := range statuses {
		rec := sampleExecution("exec-"+string(rune('a'+i)), "order-1", "BTC-USD", status, now)
		if status == types.ExecStatusFailed {
			rec.FilledQty = decimal.Zero
			rec.Fees = decimal.Zero
			rec.RealizedPnL = decimal.Zero
		}
		if err := j.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("record execution %d: %v", i, err)
		}
	}

	stats, err := j.ExecutionStats(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("query stats: %v", err)
	}

	if stats.Executions != 4 {
		t.Errorf("Executions = %d, want 4", stats.Executions)
	}
	if stats.Completed != 2 {
		t.Errorf("Completed = %d, want 2", stats.Completed)
	}
	if stats.Partial != 1 {
		t.Errorf("Partial = %d, want 1", stats.Partial)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if !stats.TotalFilledQty.Equal(decimal.NewFromInt(30)) {
		t.Errorf("TotalFilledQty = %s, want 30", stats.TotalFilledQty)
	}
	if stats.FillRate() != 0.75 {
		t.Errorf("FillRate = %f, want 0.75", stats.FillRate())
	}
}

func TestSQLiteJournal_NoData(t *testing.T) {
	j, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	records, err := j.Executions(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("query executions: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("executions = %d, want 0", len(records))
	}

	trust, err := j.LatestTrust(ctx)
	if err != nil {
		t.Fatalf("query latest trust: %v", err)
	}
	if len(trust) != 0 {
		t.Errorf("trust venues = %d, want 0", len(trust))
	}

	stats, err := j.ExecutionStats(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("query stats: %v", err)
	}
	if stats.Executions != 0 {
		t.Errorf("stats executions = %d, want 0", stats.Executions)
	}
	if stats.FillRate() != 0 {
		t.Errorf("fill rate = %f, want 0", stats.FillRate())
	}
}

func TestFromResult(t *testing.T) {
	order := &types.Order{
		ID:     "order-9",
		Symbol: "ETH-USD",
		Side:   types.SideSell,
	}
	res := &types.ExecutionResult{
		ID:        "exec-9",
		OrderID:   "order-9",
		Venue:     "sim-beta",
		FilledQty: decimal.NewFromInt(3),
		AvgPrice:  decimal.NewFromInt(3000),
		Status:    types.ExecStatusCompleted,
		Attempts:  1,
		Timestamp: time.Now(),
	}

	rec := FromResult("agent-2", order, res)

	if rec.AgentID != "agent-2" {
		t.Errorf("AgentID = %s, want agent-2", rec.AgentID)
	}
	if rec.Symbol != "ETH-USD" {
		t.Errorf("Symbol = %s, want ETH-USD", rec.Symbol)
	}
	if rec.Side != types.SideSell {
		t.Errorf("Side = %s, want SELL", rec.Side)
	}
	if !rec.FilledQty.Equal(res.FilledQty) {
		t.Errorf("FilledQty = %s, want %s", rec.FilledQty, res.FilledQty)
	}
}

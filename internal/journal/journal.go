// Package journal provides a durable audit trail of pipeline activity.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// Journal defines the interface for the execution audit trail.
type Journal interface {
	// Write operations
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
	RecordFill(ctx context.Context, fill types.Fill) error
	RecordTrustEvent(ctx context.Context, event TrustEvent) error

	// Query operations
	Executions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)
	ExecutionsBySymbol(ctx context.Context, symbol string, limit int) ([]ExecutionRecord, error)
	FillsForOrder(ctx context.Context, orderID string) ([]types.Fill, error)
	ExecutionStats(ctx context.Context, from, to time.Time) (Stats, error)

	// LatestTrust returns the last recorded trust score per venue,
	// used to re-seed venue ranking after a restart.
	LatestTrust(ctx context.Context) (map[string]float64, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionRecord is one routed order's persisted outcome.
type ExecutionRecord struct {
	ID           string
	OrderID      string
	AgentID      string
	Symbol       string
	Side         types.Side
	Venue        string
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Fees         decimal.Decimal
	RealizedPnL  decimal.Decimal
	Status       types.ExecStatus
	Attempts     int
	TrustScore   float64
	Latency      types.LatencyBreakdown
	ErrorMessage string
	CreatedAt    time.Time
}

// FromResult builds an execution record from a routed order's result.
func FromResult(agentID string, order *types.Order, res *types.ExecutionResult) ExecutionRecord {
	return ExecutionRecord{
		ID:           res.ID,
		OrderID:      res.OrderID,
		AgentID:      agentID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Venue:        res.Venue,
		FilledQty:    res.FilledQty,
		AvgPrice:     res.AvgPrice,
		Fees:         res.Fees,
		RealizedPnL:  res.RealizedPnL,
		Status:       res.Status,
		Attempts:     res.Attempts,
		TrustScore:   res.TrustScore,
		Latency:      res.Latency,
		ErrorMessage: res.ErrorMessage,
		CreatedAt:    res.Timestamp,
	}
}

// TrustEvent is one venue trust score movement.
type TrustEvent struct {
	ID        int64
	Venue     string
	Score     float64 // score after the movement
	Delta     float64 // signed movement
	Reason    string  // "fill", "retry_success", "failure"
	CreatedAt time.Time
}

// Stats aggregates execution outcomes over a time range.
type Stats struct {
	Executions       int
	Completed        int
	Partial          int
	Rejected         int
	Failed           int
	TotalFilledQty   decimal.Decimal
	TotalFees        decimal.Decimal
	TotalRealizedPnL decimal.Decimal
}

// FillRate returns the fraction of executions that moved any quantity.
func (s Stats) FillRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Completed+s.Partial) / float64(s.Executions)
}

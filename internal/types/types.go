// Package types defines shared types used across the execution pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or fill.
type Side int

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// SliceType represents how a single slice should be worked at the venue.
type SliceType int

const (
	SliceMarket SliceType = iota
	SliceLimit
	SliceIceberg
	SliceTWAP
	SliceVWAP
)

func (t SliceType) String() string {
	switch t {
	case SliceMarket:
		return "MARKET"
	case SliceLimit:
		return "LIMIT"
	case SliceIceberg:
		return "ICEBERG"
	case SliceTWAP:
		return "TWAP"
	case SliceVWAP:
		return "VWAP"
	default:
		return "UNKNOWN"
	}
}

// ExecStatus represents the terminal state of an execution attempt.
type ExecStatus int

const (
	ExecStatusCompleted ExecStatus = iota
	ExecStatusPartial
	ExecStatusRejected
	ExecStatusFailed
)

func (s ExecStatus) String() string {
	switch s {
	case ExecStatusCompleted:
		return "COMPLETED"
	case ExecStatusPartial:
		return "PARTIAL"
	case ExecStatusRejected:
		return "REJECTED"
	case ExecStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Filled returns true if the execution moved any quantity.
func (s ExecStatus) Filled() bool {
	return s == ExecStatusCompleted || s == ExecStatusPartial
}

// Order is an inbound order request. Immutable once submitted to the
// pipeline; consumed once per pipeline invocation.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal // limit or reference price
	Venues    []string        // candidate venues, unranked
	CreatedAt time.Time

	// MaxSlippage caps acceptable slippage as a ratio (0.01 = 1%).
	// Zero means no per-order cap.
	MaxSlippage decimal.Decimal
	// MaxRetries overrides the router's retry bound. Zero means use
	// the router default.
	MaxRetries int
	// AdditionalParams carries free-form overrides, e.g. the
	// "executionMode" key forcing a specific execution algorithm.
	AdditionalParams map[string]string
}

// Param returns the named additional parameter, or "" when absent.
func (o *Order) Param(key string) string {
	if o.AdditionalParams == nil {
		return ""
	}
	return o.AdditionalParams[key]
}

// Notional returns quantity × reference price.
func (o *Order) Notional() decimal.Decimal {
	return o.Quantity.Mul(o.Price)
}

// OrderSlice is one time- and size-bounded sub-order produced by the
// scheduler. Venue is assigned later by the router.
type OrderSlice struct {
	ID         string
	ParentID   string
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	TimeOffset time.Duration // dispatch delay relative to schedule start
	Type       SliceType
	// LimitPrice is zero for market slices.
	LimitPrice decimal.Decimal
	Venue      string
}

// Fill is an order or fill event feeding the position ledger. Entries
// with IsFill=false are open-order records and do not move net size.
type Fill struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	Timestamp  time.Time
	OrderID    string
	FillID     string
	IsFill     bool
	Venue      string
	StrategyID string
}

// LatencyBreakdown records where time went during one pipeline pass.
type LatencyBreakdown struct {
	RiskGate   time.Duration
	Scheduling time.Duration
	Routing    time.Duration
	Total      time.Duration
}

// ExecutionResult is the outbound record of one routed order.
type ExecutionResult struct {
	ID           string
	OrderID      string
	Venue        string
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Fees         decimal.Decimal
	RealizedPnL  decimal.Decimal // realized delta attributable to this execution
	Status       ExecStatus
	Latency      LatencyBreakdown
	TrustScore   float64 // venue trust at time of execution
	Attempts     int
	ErrorMessage string // set when Status is Rejected or Failed
	Timestamp    time.Time
}

// RiskResult is the outcome of one admission check. Latency is the
// wall time the check itself took.
type RiskResult struct {
	Passed  bool
	Reason  string // names the breached limit and magnitude; "" when passed
	Latency time.Duration
}

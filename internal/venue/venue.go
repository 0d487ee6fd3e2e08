// Package venue defines the execution venue boundary and the
// simulated venue used for paper routing.
package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/fluxtrade/execpipe/internal/types"
)

// Transport-level venue errors. These mean no venue response was
// obtained, as opposed to a venue-reported rejection carried in a
// Result.
var (
	ErrRateLimited = errors.New("venue rate limited")
	ErrClosed      = errors.New("venue closed")
)

// FailureReason categorizes a venue-reported execution failure.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonRevert
	ReasonOutOfResources
	ReasonSlippageTooHigh
	ReasonUnknown
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonRevert:
		return "REVERT"
	case ReasonOutOfResources:
		return "OUT_OF_RESOURCES"
	case ReasonSlippageTooHigh:
		return "SLIPPAGE_TOO_HIGH"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of one execution attempt at a venue.
type Result struct {
	Venue   string
	Success bool
	// Reason is set when Success is false.
	Reason    FailureReason
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Fees      decimal.Decimal
}

// Venue is a single execution destination. Execute returns a Result
// for venue-reported outcomes, success or rejection; a non-nil error
// means the attempt never reached a venue decision.
type Venue interface {
	Name() string
	Execute(ctx context.Context, order *types.Order) (*Result, error)
}

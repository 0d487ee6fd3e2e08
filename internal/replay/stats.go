package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// Stats accumulates execution quality over one replay.
type Stats struct {
	Orders    int
	Completed int
	Partial   int
	Rejected  int
	Failed    int

	// RejectionsByStage splits rejections into "risk" and "limit".
	RejectionsByStage map[string]int

	TotalAttempts int
	// FailedAttempts counts attempts that ended in failure across
	// all venues, folded in from the router's attempt cache.
	FailedAttempts int

	FilledQty   decimal.Decimal
	Notional    decimal.Decimal
	Fees        decimal.Decimal
	RealizedPnL decimal.Decimal

	// MaxDrawdown is the deepest equity drawdown over the run as a
	// fraction of the peak.
	MaxDrawdown decimal.Decimal

	VenueFills map[string]int

	slipSumBps float64
	slipCount  int
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{
		RejectionsByStage: make(map[string]int),
		VenueFills:        make(map[string]int),
	}
}

// RecordResult folds in one executed order. arrivalMid is the mid
// price observed when the order entered the pipeline; zero skips the
// slippage sample.
func (s *Stats) RecordResult(res *types.ExecutionResult, side types.Side, arrivalMid float64) {
	s.Orders++
	switch res.Status {
	case types.ExecStatusCompleted:
		s.Completed++
	case types.ExecStatusPartial:
		s.Partial++
	default:
		s.Failed++
	}

	s.TotalAttempts += res.Attempts
	s.FilledQty = s.FilledQty.Add(res.FilledQty)
	s.Notional = s.Notional.Add(res.FilledQty.Mul(res.AvgPrice))
	s.Fees = s.Fees.Add(res.Fees)
	s.RealizedPnL = s.RealizedPnL.Add(res.RealizedPnL)
	if res.Venue != "" {
		s.VenueFills[res.Venue]++
	}

	if arrivalMid > 0 && res.FilledQty.IsPositive() {
		avg := res.AvgPrice.InexactFloat64()
		// Signed so that paying up on a buy and selling down both
		// count as positive cost.
		slip := (avg - arrivalMid) / arrivalMid
		if side == types.SideSell {
			slip = -slip
		}
		s.slipSumBps += slip * 10000
		s.slipCount++
	}
}

// RecordRejected folds in one admission rejection.
func (s *Stats) RecordRejected(stage string) {
	s.Orders++
	s.Rejected++
	s.RejectionsByStage[stage]++
}

// RecordFailed folds in one order that produced no fill at all.
func (s *Stats) RecordFailed() {
	s.Orders++
	s.Failed++
}

// FillRatePct is the share of orders that ended fully filled.
func (s *Stats) FillRatePct() float64 {
	if s.Orders == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Orders) * 100
}

// AvgAttempts is the mean venue attempts per order that reached the
// router.
func (s *Stats) AvgAttempts() float64 {
	routed := s.Completed + s.Partial
	if routed == 0 {
		return 0
	}
	return float64(s.TotalAttempts) / float64(routed)
}

// AvgSlippageBps is the mean signed slippage against the arrival mid,
// in basis points. Positive means execution cost.
func (s *Stats) AvgSlippageBps() float64 {
	if s.slipCount == 0 {
		return 0
	}
	return s.slipSumBps / float64(s.slipCount)
}

// MaxDrawdownPct is the deepest drawdown over the run in percent.
func (s *Stats) MaxDrawdownPct() float64 {
	return s.MaxDrawdown.InexactFloat64() * 100
}

// FormatText renders a plain-text report.
func (s *Stats) FormatText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Replay: %d orders, %d completed, %d partial, %d rejected, %d failed\n",
		s.Orders, s.Completed, s.Partial, s.Rejected, s.Failed)
	fmt.Fprintf(&b, "Fill rate: %.1f%%  Avg attempts: %.2f  Failed attempts: %d\n",
		s.FillRatePct(), s.AvgAttempts(), s.FailedAttempts)
	fmt.Fprintf(&b, "Filled qty: %s  Notional: %s  Fees: %s  Realized PnL: %s\n",
		s.FilledQty.String(), s.Notional.StringFixed(2), s.Fees.StringFixed(2), s.RealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "Avg slippage vs arrival mid: %.2f bps  Max drawdown: %.2f%%", s.AvgSlippageBps(), s.MaxDrawdownPct())

	if len(s.RejectionsByStage) > 0 {
		stages := make([]string, 0, len(s.RejectionsByStage))
		for name := range s.RejectionsByStage {
			stages = append(stages, name)
		}
		sort.Strings(stages)

		b.WriteString("\nRejections:")
		for _, name := range stages {
			fmt.Fprintf(&b, " %s=%d", name, s.RejectionsByStage[name])
		}
	}

	if len(s.VenueFills) > 0 {
		venues := make([]string, 0, len(s.VenueFills))
		for name := range s.VenueFills {
			venues = append(venues, name)
		}
		sort.Strings(venues)

		b.WriteString("\nVenues:")
		for _, name := range venues {
			fmt.Fprintf(&b, " %s=%d", name, s.VenueFills[name])
		}
	}

	return b.String()
}

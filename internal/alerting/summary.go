package alerting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionSummary is the end-of-session execution report.
type ExecutionSummary struct {
	Start time.Time
	End   time.Time

	OrdersSubmitted int
	OrdersFilled    int
	OrdersPartial   int
	OrdersRejected  int // refused before routing (risk gate, position limits)
	OrdersFailed    int // exhausted every venue

	TotalFilledQty decimal.Decimal
	TotalFees      decimal.Decimal
	RealizedPnL    decimal.Decimal

	TotalAttempts int
	// VenueFills counts completed executions per winning venue.
	VenueFills map[string]int
}

// NewExecutionSummary returns an empty summary covering [start, end].
func NewExecutionSummary(start, end time.Time) ExecutionSummary {
	return ExecutionSummary{
		Start:          start,
		End:            end,
		TotalFilledQty: decimal.Zero,
		TotalFees:      decimal.Zero,
		RealizedPnL:    decimal.Zero,
		VenueFills:     make(map[string]int),
	}
}

// FillRatePct returns the percentage of submitted orders that moved
// any quantity.
func (s ExecutionSummary) FillRatePct() float64 {
	if s.OrdersSubmitted == 0 {
		return 0
	}
	return 100 * float64(s.OrdersFilled+s.OrdersPartial) / float64(s.OrdersSubmitted)
}

// AvgAttempts returns the mean venue attempts per routed order.
func (s ExecutionSummary) AvgAttempts() float64 {
	routed := s.OrdersFilled + s.OrdersPartial + s.OrdersFailed
	if routed == 0 {
		return 0
	}
	return float64(s.TotalAttempts) / float64(routed)
}

// FormatText renders the summary as a plain-text block.
func (s ExecutionSummary) FormatText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Execution Summary %s to %s\n",
		s.Start.Format("2006-01-02 15:04:05"), s.End.Format("15:04:05"))
	fmt.Fprintf(&b, "Orders: %d submitted, %d filled, %d partial, %d rejected, %d failed\n",
		s.OrdersSubmitted, s.OrdersFilled, s.OrdersPartial, s.OrdersRejected, s.OrdersFailed)
	fmt.Fprintf(&b, "Fill rate: %.1f%%  Avg attempts: %.2f\n", s.FillRatePct(), s.AvgAttempts())
	fmt.Fprintf(&b, "Filled qty: %s  Fees: %s  Realized PnL: %s",
		s.TotalFilledQty.String(), s.TotalFees.StringFixed(2), s.RealizedPnL.StringFixed(2))

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

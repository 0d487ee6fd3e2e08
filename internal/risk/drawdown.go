package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// DrawdownTracker follows a mark-to-market equity series: the latest
// sample, the running peak, and the deepest peak-to-trough fall seen
// since the last rebase. Amounts are decimal; reporting paths use it,
// the admission gate keeps its own scaled-integer peak for the hot
// path. Safe for concurrent use.
type DrawdownTracker struct {
	mu     sync.RWMutex
	equity decimal.Decimal
	peak   decimal.Decimal
	worst  decimal.Decimal
}

// DrawdownSnapshot is one consistent read of the tracker.
type DrawdownSnapshot struct {
	Equity      decimal.Decimal
	Peak        decimal.Decimal
	Drawdown    decimal.Decimal
	MaxDrawdown decimal.Decimal
}

// NewDrawdownTracker starts the series at initial with no drawdown on
// record.
func NewDrawdownTracker(initial decimal.Decimal) *DrawdownTracker {
	return &DrawdownTracker{equity: initial, peak: initial}
}

// Observe records the next equity sample. The peak rises when the
// sample exceeds it; otherwise the fall from the peak is folded into
// the deepest drawdown. Reports whether a new peak was set.
func (t *DrawdownTracker) Observe(equity decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.equity = equity
	if equity.GreaterThan(t.peak) {
		t.peak = equity
		return true
	}
	if dd := drawdownRatio(t.peak, equity); dd.GreaterThan(t.worst) {
		t.worst = dd
	}
	return false
}

// Equity returns the latest sample.
func (t *DrawdownTracker) Equity() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.equity
}

// Peak returns the highest sample seen since the last rebase.
func (t *DrawdownTracker) Peak() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peak
}

// Drawdown returns the current fall from the peak as a ratio:
// (peak - equity) / peak. Zero at or above the peak.
func (t *DrawdownTracker) Drawdown() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return drawdownRatio(t.peak, t.equity)
}

// MaxDrawdown returns the deepest drawdown observed since the last
// rebase. It holds its value through recoveries.
func (t *DrawdownTracker) MaxDrawdown() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.worst
}

// Rebase restarts the series at a new equity, forgetting the old peak
// and the drawdown history. Used after deposits or a manual equity
// restatement.
func (t *DrawdownTracker) Rebase(equity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.equity = equity
	t.peak = equity
	t.worst = decimal.Zero
}

// Snapshot returns all four figures as one consistent read.
func (t *DrawdownTracker) Snapshot() DrawdownSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return DrawdownSnapshot{
		Equity:      t.equity,
		Peak:        t.peak,
		Drawdown:    drawdownRatio(t.peak, t.equity),
		MaxDrawdown: t.worst,
	}
}

// drawdownRatio is (peak - equity) / peak, clamped to zero when the
// equity is at or above the peak or the peak itself is zero.
func drawdownRatio(peak, equity decimal.Decimal) decimal.Decimal {
	if peak.IsZero() || equity.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak)
}

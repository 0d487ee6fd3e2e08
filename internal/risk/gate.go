// Package risk implements the pre-trade admission gate. Checks run on
// independently synchronized atomic state so unrelated risk dimensions
// never contend, and each check short-circuits in a fixed order.
package risk

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxtrade/execpipe/internal/types"
)

// fixedPointScale is the contract for every USD amount held in the
// gate's atomics: values are int64 micro-dollars (USD × 1e6). The
// scale is part of the type's public behavior; Metrics and all
// float64 arguments convert at this factor.
const fixedPointScale = 1e6

// Limits is the admission limit set. Zero values are taken literally;
// use DefaultLimits for a workable baseline.
type Limits struct {
	MaxPositionSizeUSD   float64
	MaxDailyLossUSD      float64
	MaxDrawdownPct       float64
	MaxLeverage          float64
	MinTradeInterval     time.Duration
	MaxOrdersPerSecond   int64
	MaxSymbolExposurePct float64
}

// DefaultLimits returns a conservative baseline limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizeUSD:   10000,
		MaxDailyLossUSD:      1000,
		MaxDrawdownPct:       10,
		MaxLeverage:          3,
		MinTradeInterval:     time.Millisecond,
		MaxOrdersPerSecond:   100,
		MaxSymbolExposurePct: 20,
	}
}

// Gate is the fast pre-trade risk layer. All counters are independent
// atomics; no check takes part in a global transaction, trading
// perfect cross-field consistency for check latency.
type Gate struct {
	limitsMu sync.RWMutex
	limits   Limits

	// Fixed-point micro-dollar counters, see fixedPointScale.
	dailyPnL      atomic.Int64
	peakEquity    atomic.Int64
	currentEquity atomic.Int64

	lastTradeNS      atomic.Int64
	ordersThisSecond atomic.Int64
	currentSecond    atomic.Int64
	breakerActive    atomic.Bool

	// Per-symbol gross exposure in micro-dollars. The map lock guards
	// entry creation only; updates go through the entry's atomic.
	posMu     sync.RWMutex
	positions map[string]*atomic.Int64
}

// NewGate creates a gate with the given limits and starting equity.
func NewGate(limits Limits, initialEquityUSD float64) *Gate {
	g := &Gate{
		limits:    limits,
		positions: make(map[string]*atomic.Int64),
	}
	fixed := toFixed(initialEquityUSD)
	g.currentEquity.Store(fixed)
	g.peakEquity.Store(fixed)
	return g
}

func toFixed(usd float64) int64 {
	return int64(math.Round(usd * fixedPointScale))
}

func fromFixed(v int64) float64 {
	return float64(v) / fixedPointScale
}

// CheckOrder runs the admission checks for one order, short-circuiting
// in fixed order: circuit breaker, position size, leverage, order
// rate, minimum trade interval, daily loss, drawdown, symbol exposure.
// The returned reason names the breached limit and the magnitude.
//
// The order-rate check counts by wall-clock second, resetting on
// second rollover rather than keeping a sliding log. Bursts straddling
// a second boundary are undercounted; this is a documented O(1)
// approximation, kept intentionally.
func (g *Gate) CheckOrder(symbol string, sizeUSD, leverage float64) types.RiskResult {
	start := time.Now()

	// Breaker first: once tripped, nothing is admitted.
	if g.breakerActive.Load() {
		return fail(start, "Circuit breaker active")
	}

	g.limitsMu.RLock()
	limits := g.limits
	g.limitsMu.RUnlock()

	if sizeUSD > limits.MaxPositionSizeUSD {
		return fail(start, fmt.Sprintf("Position size $%.2f exceeds limit $%.2f",
			sizeUSD, limits.MaxPositionSizeUSD))
	}

	if leverage > limits.MaxLeverage {
		return fail(start, fmt.Sprintf("Leverage %.1fx exceeds limit %.1fx",
			leverage, limits.MaxLeverage))
	}

	nowNS := time.Now().UnixNano()
	nowSecond := nowNS / int64(time.Second)
	if nowSecond != g.currentSecond.Load() {
		g.currentSecond.Store(nowSecond)
		g.ordersThisSecond.Store(1)
	} else {
		orders := g.ordersThisSecond.Add(1)
		if orders > limits.MaxOrdersPerSecond {
			return fail(start, fmt.Sprintf("Rate limit exceeded: %d orders/second", orders))
		}
	}

	if last := g.lastTradeNS.Load(); last > 0 {
		interval := time.Duration(nowNS - last)
		if interval < limits.MinTradeInterval {
			return fail(start, fmt.Sprintf("Trade interval %dµs below minimum %dµs",
				interval.Microseconds(), limits.MinTradeInterval.Microseconds()))
		}
	}

	dailyPnL := fromFixed(g.dailyPnL.Load())
	if dailyPnL < -limits.MaxDailyLossUSD {
		return fail(start, fmt.Sprintf("Daily loss $%.2f exceeds limit $%.2f",
			-dailyPnL, limits.MaxDailyLossUSD))
	}

	currentEquity := fromFixed(g.currentEquity.Load())
	peakEquity := fromFixed(g.peakEquity.Load())
	var drawdownPct float64
	if peakEquity > 0 {
		drawdownPct = (peakEquity - currentEquity) / peakEquity * 100
	}
	if drawdownPct > limits.MaxDrawdownPct {
		return fail(start, fmt.Sprintf("Drawdown %.1f%% exceeds limit %.1f%%",
			drawdownPct, limits.MaxDrawdownPct))
	}

	newExposure := g.symbolExposure(symbol) + sizeUSD
	exposurePct := newExposure / currentEquity * 100
	if exposurePct > limits.MaxSymbolExposurePct {
		return fail(start, fmt.Sprintf("Symbol exposure %.1f%% would exceed limit %.1f%%",
			exposurePct, limits.MaxSymbolExposurePct))
	}

	return types.RiskResult{Passed: true, Latency: time.Since(start)}
}

func fail(start time.Time, reason string) types.RiskResult {
	return types.RiskResult{Reason: reason, Latency: time.Since(start)}
}

func (g *Gate) symbolExposure(symbol string) float64 {
	g.posMu.RLock()
	entry, ok := g.positions[symbol]
	g.posMu.RUnlock()
	if !ok {
		return 0
	}
	return fromFixed(entry.Load())
}

// UpdatePosition applies a post-trade exposure change for symbol and
// stamps the last-trade time. Changes under one cent are ignored.
func (g *Gate) UpdatePosition(symbol string, sizeChangeUSD float64) {
	if math.Abs(sizeChangeUSD) < 0.01 {
		return
	}

	g.posMu.RLock()
	entry, ok := g.positions[symbol]
	g.posMu.RUnlock()
	if !ok {
		g.posMu.Lock()
		if entry, ok = g.positions[symbol]; !ok {
			entry = &atomic.Int64{}
			g.positions[symbol] = entry
		}
		g.posMu.Unlock()
	}
	entry.Add(toFixed(sizeChangeUSD))

	g.lastTradeNS.Store(time.Now().UnixNano())
}

// UpdatePnL folds one realized PnL delta into the daily counter and
// the current equity, then advances peak equity through a CAS loop.
// Peak only ever increases.
func (g *Gate) UpdatePnL(pnlUSD float64) {
	fixed := toFixed(pnlUSD)

	g.dailyPnL.Add(fixed)
	newEquity := g.currentEquity.Add(fixed)

	for {
		peak := g.peakEquity.Load()
		if newEquity <= peak {
			return
		}
		if g.peakEquity.CompareAndSwap(peak, newEquity) {
			return
		}
	}
}

// ActivateCircuitBreaker trips the breaker; every subsequent check
// fails until deactivated. Callable from outside the pipeline.
func (g *Gate) ActivateCircuitBreaker() {
	g.breakerActive.Store(true)
}

// DeactivateCircuitBreaker clears the breaker.
func (g *Gate) DeactivateCircuitBreaker() {
	g.breakerActive.Store(false)
}

// BreakerActive reports the breaker flag.
func (g *Gate) BreakerActive() bool {
	return g.breakerActive.Load()
}

// ResetDailyStats zeroes the daily PnL counter, typically at the
// session boundary.
func (g *Gate) ResetDailyStats() {
	g.dailyPnL.Store(0)
}

// RestoreEquity overwrites the equity counters, for state
// reconciliation after a restart or in controlled scenarios. Peak is
// floored at current so the drawdown invariant holds.
func (g *Gate) RestoreEquity(currentUSD, peakUSD float64) {
	if peakUSD < currentUSD {
		peakUSD = currentUSD
	}
	g.currentEquity.Store(toFixed(currentUSD))
	g.peakEquity.Store(toFixed(peakUSD))
}

// UpdateLimits swaps the limit set. In-flight checks finish against
// the limits they already read.
func (g *Gate) UpdateLimits(limits Limits) {
	g.limitsMu.Lock()
	g.limits = limits
	g.limitsMu.Unlock()
}

// Metrics is a point-in-time snapshot of the gate's counters,
// unscaled back to USD.
type Metrics struct {
	CurrentEquity        float64
	PeakEquity           float64
	DailyPnL             float64
	DrawdownPct          float64
	TotalExposure        float64
	PositionCount        int
	CircuitBreakerActive bool
}

// Metrics returns a snapshot of the gate state. Fields are read
// independently; the snapshot is not a consistent transaction.
func (g *Gate) Metrics() Metrics {
	currentEquity := fromFixed(g.currentEquity.Load())
	peakEquity := fromFixed(g.peakEquity.Load())

	var drawdownPct float64
	if peakEquity > 0 {
		drawdownPct = (peakEquity - currentEquity) / peakEquity * 100
	}

	g.posMu.RLock()
	positionCount := len(g.positions)
	var totalExposure float64
	for _, entry := range g.positions {
		totalExposure += math.Abs(fromFixed(entry.Load()))
	}
	g.posMu.RUnlock()

	return Metrics{
		CurrentEquity:        currentEquity,
		PeakEquity:           peakEquity,
		DailyPnL:             fromFixed(g.dailyPnL.Load()),
		DrawdownPct:          drawdownPct,
		TotalExposure:        totalExposure,
		PositionCount:        positionCount,
		CircuitBreakerActive: g.breakerActive.Load(),
	}
}

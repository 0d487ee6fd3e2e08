package sched

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
	"github.com/fluxtrade/execpipe/pkg/indicator"
)

// CostConfig holds impact-estimation parameters.
type CostConfig struct {
	VolatilityWindow int     // marks in the rolling std-dev window
	MinSlices        int     // slice-count floor
	MaxSlices        int     // slice-count ceiling
	ImpactCoeff      float64 // impact at full size-to-liquidity ratio
	VolWeight        float64 // volatility multiplier weight
	LiquidityBandPct float64 // band around mid for the liquidity basis
	ImpactPerSlice   float64 // impact fraction that buys one extra slice
}

// DefaultCostConfig returns the standard estimation parameters.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		VolatilityWindow: 20,
		MinSlices:        1,
		MaxSlices:        12,
		ImpactCoeff:      0.002,
		VolWeight:        10,
		LiquidityBandPct: 0.005,
		ImpactPerSlice:   0.0002,
	}
}

// Estimator scores expected slippage per order and converts it into a
// slice-count suggestion. It keeps a rolling std-dev of mark prices
// per symbol as the volatility input.
type Estimator struct {
	cfg  CostConfig
	view MarketView

	mu  sync.Mutex
	vol map[string]*indicator.StdDev
}

// NewEstimator creates an estimator reading liquidity from view. A
// nil view disables the liquidity basis; estimates then report no
// basis and slicing falls back to strategy defaults.
func NewEstimator(cfg CostConfig, view MarketView) *Estimator {
	if cfg.VolatilityWindow < 2 {
		cfg.VolatilityWindow = 2
	}
	if cfg.MinSlices < 1 {
		cfg.MinSlices = 1
	}
	if cfg.MaxSlices < cfg.MinSlices {
		cfg.MaxSlices = cfg.MinSlices
	}
	if cfg.ImpactPerSlice <= 0 {
		cfg.ImpactPerSlice = 0.0002
	}
	return &Estimator{
		cfg:  cfg,
		view: view,
		vol:  make(map[string]*indicator.StdDev),
	}
}

// Observe feeds one mark price into the symbol's volatility window.
func (e *Estimator) Observe(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sd, ok := e.vol[symbol]
	if !ok {
		sd = indicator.NewStdDev(e.cfg.VolatilityWindow)
		e.vol[symbol] = sd
	}
	sd.Update(price)
}

// RelativeVolatility returns std-dev over mean of the recent marks,
// zero until the window fills.
func (e *Estimator) RelativeVolatility(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	sd, ok := e.vol[symbol]
	if !ok || !sd.Ready() {
		return 0
	}
	mean := sd.Mean()
	if !mean.IsPositive() {
		return 0
	}
	rel, _ := sd.Current().Div(mean).Float64()
	return rel
}

// ExpectedImpact estimates slippage as a fraction of mid: square-root
// market impact in the order's size-to-liquidity ratio, scaled up by
// recent volatility. The bool reports whether the book gave a usable
// liquidity basis; without one the estimate is zero.
func (e *Estimator) ExpectedImpact(order *types.Order) (float64, bool) {
	if e.view == nil {
		return 0, false
	}
	bidLiq, askLiq := e.view.LiquidityWithin(order.Symbol, e.cfg.LiquidityBandPct)
	liq := askLiq
	if order.Side == types.SideSell {
		liq = bidLiq
	}
	if liq <= 0 {
		return 0, false
	}

	qty := order.Quantity.InexactFloat64()
	sizeRatio := qty / liq
	if sizeRatio > 1 {
		sizeRatio = 1
	}
	impact := e.cfg.ImpactCoeff * math.Sqrt(sizeRatio)
	return impact * (1 + e.cfg.VolWeight*e.RelativeVolatility(order.Symbol)), true
}

// SliceCount maps an expected impact onto the configured slice-count
// range: one extra slice per ImpactPerSlice of expected slippage.
func (e *Estimator) SliceCount(impact float64) int {
	n := e.cfg.MinSlices + int(impact/e.cfg.ImpactPerSlice)
	if n > e.cfg.MaxSlices {
		n = e.cfg.MaxSlices
	}
	if n < e.cfg.MinSlices {
		n = e.cfg.MinSlices
	}
	return n
}

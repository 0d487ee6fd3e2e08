package sched

import (
	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// MarketView is the order-book surface the scheduler reads when
// pricing and sizing slices. *book.Manager satisfies it.
type MarketView interface {
	MidPrice(symbol string) (float64, bool)
	Spread(symbol string) (float64, bool)
	LiquidityWithin(symbol string, pct float64) (bidLiq, askLiq float64)
}

// Strategy expands an admitted order into a time-ordered slice
// sequence. Implementations must emit slices with strictly increasing
// time offsets and sizes summing to the order quantity.
type Strategy interface {
	Algorithm() Algorithm

	// Slices expands the order. sliceHint is the impact estimator's
	// suggested slice count; non-positive means use the strategy's
	// configured default. Strategies with fixed shapes may ignore it.
	Slices(order *types.Order, sliceHint int) ([]types.OrderSlice, error)
}

// PricingConfig controls how slice limit prices are shaded off mid.
type PricingConfig struct {
	// TightSpreadBps is the spread-to-mid ratio in basis points at or
	// under which a slice goes out as a market order.
	TightSpreadBps float64
	// OffsetFraction shades the limit off mid by this fraction of the
	// spread, in the order's favor.
	OffsetFraction float64
}

// DefaultPricingConfig returns the standard shading parameters.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		TightSpreadBps: 2,
		OffsetFraction: 0.25,
	}
}

// slicePrice computes the working price for one slice: a limit shaded
// off mid in the order's favor, or zero (market) when the spread is
// tight or the book is empty.
func slicePrice(view MarketView, symbol string, side types.Side, cfg PricingConfig) decimal.Decimal {
	if view == nil {
		return decimal.Zero
	}
	mid, ok := view.MidPrice(symbol)
	if !ok || mid <= 0 {
		return decimal.Zero
	}
	spread, ok := view.Spread(symbol)
	if !ok {
		return decimal.Zero
	}
	if spread/mid*10000 <= cfg.TightSpreadBps {
		return decimal.Zero
	}

	offset := spread * cfg.OffsetFraction
	// Passive shading: buy below mid, sell above.
	if side == types.SideBuy {
		return decimal.NewFromFloat(mid - offset)
	}
	return decimal.NewFromFloat(mid + offset)
}

package sched

import (
	"github.com/google/uuid"

	"github.com/fluxtrade/execpipe/internal/types"
)

// DMA sends the whole order out as one immediate slice. The slice is
// a shaded limit when the book shows a workable spread, a market
// order otherwise.
type DMA struct {
	pricing PricingConfig
	view    MarketView
}

// NewDMA creates a direct-market-access strategy.
func NewDMA(pricing PricingConfig, view MarketView) *DMA {
	return &DMA{pricing: pricing, view: view}
}

func (d *DMA) Algorithm() Algorithm { return AlgoDMA }

func (d *DMA) Slices(order *types.Order, _ int) ([]types.OrderSlice, error) {
	limit := slicePrice(d.view, order.Symbol, order.Side, d.pricing)
	typ := types.SliceMarket
	if !limit.IsZero() {
		typ = types.SliceLimit
	}
	return []types.OrderSlice{{
		ID:         uuid.New().String(),
		ParentID:   order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Size:       order.Quantity,
		TimeOffset: 0,
		Type:       typ,
		LimitPrice: limit,
	}}, nil
}

package sched

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// IcebergConfig holds visible-tip slicing parameters.
type IcebergConfig struct {
	// VisiblePct is the tip size as a fraction of the order.
	VisiblePct float64
	// RefreshInterval is the delay before the next tip goes out.
	RefreshInterval time.Duration
}

// DefaultIcebergConfig returns the standard iceberg parameters.
func DefaultIcebergConfig() IcebergConfig {
	return IcebergConfig{
		VisiblePct:      0.1,
		RefreshInterval: 5 * time.Second,
	}
}

// Iceberg hides order size behind a sequence of tip-sized slices,
// each released after the previous one has had time to work.
type Iceberg struct {
	cfg     IcebergConfig
	pricing PricingConfig
	view    MarketView
}

// NewIceberg creates an iceberg strategy.
func NewIceberg(cfg IcebergConfig, pricing PricingConfig, view MarketView) *Iceberg {
	if cfg.VisiblePct <= 0 || cfg.VisiblePct > 1 {
		cfg.VisiblePct = 0.1
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	return &Iceberg{cfg: cfg, pricing: pricing, view: view}
}

func (ic *Iceberg) Algorithm() Algorithm { return AlgoIceberg }

// Slices emits tip-sized slices until the order is covered. The tip
// is a fixed fraction of the total, so the slice count is shape-
// driven; the hint is ignored.
func (ic *Iceberg) Slices(order *types.Order, _ int) ([]types.OrderSlice, error) {
	tip := order.Quantity.Mul(decimal.NewFromFloat(ic.cfg.VisiblePct))
	limit := slicePrice(ic.view, order.Symbol, order.Side, ic.pricing)

	remaining := order.Quantity
	var slices []types.OrderSlice
	for i := 0; remaining.IsPositive(); i++ {
		size := decimal.Min(tip, remaining)
		slices = append(slices, types.OrderSlice{
			ID:         uuid.New().String(),
			ParentID:   order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Size:       size,
			TimeOffset: time.Duration(i) * ic.cfg.RefreshInterval,
			Type:       types.SliceIceberg,
			LimitPrice: limit,
		})
		remaining = remaining.Sub(size)
	}
	return slices, nil
}

package sched

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// VWAPConfig holds volume-weighted slicing parameters.
type VWAPConfig struct {
	Window               time.Duration // execution window the slices span
	MaxParticipationRate float64       // cap per slice vs concurrent volume
	MinExecutionPct      float64       // filled fraction counted as success
	// Profile is the intraday volume curve the slice sizes follow.
	// Empty uses the built-in U-shaped curve.
	Profile []float64
	// LiquidityBandPct is the band around mid whose resting size
	// stands in for concurrent market volume.
	LiquidityBandPct float64
}

// DefaultVWAPConfig returns the standard VWAP parameters.
func DefaultVWAPConfig() VWAPConfig {
	return VWAPConfig{
		Window:               time.Hour,
		MaxParticipationRate: 0.25,
		MinExecutionPct:      0.95,
		LiquidityBandPct:     0.005,
	}
}

// defaultProfile is a U-shaped intraday curve: volume concentrates
// at the open and the close.
var defaultProfile = []float64{0.20, 0.12, 0.08, 0.07, 0.07, 0.08, 0.13, 0.25}

// VWAP weights slice sizes by an intraday volume profile and caps
// each slice at a participation rate of the book's resting volume.
type VWAP struct {
	cfg     VWAPConfig
	pricing PricingConfig
	view    MarketView
}

// NewVWAP creates a VWAP strategy.
func NewVWAP(cfg VWAPConfig, pricing PricingConfig, view MarketView) *VWAP {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &VWAP{cfg: cfg, pricing: pricing, view: view}
}

func (v *VWAP) Algorithm() Algorithm { return AlgoVWAP }

// Slices spreads the order over the window following the volume
// profile. Overflow above the participation cap carries into later
// slices; what the profile cannot place continues past the window at
// the cap until the order is fully scheduled.
func (v *VWAP) Slices(order *types.Order, sliceHint int) ([]types.OrderSlice, error) {
	profile := v.cfg.Profile
	if len(profile) == 0 {
		profile = defaultProfile
	}
	if sliceHint > 0 && sliceHint != len(profile) {
		profile = rebucket(profile, sliceHint)
	}

	var total float64
	for _, w := range profile {
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: volume profile sums to zero", types.ErrInvalidConfig)
	}

	capQty := v.participationCap(order)
	n := len(profile)
	interval := v.cfg.Window / time.Duration(n)
	limit := slicePrice(v.view, order.Symbol, order.Side, v.pricing)

	remaining := order.Quantity
	carry := decimal.Zero
	slices := make([]types.OrderSlice, 0, n)

	emit := func(size decimal.Decimal, idx int) {
		slices = append(slices, types.OrderSlice{
			ID:         uuid.New().String(),
			ParentID:   order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Size:       size,
			TimeOffset: time.Duration(idx) * interval,
			Type:       types.SliceVWAP,
			LimitPrice: limit,
		})
		remaining = remaining.Sub(size)
	}

	for i := 0; i < n && remaining.IsPositive(); i++ {
		size := order.Quantity.Mul(decimal.NewFromFloat(profile[i] / total)).Add(carry)
		carry = decimal.Zero
		if i == n-1 && !capQty.IsPositive() {
			// Uncapped: the last slice absorbs rounding drift.
			size = remaining
		}
		if capQty.IsPositive() && size.GreaterThan(capQty) {
			carry = size.Sub(capQty)
			size = capQty
		}
		if size.GreaterThan(remaining) {
			size = remaining
		}
		if size.IsPositive() {
			emit(size, i)
		}
	}

	// Participation bound part of the order; keep going at the cap,
	// bounded so a thin book cannot run the schedule away.
	for j := n; remaining.IsPositive() && capQty.IsPositive(); j++ {
		if j >= 4*n {
			return nil, fmt.Errorf("%w: %s of %s unplaceable at %.0f%% participation",
				types.ErrInsufficientLiquidity, remaining, order.Quantity, v.cfg.MaxParticipationRate*100)
		}
		emit(decimal.Min(capQty, remaining), j)
	}

	return slices, nil
}

// participationCap converts the book's resting volume opposite the
// order into a per-slice size cap. Zero means no usable volume basis;
// slices then go uncapped.
func (v *VWAP) participationCap(order *types.Order) decimal.Decimal {
	if v.view == nil || v.cfg.MaxParticipationRate <= 0 {
		return decimal.Zero
	}
	bidLiq, askLiq := v.view.LiquidityWithin(order.Symbol, v.cfg.LiquidityBandPct)
	liq := askLiq
	if order.Side == types.SideSell {
		liq = bidLiq
	}
	if liq <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(liq * v.cfg.MaxParticipationRate)
}

// rebucket redistributes profile mass into m buckets, preserving the
// curve's shape through its cumulative distribution.
func rebucket(profile []float64, m int) []float64 {
	n := len(profile)
	if m <= 0 || m == n {
		return profile
	}
	var total float64
	for _, w := range profile {
		total += w
	}
	if total <= 0 {
		return profile
	}

	cdf := func(x float64) float64 {
		pos := x * float64(n)
		idx := int(pos)
		var acc float64
		for i := 0; i < idx && i < n; i++ {
			acc += profile[i]
		}
		if idx < n {
			acc += profile[idx] * (pos - float64(idx))
		}
		return acc / total
	}

	out := make([]float64, m)
	for j := 0; j < m; j++ {
		out[j] = cdf(float64(j+1)/float64(m)) - cdf(float64(j)/float64(m))
	}
	return out
}

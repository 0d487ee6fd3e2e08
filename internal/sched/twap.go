package sched

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// TWAPConfig holds time-weighted slicing parameters.
type TWAPConfig struct {
	Slices            int           // default slice count
	Interval          time.Duration // spacing between slices
	MaxIntervalJitter time.Duration // random addition per interval
	MinExecutionPct   float64       // filled fraction counted as success
	RandomizeSizes    bool
	SizeDeviationPct  float64 // ± size randomization (0.1 = 10%)
}

// DefaultTWAPConfig returns the standard TWAP parameters.
func DefaultTWAPConfig() TWAPConfig {
	return TWAPConfig{
		Slices:            5,
		Interval:          time.Minute,
		MaxIntervalJitter: 10 * time.Second,
		MinExecutionPct:   0.95,
		RandomizeSizes:    true,
		SizeDeviationPct:  0.1,
	}
}

// TWAP divides an order into equal slices at fixed intervals, with
// optional size and interval randomization to reduce detectability.
type TWAP struct {
	cfg     TWAPConfig
	pricing PricingConfig
	view    MarketView

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTWAP creates a TWAP strategy. Seed 0 seeds from the clock.
func NewTWAP(cfg TWAPConfig, pricing PricingConfig, view MarketView, seed int64) *TWAP {
	if cfg.Slices < 1 {
		cfg.Slices = 1
	}
	// Jitter larger than the interval would scramble the schedule.
	if cfg.MaxIntervalJitter > cfg.Interval {
		cfg.MaxIntervalJitter = cfg.Interval
	}
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &TWAP{
		cfg:     cfg,
		pricing: pricing,
		view:    view,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (t *TWAP) Algorithm() Algorithm { return AlgoTWAP }

// Slices divides the order quantity across the slice count. All but
// the last slice may be randomized ± SizeDeviationPct; the last
// absorbs the remainder so sizes always sum to the order quantity.
func (t *TWAP) Slices(order *types.Order, sliceHint int) ([]types.OrderSlice, error) {
	n := t.cfg.Slices
	if sliceHint > 0 {
		n = sliceHint
	}

	base := order.Quantity.Div(decimal.NewFromInt(int64(n)))
	remaining := order.Quantity
	slices := make([]types.OrderSlice, 0, n)
	prevOffset := time.Duration(-1)

	for i := 0; i < n && remaining.IsPositive(); i++ {
		size := base
		if t.cfg.RandomizeSizes && t.cfg.SizeDeviationPct > 0 && i < n-1 {
			factor := 1 + t.cfg.SizeDeviationPct*(2*t.randFloat()-1)
			size = base.Mul(decimal.NewFromFloat(factor))
		}
		if i == n-1 || size.GreaterThan(remaining) {
			size = remaining
		}

		offset := time.Duration(i) * t.cfg.Interval
		if i > 0 && t.cfg.MaxIntervalJitter > 0 {
			offset += t.randJitter()
		}
		// Offsets stay strictly increasing even under extreme jitter.
		if offset <= prevOffset {
			offset = prevOffset + time.Millisecond
		}
		prevOffset = offset

		slices = append(slices, types.OrderSlice{
			ID:         uuid.New().String(),
			ParentID:   order.ID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Size:       size,
			TimeOffset: offset,
			Type:       types.SliceTWAP,
			LimitPrice: slicePrice(t.view, order.Symbol, order.Side, t.pricing),
		})
		remaining = remaining.Sub(size)
	}

	return slices, nil
}

func (t *TWAP) randFloat() float64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Float64()
}

func (t *TWAP) randJitter() time.Duration {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return time.Duration(t.rng.Int63n(int64(t.cfg.MaxIntervalJitter) + 1))
}

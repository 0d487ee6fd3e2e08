// Package replay drives deterministic synthetic order flow through
// the pipeline and measures execution quality.
package replay

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// FlowConfig shapes the synthetic session.
type FlowConfig struct {
	Symbols []string
	Venues  []string
	// Seed fixes the whole flow; the same seed replays the same
	// session.
	Seed int64

	// BookLevels is the quoted depth per side.
	BookLevels int
	// SpreadBps sets the quoted spread around each mark.
	SpreadBps float64
	// WalkBps scales the per-step random walk of each mark.
	WalkBps float64

	// SmallQtyMax bounds ordinary order sizes. TWAPQty and VWAPQty
	// are the band floors for the larger orders; they should match
	// the scheduler's size thresholds.
	SmallQtyMax int
	TWAPQty     float64
	VWAPQty     float64

	// TWAPShare, VWAPShare and IcebergShare set how often the flow
	// emits orders in each band; the remainder stays small.
	TWAPShare    float64
	VWAPShare    float64
	IcebergShare float64
	// TightSlippageShare sets how often an order carries a 1 bps
	// slippage cap, exercising venue rotation.
	TightSlippageShare float64
}

// DefaultFlowConfig returns a mixed session: mostly small orders with
// occasional TWAP-, VWAP- and iceberg-sized ones.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Symbols:            []string{"DELTA-USD", "KAPPA-USD", "SIGMA-USD"},
		Venues:             []string{"sim-alpha", "sim-beta", "sim-gamma"},
		Seed:               42,
		BookLevels:         3,
		SpreadBps:          4,
		WalkBps:            8,
		SmallQtyMax:        400,
		TWAPQty:            1000,
		VWAPQty:            5000,
		TWAPShare:          0.08,
		VWAPShare:          0.03,
		IcebergShare:       0.05,
		TightSlippageShare: 0.10,
	}
}

// basePrices seed the walk; symbols beyond the list reuse it cyclically.
// Kept in the tens so the largest VWAP-band orders stay inside the
// default risk limits.
var basePrices = []float64{54, 23, 8, 36, 17}

// Mark is one reference-price sample.
type Mark struct {
	Symbol string
	Price  float64
}

// Tick is one book update.
type Tick struct {
	Symbol   string
	Price    float64
	Size     float64
	Side     types.Side
	UpdateID uint64
}

// Step is one flow iteration: fresh marks and quotes for every
// symbol, plus one order against them.
type Step struct {
	Marks []Mark
	Ticks []Tick
	Order *types.Order
}

// Flow generates the synthetic session. Not safe for concurrent use;
// one flow drives one replay.
type Flow struct {
	cfg        FlowConfig
	rng        *rand.Rand
	prices     map[string]float64
	quotedBids map[string][]float64
	quotedAsks map[string][]float64
	updateID   uint64
	orders     int
}

// NewFlow creates a flow. Zero-valued config fields fall back to the
// defaults.
func NewFlow(cfg FlowConfig) *Flow {
	def := DefaultFlowConfig()
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = def.Venues
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	if cfg.BookLevels <= 0 {
		cfg.BookLevels = def.BookLevels
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = def.SpreadBps
	}
	if cfg.WalkBps <= 0 {
		cfg.WalkBps = def.WalkBps
	}
	if cfg.SmallQtyMax <= 0 {
		cfg.SmallQtyMax = def.SmallQtyMax
	}
	if cfg.TWAPQty <= 0 {
		cfg.TWAPQty = def.TWAPQty
	}
	if cfg.VWAPQty <= cfg.TWAPQty {
		cfg.VWAPQty = cfg.TWAPQty * 5
	}

	prices := make(map[string]float64, len(cfg.Symbols))
	for i, sym := range cfg.Symbols {
		prices[sym] = basePrices[i%len(basePrices)]
	}

	return &Flow{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		prices:     prices,
		quotedBids: make(map[string][]float64, len(cfg.Symbols)),
		quotedAsks: make(map[string][]float64, len(cfg.Symbols)),
	}
}

// Orders returns how many orders the flow has emitted.
func (f *Flow) Orders() int { return f.orders }

// Next advances every symbol's price one step, requotes the books
// around the new marks, and draws one order.
func (f *Flow) Next() Step {
	step := Step{}
	for _, sym := range f.cfg.Symbols {
		px := f.walk(sym)
		step.Marks = append(step.Marks, Mark{Symbol: sym, Price: px})
		step.Ticks = append(step.Ticks, f.requote(sym, px)...)
	}
	step.Order = f.order()
	return step
}

// walk moves one symbol's price by a uniform step scaled by WalkBps.
func (f *Flow) walk(sym string) float64 {
	px := f.prices[sym]
	move := (f.rng.Float64() - 0.5) * 2 * f.cfg.WalkBps / 10000
	px = roundPrice(px * (1 + move))
	if px <= 0 {
		px = roundPrice(f.prices[sym])
	}
	f.prices[sym] = px
	return px
}

// requote clears the symbol's previous levels and quotes BookLevels
// fresh ones per side around the new mark. Old levels go out first so
// the new quotes can never cross a stale opposite side.
func (f *Flow) requote(sym string, px float64) []Tick {
	var ticks []Tick
	for _, old := range f.quotedBids[sym] {
		ticks = append(ticks, Tick{Symbol: sym, Price: old, Side: types.SideBuy, UpdateID: f.nextID()})
	}
	for _, old := range f.quotedAsks[sym] {
		ticks = append(ticks, Tick{Symbol: sym, Price: old, Side: types.SideSell, UpdateID: f.nextID()})
	}

	// Quotes snap to cents, so keep at least a one-cent half-spread
	// and level gap or low-priced symbols would cross themselves.
	half := math.Max(roundPrice(px*f.cfg.SpreadBps/10000/2), 0.01)
	step := math.Max(roundPrice(half/2), 0.01)
	bids := make([]float64, 0, f.cfg.BookLevels)
	asks := make([]float64, 0, f.cfg.BookLevels)
	for i := 0; i < f.cfg.BookLevels; i++ {
		bid := roundPrice(px - half - float64(i)*step)
		ask := roundPrice(px + half + float64(i)*step)
		bids = append(bids, bid)
		asks = append(asks, ask)
		size := 200 + f.rng.Float64()*800
		ticks = append(ticks,
			Tick{Symbol: sym, Price: bid, Size: size, Side: types.SideBuy, UpdateID: f.nextID()},
			Tick{Symbol: sym, Price: ask, Size: size, Side: types.SideSell, UpdateID: f.nextID()},
		)
	}
	f.quotedBids[sym] = bids
	f.quotedAsks[sym] = asks
	return ticks
}

// order draws one order against the current marks.
func (f *Flow) order() *types.Order {
	f.orders++
	sym := f.cfg.Symbols[f.rng.Intn(len(f.cfg.Symbols))]
	side := types.SideBuy
	if f.rng.Float64() < 0.5 {
		side = types.SideSell
	}

	var qty float64
	var params map[string]string
	switch r := f.rng.Float64(); {
	case r < f.cfg.VWAPShare:
		qty = f.cfg.VWAPQty * (1 + f.rng.Float64())
	case r < f.cfg.VWAPShare+f.cfg.TWAPShare:
		qty = f.cfg.TWAPQty + f.rng.Float64()*(f.cfg.VWAPQty-f.cfg.TWAPQty)
	case r < f.cfg.VWAPShare+f.cfg.TWAPShare+f.cfg.IcebergShare:
		qty = float64(1 + f.rng.Intn(f.cfg.SmallQtyMax))
		params = map[string]string{"executionMode": "Iceberg"}
	default:
		qty = float64(1 + f.rng.Intn(f.cfg.SmallQtyMax))
	}

	order := &types.Order{
		Symbol:   sym,
		Side:     side,
		Quantity: decimal.NewFromFloat(math.Floor(qty)),
		Price:    decimal.NewFromFloat(f.prices[sym]),
		Venues:   append([]string(nil), f.cfg.Venues...),
	}
	order.AdditionalParams = params
	if f.rng.Float64() < f.cfg.TightSlippageShare {
		order.MaxSlippage = decimal.NewFromFloat(0.0001)
	}
	return order
}

func (f *Flow) nextID() uint64 {
	f.updateID++
	return f.updateID
}

func roundPrice(px float64) float64 {
	return math.Round(px*100) / 100
}

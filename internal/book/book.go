// Package book implements a concurrent multi-symbol limit order book
// with cached depth snapshots and microstructure queries.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fluxtrade/execpipe/internal/types"
)

// UpdateKind classifies the effect of one book update.
type UpdateKind int

const (
	KindRejected UpdateKind = iota
	KindNew
	KindUpdate
	KindDelete
)

func (k UpdateKind) String() string {
	switch k {
	case KindNew:
		return "NEW"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	default:
		return "REJECTED"
	}
}

// PriceLevel is one resting level on one side of a book.
type PriceLevel struct {
	Price      float64
	Size       float64
	OrderCount int
	Updated    time.Time
}

// DepthSnapshot holds the top levels of both sides, bids highest-first
// and asks lowest-first.
type DepthSnapshot struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

func (s *DepthSnapshot) clone() *DepthSnapshot {
	out := &DepthSnapshot{
		Bids: make([]PriceLevel, len(s.Bids)),
		Asks: make([]PriceLevel, len(s.Asks)),
	}
	copy(out.Bids, s.Bids)
	copy(out.Asks, s.Asks)
	return out
}

// ladder is one side of the book: levels keyed by price plus an
// ascending sorted price index.
type ladder struct {
	levels map[float64]*PriceLevel
	prices []float64 // ascending
}

func newLadder() ladder {
	return ladder{levels: make(map[float64]*PriceLevel)}
}

func (l *ladder) insert(price float64, lvl *PriceLevel) {
	l.levels[price] = lvl
	i := sort.SearchFloat64s(l.prices, price)
	l.prices = append(l.prices, 0)
	copy(l.prices[i+1:], l.prices[i:])
	l.prices[i] = price
}

func (l *ladder) remove(price float64) bool {
	if _, ok := l.levels[price]; !ok {
		return false
	}
	delete(l.levels, price)
	i := sort.SearchFloat64s(l.prices, price)
	l.prices = append(l.prices[:i], l.prices[i+1:]...)
	return true
}

func (l *ladder) clear() {
	l.levels = make(map[float64]*PriceLevel)
	l.prices = l.prices[:0]
}

// Book is the order book for a single symbol. Prices are float64 by
// design: these are market-data levels, not accounting values. Writers
// are exclusive; readers may run concurrently with each other.
type Book struct {
	symbol string

	mu             sync.RWMutex
	bids           ladder
	asks           ladder
	lastUpdateID   uint64
	lastUpdateTime time.Time

	cacheMu sync.Mutex
	cache   map[int]*DepthSnapshot
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newLadder(),
		asks:   newLadder(),
		cache:  make(map[int]*DepthSnapshot),
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// ProcessUpdate applies one level update. A zero size deletes the
// level; otherwise the level is inserted or refreshed. An update that
// would cross the book (new bid at or above the best ask, or the
// reverse) is rejected without touching any state. Updates must be
// supplied in increasing updateID order per symbol; the book records
// the ID but does not reorder.
func (b *Book) ProcessUpdate(price, size float64, side types.Side, updateID uint64) (UpdateKind, error) {
	if side != types.SideBuy && side != types.SideSell {
		return KindRejected, fmt.Errorf("%w: side %v", types.ErrInvalidOrder, side)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lad := &b.bids
	if side == types.SideSell {
		lad = &b.asks
	}

	var kind UpdateKind
	switch {
	case size == 0:
		lad.remove(price)
		kind = KindDelete
	default:
		if lvl, ok := lad.levels[price]; ok {
			lvl.Size = size
			lvl.Updated = time.Now()
			kind = KindUpdate
		} else {
			if b.wouldCross(price, side) {
				return KindRejected, fmt.Errorf("%w: %s %s at %.8f", types.ErrCrossedUpdate, b.symbol, side, price)
			}
			lad.insert(price, &PriceLevel{
				Price:      price,
				Size:       size,
				OrderCount: 1,
				Updated:    time.Now(),
			})
			kind = KindNew
		}
	}

	b.lastUpdateID = updateID
	b.lastUpdateTime = time.Now()
	b.invalidate()
	return kind, nil
}

// wouldCross reports whether inserting a new level at price on side
// would violate best bid < best ask. Caller holds b.mu.
func (b *Book) wouldCross(price float64, side types.Side) bool {
	if side == types.SideBuy {
		if n := len(b.asks.prices); n > 0 {
			return price >= b.asks.prices[0]
		}
		return false
	}
	if n := len(b.bids.prices); n > 0 {
		return price <= b.bids.prices[n-1]
	}
	return false
}

func (b *Book) invalidate() {
	b.cacheMu.Lock()
	clear(b.cache)
	b.cacheMu.Unlock()
}

// BestBid returns the highest bid price, if any.
func (b *Book) BestBid() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n := len(b.bids.prices); n > 0 {
		return b.bids.prices[n-1], true
	}
	return 0, false
}

// BestAsk returns the lowest ask price, if any.
func (b *Book) BestAsk() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks.prices) > 0 {
		return b.asks.prices[0], true
	}
	return 0, false
}

// MidPrice returns (best bid + best ask) / 2. False when either side
// is empty.
func (b *Book) MidPrice() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midLocked()
}

func (b *Book) midLocked() (float64, bool) {
	nb, na := len(b.bids.prices), len(b.asks.prices)
	if nb == 0 || na == 0 {
		return 0, false
	}
	return (b.bids.prices[nb-1] + b.asks.prices[0]) / 2, true
}

// Spread returns best ask − best bid. False when either side is empty.
func (b *Book) Spread() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nb, na := len(b.bids.prices), len(b.asks.prices)
	if nb == 0 || na == 0 {
		return 0, false
	}
	return b.asks.prices[0] - b.bids.prices[nb-1], true
}

// Depth returns up to n levels per side, bids highest-first and asks
// lowest-first. Snapshots are cached per requested depth and
// invalidated on every book mutation.
func (b *Book) Depth(n int) *DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.cacheMu.Lock()
	if snap, ok := b.cache[n]; ok {
		out := snap.clone()
		b.cacheMu.Unlock()
		return out
	}
	b.cacheMu.Unlock()

	snap := &DepthSnapshot{}
	for i := len(b.bids.prices) - 1; i >= 0 && len(snap.Bids) < n; i-- {
		snap.Bids = append(snap.Bids, *b.bids.levels[b.bids.prices[i]])
	}
	for i := 0; i < len(b.asks.prices) && len(snap.Asks) < n; i++ {
		snap.Asks = append(snap.Asks, *b.asks.levels[b.asks.prices[i]])
	}

	b.cacheMu.Lock()
	b.cache[n] = snap.clone()
	b.cacheMu.Unlock()
	return snap
}

// Imbalance returns (bidVol − askVol) / (bidVol + askVol) over the top
// depth levels, in [-1, 1]. Zero when both sides are empty.
func (b *Book) Imbalance(depth int) float64 {
	snap := b.Depth(depth)

	var bidVol, askVol float64
	for _, lvl := range snap.Bids {
		bidVol += lvl.Size
	}
	for _, lvl := range snap.Asks {
		askVol += lvl.Size
	}

	if bidVol+askVol == 0 {
		return 0
	}
	return (bidVol - askVol) / (bidVol + askVol)
}

// VWAPForSize returns the volume-weighted average fill price for a
// hypothetical order of the given size: a buy walks the asks from the
// lowest, a sell walks the bids from the highest. If the book cannot
// fill the full size the call fails with ErrInsufficientLiquidity.
func (b *Book) VWAPForSize(size float64, side types.Side) (float64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: vwap size %.8f", types.ErrInvalidSize, size)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	remaining := size
	var weightedSum, filled float64

	walk := func(lvl *PriceLevel) {
		fill := lvl.Size
		if remaining < fill {
			fill = remaining
		}
		weightedSum += fill * lvl.Price
		filled += fill
		remaining -= fill
	}

	if side == types.SideBuy {
		for _, p := range b.asks.prices {
			walk(b.asks.levels[p])
			if remaining <= 0 {
				break
			}
		}
	} else {
		for i := len(b.bids.prices) - 1; i >= 0; i-- {
			walk(b.bids.levels[b.bids.prices[i]])
			if remaining <= 0 {
				break
			}
		}
	}

	if remaining > 0 {
		return 0, fmt.Errorf("%w: %s %s size %.8f, filled %.8f",
			types.ErrInsufficientLiquidity, b.symbol, side, size, filled)
	}
	return weightedSum / filled, nil
}

// LiquidityWithin returns the resting bid and ask size within ±pct of
// the mid price. Both zero when the book has no mid.
func (b *Book) LiquidityWithin(pct float64) (bidLiq, askLiq float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	mid, ok := b.midLocked()
	if !ok {
		return 0, 0
	}

	band := mid * pct
	minPrice, maxPrice := mid-band, mid+band

	for _, p := range b.bids.prices {
		if p >= minPrice {
			bidLiq += b.bids.levels[p].Size
		}
	}
	for _, p := range b.asks.prices {
		if p > maxPrice {
			break
		}
		askLiq += b.asks.levels[p].Size
	}
	return bidLiq, askLiq
}

// LastUpdateID returns the most recently applied update sequence.
func (b *Book) LastUpdateID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// LastUpdateTime returns when the book last changed.
func (b *Book) LastUpdateTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateTime
}

// Clear removes every level from both sides.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.clear()
	b.asks.clear()
	b.invalidate()
}

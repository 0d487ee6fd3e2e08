package book

import (
	"fmt"
	"sync"

	"github.com/fluxtrade/execpipe/internal/types"
)

// Update is one inbound book tick.
type Update struct {
	Price    float64
	Size     float64
	Side     types.Side
	UpdateID uint64
}

// Manager owns one Book per symbol. Books are created lazily on first
// reference and removed only administratively. Unrelated symbols never
// contend: the manager lock covers only the symbol map, each book
// carries its own synchronization.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{books: make(map[string]*Book)}
}

// Get returns the book for symbol, creating it if needed.
func (m *Manager) Get(symbol string) *Book {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b
	}
	b = New(symbol)
	m.books[symbol] = b
	return b
}

// Lookup returns the book for symbol without creating one.
func (m *Manager) Lookup(symbol string) (*Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[symbol]
	return b, ok
}

// ProcessUpdate dispatches one tick to the symbol's book.
func (m *Manager) ProcessUpdate(symbol string, price, size float64, side types.Side, updateID uint64) (UpdateKind, error) {
	return m.Get(symbol).ProcessUpdate(price, size, side, updateID)
}

// ProcessBatch applies updates in order to the symbol's book and
// returns the per-update kinds. A rejected update does not stop the
// batch; its kind is recorded and the rest still apply.
func (m *Manager) ProcessBatch(symbol string, updates []Update) []UpdateKind {
	b := m.Get(symbol)
	kinds := make([]UpdateKind, 0, len(updates))
	for _, u := range updates {
		kind, _ := b.ProcessUpdate(u.Price, u.Size, u.Side, u.UpdateID)
		kinds = append(kinds, kind)
	}
	return kinds
}

// Snapshot returns a depth snapshot for symbol, or an error when the
// symbol has no book.
func (m *Manager) Snapshot(symbol string, depth int) (*DepthSnapshot, error) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownSymbol, symbol)
	}
	return b.Depth(depth), nil
}

// MidPrice returns the mid price for symbol.
func (m *Manager) MidPrice(symbol string) (float64, bool) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return 0, false
	}
	return b.MidPrice()
}

// Spread returns the bid-ask spread for symbol.
func (m *Manager) Spread(symbol string) (float64, bool) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return 0, false
	}
	return b.Spread()
}

// LiquidityWithin sums resting size within pct of mid on each side of
// the symbol's book.
func (m *Manager) LiquidityWithin(symbol string, pct float64) (bidLiq, askLiq float64) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return 0, 0
	}
	return b.LiquidityWithin(pct)
}

// Imbalance returns the order-flow imbalance for symbol over depth.
func (m *Manager) Imbalance(symbol string, depth int) (float64, error) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrUnknownSymbol, symbol)
	}
	return b.Imbalance(depth), nil
}

// VWAPForSize returns the walk-the-book average fill price for symbol.
func (m *Manager) VWAPForSize(symbol string, size float64, side types.Side) (float64, error) {
	b, ok := m.Lookup(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrUnknownSymbol, symbol)
	}
	return b.VWAPForSize(size, side)
}

// Symbols lists every symbol with an active book.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	return out
}

// Remove drops the book for symbol. Returns false when absent.
func (m *Manager) Remove(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[symbol]; !ok {
		return false
	}
	delete(m.books, symbol)
	return true
}

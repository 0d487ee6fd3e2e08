package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// Config holds position limits and the starting cash balance.
type Config struct {
	// MaxPositionPerSymbol overrides DefaultMaxPosition per symbol.
	MaxPositionPerSymbol map[string]decimal.Decimal
	DefaultMaxPosition   decimal.Decimal
	MaxTotalExposure     decimal.Decimal
	InitialCashBalance   decimal.Decimal
}

// DefaultConfig returns the stock limit set.
func DefaultConfig() Config {
	return Config{
		MaxPositionPerSymbol: make(map[string]decimal.Decimal),
		DefaultMaxPosition:   decimal.NewFromInt(10),
		MaxTotalExposure:     decimal.NewFromInt(100),
		InitialCashBalance:   decimal.NewFromInt(1000),
	}
}

// symbolLimit returns the per-symbol cap, falling back to the default.
func (c Config) symbolLimit(symbol string) decimal.Decimal {
	if limit, ok := c.MaxPositionPerSymbol[symbol]; ok {
		return limit
	}
	return c.DefaultMaxPosition
}

// agentEntry pairs one agent's book of positions with its own lock, so
// unrelated agents never contend.
type agentEntry struct {
	mu         sync.RWMutex
	agentID    string
	cash       decimal.Decimal
	positions  map[string]*position
	lastUpdate time.Time
}

// AgentSnapshot is a read-only copy of one agent's state.
type AgentSnapshot struct {
	AgentID     string
	CashBalance decimal.Decimal
	Positions   map[string]PositionSnapshot
	LastUpdate  time.Time
}

// Ledger is the position/PnL book for all agents. The outer lock
// covers only the agent map; every agent entry carries its own lock,
// so reads of one agent run concurrently with writes to another.
type Ledger struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]*agentEntry

	priceMu sync.RWMutex
	prices  map[string]decimal.Decimal
}

// New creates a ledger with the given limits.
func New(cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPositionPerSymbol == nil {
		cfg.MaxPositionPerSymbol = make(map[string]decimal.Decimal)
	}
	return &Ledger{
		cfg:    cfg,
		logger: logger,
		agents: make(map[string]*agentEntry),
		prices: make(map[string]decimal.Decimal),
	}
}

func (l *Ledger) entry(agentID string) *agentEntry {
	l.mu.RLock()
	e, ok := l.agents[agentID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.agents[agentID]; ok {
		return e
	}
	e = &agentEntry{
		agentID:   agentID,
		cash:      l.cfg.InitialCashBalance,
		positions: make(map[string]*position),
	}
	l.agents[agentID] = e
	return e
}

func (l *Ledger) lookup(agentID string) (*agentEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.agents[agentID]
	return e, ok
}

// UpdatePosition folds one order or fill into the agent's book and
// returns the realized PnL delta (zero for open-order entries). Size
// and price must be strictly positive; invalid input is rejected
// before any state, including the price cache, is touched.
func (l *Ledger) UpdatePosition(agentID string, f types.Fill) (decimal.Decimal, error) {
	if f.Size.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: size %s", types.ErrInvalidSize, f.Size)
	}
	if f.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: price %s", types.ErrInvalidPrice, f.Price)
	}
	if f.Side != types.SideBuy && f.Side != types.SideSell {
		return decimal.Zero, fmt.Errorf("%w: side %v", types.ErrInvalidOrder, f.Side)
	}

	l.priceMu.Lock()
	l.prices[f.Symbol] = f.Price
	l.priceMu.Unlock()

	e := l.entry(agentID)
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[f.Symbol]
	if !ok {
		pos = newPosition(f.Symbol)
		e.positions[f.Symbol] = pos
	}

	realized := pos.apply(f)
	if f.IsFill {
		notional := f.Size.Mul(f.Price)
		if f.Side == types.SideBuy {
			e.cash = e.cash.Sub(notional)
		} else {
			e.cash = e.cash.Add(notional)
		}
	}
	e.lastUpdate = time.Now()

	l.logger.Debug("position updated",
		"agent", agentID,
		"symbol", f.Symbol,
		"side", f.Side.String(),
		"size", f.Size.String(),
		"price", f.Price.String(),
		"is_fill", f.IsFill,
		"net", pos.netSize.String(),
		"realized_delta", realized.String(),
	)
	return realized, nil
}

// MarkPrice refreshes the cached mark for symbol and the unrealized
// PnL of every position holding it.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal) error {
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: mark %s", types.ErrInvalidPrice, price)
	}

	l.priceMu.Lock()
	l.prices[symbol] = price
	l.priceMu.Unlock()

	l.mu.RLock()
	entries := make([]*agentEntry, 0, len(l.agents))
	for _, e := range l.agents {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if pos, ok := e.positions[symbol]; ok {
			pos.mark(price)
		}
		e.mu.Unlock()
	}
	return nil
}

// price returns the cached mark for symbol.
func (l *Ledger) price(symbol string) (decimal.Decimal, bool) {
	l.priceMu.RLock()
	defer l.priceMu.RUnlock()
	p, ok := l.prices[symbol]
	return p, ok
}

// CheckLimits reports whether a hypothetical fill would breach the
// per-symbol position limit or the portfolio exposure limit. The fill
// is simulated against a private copy; live state is never mutated. An
// agent with no book yet is treated as flat.
func (l *Ledger) CheckLimits(agentID, symbol string, side types.Side, size decimal.Decimal) (bool, error) {
	if size.LessThanOrEqual(decimal.Zero) {
		return false, fmt.Errorf("%w: size %s", types.ErrInvalidSize, size)
	}

	price, ok := l.price(symbol)
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return false, fmt.Errorf("%w: no price for %s", types.ErrInvalidPrice, symbol)
	}
	limit := l.cfg.symbolLimit(symbol)

	e, ok := l.lookup(agentID)
	if !ok {
		// Flat agent: only the order itself counts.
		exceedsSymbol := size.GreaterThan(limit)
		exceedsTotal := size.Mul(price).GreaterThan(l.cfg.MaxTotalExposure)
		return exceedsSymbol || exceedsTotal, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	exceedsSymbol := false
	if pos, ok := e.positions[symbol]; ok {
		exceedsSymbol = pos.wouldExceed(side, size, limit)
	} else {
		exceedsSymbol = size.GreaterThan(limit)
	}

	// Simulate the fill on a copy to price the hypothetical exposure.
	sim := make(map[string]*position, len(e.positions)+1)
	for s, pos := range e.positions {
		sim[s] = pos.clone()
	}
	simPos, ok := sim[symbol]
	if !ok {
		simPos = newPosition(symbol)
		sim[symbol] = simPos
	}
	simPos.apply(types.Fill{
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     price,
		Timestamp: time.Now(),
		OrderID:   "hypothetical",
		IsFill:    true,
	})

	l.priceMu.RLock()
	exposure := decimal.Zero
	for s, pos := range sim {
		if p, ok := l.prices[s]; ok {
			exposure = exposure.Add(pos.value(p))
		}
	}
	l.priceMu.RUnlock()

	return exceedsSymbol || exposure.GreaterThan(l.cfg.MaxTotalExposure), nil
}

// Exposure returns the agent's gross exposure priced at current marks.
// Symbols without a cached mark contribute nothing.
func (l *Ledger) Exposure(agentID string) (decimal.Decimal, error) {
	e, ok := l.lookup(agentID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	l.priceMu.RLock()
	defer l.priceMu.RUnlock()

	total := decimal.Zero
	for symbol, pos := range e.positions {
		if p, ok := l.prices[symbol]; ok {
			total = total.Add(pos.value(p))
		}
	}
	return total, nil
}

// SymbolExposure returns |net| × mark for one symbol.
func (l *Ledger) SymbolExposure(agentID, symbol string) (decimal.Decimal, error) {
	e, ok := l.lookup(agentID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}
	price, ok := l.price(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", types.ErrInvalidPrice, symbol)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if pos, ok := e.positions[symbol]; ok {
		return pos.value(price), nil
	}
	return decimal.Zero, nil
}

// TotalPnL returns realized plus unrealized PnL across the agent's
// book, marking each position against current prices on a copy.
func (l *Ledger) TotalPnL(agentID string) (decimal.Decimal, error) {
	e, ok := l.lookup(agentID)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for symbol, pos := range e.positions {
		total = total.Add(pos.realized)
		if p, ok := l.price(symbol); ok {
			c := pos.clone()
			c.mark(p)
			total = total.Add(c.unrealized)
		}
	}
	return total, nil
}

// Position returns a snapshot of the whole agent book.
func (l *Ledger) Position(agentID string) (AgentSnapshot, error) {
	e, ok := l.lookup(agentID)
	if !ok {
		return AgentSnapshot{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := AgentSnapshot{
		AgentID:     e.agentID,
		CashBalance: e.cash,
		Positions:   make(map[string]PositionSnapshot, len(e.positions)),
		LastUpdate:  e.lastUpdate,
	}
	for symbol, pos := range e.positions {
		snap.Positions[symbol] = pos.snapshot()
	}
	return snap, nil
}

// SymbolPosition returns a snapshot of one symbol position.
func (l *Ledger) SymbolPosition(agentID, symbol string) (PositionSnapshot, error) {
	e, ok := l.lookup(agentID)
	if !ok {
		return PositionSnapshot{}, fmt.Errorf("%w: %s", types.ErrUnknownAgent, agentID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return PositionSnapshot{}, fmt.Errorf("%w: %s has no %s position", types.ErrUnknownAgent, agentID, symbol)
	}
	return pos.snapshot(), nil
}

// OpenOrders returns the tracked open-order entries for one symbol.
func (l *Ledger) OpenOrders(agentID, symbol string) []types.Fill {
	e, ok := l.lookup(agentID)
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return nil
	}
	out := make([]types.Fill, 0, len(pos.openOrders))
	for _, f := range pos.openOrders {
		out = append(out, f)
	}
	return out
}

// Agents lists every agent with a book.
func (l *Ledger) Agents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.agents))
	for id := range l.agents {
		out = append(out, id)
	}
	return out
}

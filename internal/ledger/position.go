// Package ledger tracks per-agent positions, cash, and PnL with
// decimal precision, and answers hypothetical limit checks without
// mutating live state.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// maxFillHistory bounds the per-position recent fill buffer.
const maxFillHistory = 100

// position is the mutable per-symbol state. All writes go through
// apply; callers hold the owning agent's lock.
type position struct {
	symbol     string
	netSize    decimal.Decimal
	avgPrice   decimal.Decimal
	realized   decimal.Decimal
	unrealized decimal.Decimal
	lastUpdate time.Time
	openOrders map[string]types.Fill
	fills      []types.Fill
}

func newPosition(symbol string) *position {
	return &position{
		symbol:     symbol,
		openOrders: make(map[string]types.Fill),
	}
}

// apply folds one order or fill into the position and returns the
// realized PnL delta. Open-order entries are stored and move nothing.
//
// Fill accounting: growing the position in its current direction
// blends the average price by size; shrinking realizes
// closedSize × (price − avg), signed by position direction; crossing
// through flat realizes the whole old position and restarts the
// average at the crossing fill's price.
func (p *position) apply(f types.Fill) decimal.Decimal {
	p.lastUpdate = f.Timestamp
	if p.lastUpdate.IsZero() {
		p.lastUpdate = time.Now()
	}

	if !f.IsFill {
		p.openOrders[f.OrderID] = f
		return decimal.Zero
	}

	// A fill consumes its originating open order, if tracked.
	delete(p.openOrders, f.OrderID)

	signed := f.Size
	if f.Side == types.SideSell {
		signed = f.Size.Neg()
	}

	oldNet := p.netSize
	newNet := oldNet.Add(signed)
	var realizedDelta decimal.Decimal

	switch {
	case oldNet.IsZero():
		// Opening from flat.
		p.avgPrice = f.Price

	case oldNet.Sign() == signed.Sign():
		// Growing: size-weighted average price blend.
		oldAbs := oldNet.Abs()
		totalAbs := oldAbs.Add(f.Size)
		p.avgPrice = oldAbs.Mul(p.avgPrice).Add(f.Size.Mul(f.Price)).Div(totalAbs)

	case newNet.Sign() == oldNet.Sign() || newNet.IsZero():
		// Shrinking toward flat: realize on the closed size.
		realizedDelta = p.realizeClose(f.Size, f.Price, oldNet.Sign())
		if newNet.IsZero() {
			p.avgPrice = decimal.Zero
		}

	default:
		// Crossing through flat: close the whole old position, then
		// restart the average at the crossing fill's price.
		realizedDelta = p.realizeClose(oldNet.Abs(), f.Price, oldNet.Sign())
		p.avgPrice = f.Price
	}

	p.netSize = newNet
	p.realized = p.realized.Add(realizedDelta)

	p.fills = append(p.fills, f)
	if len(p.fills) > maxFillHistory {
		p.fills = p.fills[len(p.fills)-maxFillHistory:]
	}
	return realizedDelta
}

// realizeClose returns the PnL realized by closing closedSize at
// price. dir is the sign of the position being closed: +1 long closes
// at (price − avg), −1 short closes at (avg − price).
func (p *position) realizeClose(closedSize, price decimal.Decimal, dir int) decimal.Decimal {
	diff := price.Sub(p.avgPrice)
	if dir < 0 {
		diff = diff.Neg()
	}
	return closedSize.Mul(diff)
}

// mark recomputes unrealized PnL against the supplied price. The value
// is only valid immediately after a mark; it is not kept fresh.
func (p *position) mark(price decimal.Decimal) {
	if p.netSize.IsZero() {
		p.unrealized = decimal.Zero
		return
	}
	p.unrealized = p.netSize.Mul(price.Sub(p.avgPrice))
}

// value returns |net| × price, the gross exposure at price.
func (p *position) value(price decimal.Decimal) decimal.Decimal {
	return p.netSize.Abs().Mul(price)
}

// wouldExceed reports whether a hypothetical fill pushes |net| past
// limit.
func (p *position) wouldExceed(side types.Side, size, limit decimal.Decimal) bool {
	signed := size
	if side == types.SideSell {
		signed = size.Neg()
	}
	return p.netSize.Add(signed).Abs().GreaterThan(limit)
}

// snapshot returns an exported copy of the position state.
func (p *position) snapshot() PositionSnapshot {
	return PositionSnapshot{
		Symbol:        p.symbol,
		NetSize:       p.netSize,
		AveragePrice:  p.avgPrice,
		RealizedPnL:   p.realized,
		UnrealizedPnL: p.unrealized,
		LastUpdate:    p.lastUpdate,
		OpenOrders:    len(p.openOrders),
		RecentFills:   len(p.fills),
	}
}

// clone copies the accounting fields for hypothetical simulation. The
// fill history and open orders are not needed there and stay shared-
// nothing (empty).
func (p *position) clone() *position {
	return &position{
		symbol:     p.symbol,
		netSize:    p.netSize,
		avgPrice:   p.avgPrice,
		realized:   p.realized,
		unrealized: p.unrealized,
		lastUpdate: p.lastUpdate,
		openOrders: make(map[string]types.Fill),
	}
}

// PositionSnapshot is a read-only copy of one symbol position.
type PositionSnapshot struct {
	Symbol        string
	NetSize       decimal.Decimal
	AveragePrice  decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	LastUpdate    time.Time
	OpenOrders    int
	RecentFills   int
}

// Direction returns the position side: buy for long, sell for short,
// none when flat.
func (s PositionSnapshot) Direction() types.Side {
	switch s.NetSize.Sign() {
	case 1:
		return types.SideBuy
	case -1:
		return types.SideSell
	default:
		return types.SideNone
	}
}

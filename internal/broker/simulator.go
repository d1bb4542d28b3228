// Package broker models simulated execution: slippage-adjusted fill prices,
// commissions and position sizing.
package broker

import (
	"math"

	"tradesim/internal/domain"
)

// Costs holds the friction parameters applied to every simulated fill.
type Costs struct {
	FlatCommission float64 // per fill, in currency
	PctCommission  float64 // fraction of notional
	Slippage       float64 // fraction of reference price
}

// SimulatorBroker fills orders at the reference price adjusted by slippage
// and charges commissions. It holds no account state; cash and positions
// belong to the engines.
type SimulatorBroker struct {
	costs Costs
}

// NewSimulatorBroker creates a SimulatorBroker with the given frictions.
func NewSimulatorBroker(costs Costs) *SimulatorBroker {
	return &SimulatorBroker{costs: costs}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Costs returns the broker's friction parameters.
func (b *SimulatorBroker) Costs() Costs {
	return b.costs
}

// EntryPrice returns the fill price for opening a position on side. Slippage
// always moves the fill against the trader.
func (b *SimulatorBroker) EntryPrice(side domain.PositionSide, ref float64) float64 {
	if side == domain.PositionSideShort {
		return ref * (1 - b.costs.Slippage)
	}
	return ref * (1 + b.costs.Slippage)
}

// ExitPrice returns the fill price for closing a position on side.
func (b *SimulatorBroker) ExitPrice(side domain.PositionSide, ref float64) float64 {
	if side == domain.PositionSideShort {
		return ref * (1 + b.costs.Slippage)
	}
	return ref * (1 - b.costs.Slippage)
}

// Commission returns the fee charged on a fill of the given notional value.
func (b *SimulatorBroker) Commission(notional float64) float64 {
	return b.costs.FlatCommission + math.Abs(notional)*b.costs.PctCommission
}

// Quantity sizes an entry so that price*qty plus commission does not exceed
// capital. The flat fee is reserved before sizing. A non-positive result
// means the entry cannot be afforded.
func (b *SimulatorBroker) Quantity(capital, price float64) float64 {
	if price <= 0 {
		return 0
	}
	spendable := capital - b.costs.FlatCommission
	if spendable <= 0 {
		return 0
	}
	return spendable / (price * (1 + b.costs.PctCommission))
}

// Fill is the priced result of an entry.
type Fill struct {
	Side       domain.PositionSide
	Price      float64
	Quantity   float64
	Value      float64
	Commission float64
}

// Cost returns the total cash consumed by the fill.
func (f Fill) Cost() float64 {
	return f.Value + f.Commission
}

// Enter prices and sizes an entry at reference price ref using up to capital.
// ok is false when the resulting quantity is not positive or the total cost
// exceeds cash.
func (b *SimulatorBroker) Enter(side domain.PositionSide, ref, capital, cash float64) (Fill, bool) {
	price := b.EntryPrice(side, ref)
	qty := b.Quantity(capital, price)
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Fill{}, false
	}
	value := price * qty
	f := Fill{Side: side, Price: price, Quantity: qty, Value: value, Commission: b.Commission(value)}
	if f.Cost() > cash+costEpsilon {
		return Fill{}, false
	}
	return f, true
}

// costEpsilon absorbs rounding when sizing against the full cash balance.
const costEpsilon = 1e-9

// Close settles pos at reference price ref and returns the resulting trade
// together with the cash returned to the account. Proceeds always satisfy
// proceeds = EntryValue + EntryCommission + PnL, so crediting them restores
// the amount reserved at entry plus the realised result.
func (b *SimulatorBroker) Close(pos *domain.Position, ts int64, ref float64, reinvested bool, exit domain.Signal) (domain.Trade, float64) {
	price := b.ExitPrice(pos.Side, ref)
	exitValue := price * pos.Quantity
	comm := b.Commission(exitValue)

	var proceeds float64
	if pos.Side == domain.PositionSideShort {
		proceeds = pos.EntryValue + (pos.EntryPrice-price)*pos.Quantity - comm + pos.DividendIncome
	} else {
		proceeds = exitValue - comm
		if !reinvested {
			proceeds += pos.DividendIncome
		}
	}
	pnl := proceeds - pos.EntryValue - pos.EntryCommission

	ret := 0.0
	if cost := pos.EntryValue + pos.EntryCommission; cost > 0 {
		ret = pnl / cost * 100
	}
	t := domain.Trade{
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryTimestamp:  pos.EntryTimestamp,
		ExitTimestamp:   ts,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        pos.Quantity,
		EntryCommission: pos.EntryCommission,
		ExitCommission:  comm,
		DividendIncome:  pos.DividendIncome,
		PnL:             pnl,
		ReturnPct:       ret,
		EntrySignal:     pos.EntrySignal,
		ExitSignal:      exit,
	}
	return t, proceeds
}

// Package domain defines the core value types shared by the simulation
// engines, strategies, stores, and reporting layers.
package domain

import "time"

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Candle is a single OHLCV bar. Timestamp is Unix seconds. Sequences of
// candles are expected in ascending timestamp order.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	AdjClose  *float64
}

// Time returns the candle timestamp as a UTC time.Time.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// Dividend is a cash distribution of Amount per share with the given
// ex-dividend timestamp (Unix seconds).
type Dividend struct {
	Timestamp int64
	Amount    float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalDirection is the intent carried by a Signal.
type SignalDirection string

const (
	SignalLong  SignalDirection = "long"
	SignalShort SignalDirection = "short"
	SignalExit  SignalDirection = "exit"
	SignalHold  SignalDirection = "hold"
)

// IsEntry reports whether the direction opens a position.
func (d SignalDirection) IsEntry() bool {
	return d == SignalLong || d == SignalShort
}

// Signal is a strategy's decision for one bar.
type Signal struct {
	Direction SignalDirection
	Timestamp int64
	Price     float64
	Strength  float64 // 0..1
	Reason    string
}

// NewSignal creates a full-strength signal.
func NewSignal(dir SignalDirection, ts int64, price float64) Signal {
	return Signal{Direction: dir, Timestamp: ts, Price: price, Strength: 1}
}

// HoldSignal returns a signal that requests no action.
func HoldSignal(ts int64, price float64) Signal {
	return NewSignal(SignalHold, ts, price)
}

// WithStrength returns a copy of s with Strength clamped to [0, 1].
func (s Signal) WithStrength(strength float64) Signal {
	switch {
	case strength < 0:
		strength = 0
	case strength > 1:
		strength = 1
	}
	s.Strength = strength
	return s
}

// WithReason returns a copy of s with the given reason.
func (s Signal) WithReason(reason string) Signal {
	s.Reason = reason
	return s
}

// SignalRecord is the audit-log entry for a signal the engine saw, whether or
// not it was acted on.
type SignalRecord struct {
	Symbol   string
	Signal   Signal
	Executed bool
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Sign returns +1 for long and -1 for short.
func (s PositionSide) Sign() float64 {
	if s == PositionSideShort {
		return -1
	}
	return 1
}

// Position is an open position owned by an engine run.
type Position struct {
	Symbol          string
	Side            PositionSide
	EntryTimestamp  int64
	EntryPrice      float64
	Quantity        float64
	EntryValue      float64 // cash reserved at entry, excluding commission
	EntryCommission float64
	DividendIncome  float64
	EntrySignal     Signal
}

// MarketValue returns the position's mark-to-market value at price. A long is
// worth price*qty. A short is worth its reserved entry value plus the
// unrealized gain (entry-price)*qty. Accrued dividend income is included
// unless it was reinvested into quantity.
func (p *Position) MarketValue(price float64, reinvested bool) float64 {
	var v float64
	if p.Side == PositionSideShort {
		v = p.EntryValue + (p.EntryPrice-price)*p.Quantity
	} else {
		v = price * p.Quantity
	}
	if !reinvested || p.Side == PositionSideShort {
		v += p.DividendIncome
	}
	return v
}

// UnrealizedPnL returns the profit the position would realize at price,
// ignoring exit costs.
func (p *Position) UnrealizedPnL(price float64, reinvested bool) float64 {
	return p.MarketValue(price, reinvested) - p.EntryValue - p.EntryCommission
}

// Trade is the immutable record of a closed position.
type Trade struct {
	Symbol          string
	Side            PositionSide
	EntryTimestamp  int64
	ExitTimestamp   int64
	EntryPrice      float64
	ExitPrice       float64
	Quantity        float64
	EntryCommission float64
	ExitCommission  float64
	DividendIncome  float64
	PnL             float64
	ReturnPct       float64
	EntrySignal     Signal
	ExitSignal      Signal
}

// IsWin reports whether the trade closed with a positive P&L.
func (t Trade) IsWin() bool { return t.PnL > 0 }

// HoldingSeconds returns how long the position was open.
func (t Trade) HoldingSeconds() int64 { return t.ExitTimestamp - t.EntryTimestamp }

// ---------------------------------------------------------------------------
// Curves and snapshots
// ---------------------------------------------------------------------------

// EquityPoint is one sample of an equity curve.
type EquityPoint struct {
	Timestamp int64
	Equity    float64
	Drawdown  float64 // fraction below running peak
}

// AllocationSnapshot records how portfolio capital is split at a timestamp.
type AllocationSnapshot struct {
	Timestamp int64
	Cash      float64
	Positions map[string]float64 // symbol -> market value
}

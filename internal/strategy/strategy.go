// Package strategy defines the Strategy interface consumed by the backtest
// engines and provides a Registry for building strategies by name.
package strategy

import (
	"fmt"
	"sort"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// WarmupPeriod returns the number of leading bars the strategy needs
	// before it can produce meaningful signals.
	WarmupPeriod() int

	// RequiredIndicators returns the indicators the engine must precompute
	// before the run starts.
	RequiredIndicators() []indicator.Requirement

	// OnCandle is called once per evaluated bar and returns the strategy's
	// decision for that bar.
	OnCandle(ctx *Context) domain.Signal
}

// Factory produces an independent strategy instance for a symbol, so that
// stateful strategies do not share state across symbols.
type Factory func(symbol string) Strategy

// Context is the read-only view of the simulation handed to a strategy.
type Context struct {
	Symbol     string
	Candles    []domain.Candle // history up to and including the current bar
	Index      int
	Position   *domain.Position
	Equity     float64
	Indicators indicator.Set
}

// Current returns the bar being evaluated.
func (c *Context) Current() domain.Candle {
	return c.Candles[c.Index]
}

// HasPosition reports whether a position is open.
func (c *Context) HasPosition() bool {
	return c.Position != nil
}

// IsLong reports whether a long position is open.
func (c *Context) IsLong() bool {
	return c.Position != nil && c.Position.Side == domain.PositionSideLong
}

// IsShort reports whether a short position is open.
func (c *Context) IsShort() bool {
	return c.Position != nil && c.Position.Side == domain.PositionSideShort
}

// Indicator returns the named indicator at the current bar.
func (c *Context) Indicator(name string) (float64, bool) {
	return c.Indicators.Value(name, c.Index)
}

// IndicatorPrev returns the named indicator at the previous bar.
func (c *Context) IndicatorPrev(name string) (float64, bool) {
	return c.Indicators.Value(name, c.Index-1)
}

// CrossedAbove reports whether fast moved from at-or-below slow on the
// previous bar to above it on the current bar.
func (c *Context) CrossedAbove(fast, slow string) bool {
	f0, ok1 := c.IndicatorPrev(fast)
	s0, ok2 := c.IndicatorPrev(slow)
	f1, ok3 := c.Indicator(fast)
	s1, ok4 := c.Indicator(slow)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return f0 <= s0 && f1 > s1
}

// CrossedBelow reports whether fast moved from at-or-above slow on the
// previous bar to below it on the current bar.
func (c *Context) CrossedBelow(fast, slow string) bool {
	f0, ok1 := c.IndicatorPrev(fast)
	s0, ok2 := c.IndicatorPrev(slow)
	f1, ok3 := c.Indicator(fast)
	s1, ok4 := c.Indicator(slow)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return f0 >= s0 && f1 < s1
}

// Hold returns a hold signal for the current bar.
func (c *Context) Hold() domain.Signal {
	bar := c.Current()
	return domain.HoldSignal(bar.Timestamp, bar.Close)
}

// Long returns a full-strength long entry signal for the current bar.
func (c *Context) Long(reason string) domain.Signal {
	return c.signal(domain.SignalLong, reason)
}

// Short returns a full-strength short entry signal for the current bar.
func (c *Context) Short(reason string) domain.Signal {
	return c.signal(domain.SignalShort, reason)
}

// Exit returns an exit signal for the current bar.
func (c *Context) Exit(reason string) domain.Signal {
	return c.signal(domain.SignalExit, reason)
}

func (c *Context) signal(dir domain.SignalDirection, reason string) domain.Signal {
	bar := c.Current()
	return domain.NewSignal(dir, bar.Timestamp, bar.Close).WithReason(reason)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Params are numeric strategy parameters keyed by name.
type Params map[string]float64

// Int returns the named parameter as an int, or def when absent.
func (p Params) Int(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return def
}

// Float returns the named parameter, or def when absent.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Builder constructs a strategy from parameters.
type Builder func(params Params) (Strategy, error)

// Registry holds a named collection of strategy builders for lookup and
// enumeration.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
	}
}

// Register adds a builder to the registry under name.
func (r *Registry) Register(name string, b Builder) {
	r.builders[name] = b
}

// Build constructs the named strategy with the given parameters.
func (r *Registry) Build(name string, params Params) (Strategy, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	s, err := b(params)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", name, err)
	}
	return s, nil
}

// Factory returns a per-symbol factory for the named strategy. The
// parameters are checked once up front so the returned factory cannot fail.
func (r *Registry) Factory(name string, params Params) (Factory, error) {
	if _, err := r.Build(name, params); err != nil {
		return nil, err
	}
	b := r.builders[name]
	return func(string) Strategy {
		s, _ := b(params)
		return s
	}, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

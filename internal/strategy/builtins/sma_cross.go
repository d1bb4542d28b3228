// Package builtins provides built-in strategy implementations that ship with
// tradesim.
package builtins

import (
	"fmt"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It goes
// long when the short-period SMA crosses above the long-period SMA and exits
// when it crosses below. With shorts enabled it also goes short on a cross
// below while flat.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	shorts      bool
	fastKey     string
	slowKey     string
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int, shorts bool) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		shorts:      shorts,
		fastKey:     fmt.Sprintf("sma_fast_%d", short),
		slowKey:     fmt.Sprintf("sma_slow_%d", long),
	}
}

// Name returns "sma_cross".
func (s *SMACross) Name() string {
	return "sma_cross"
}

// WarmupPeriod returns the long SMA period.
func (s *SMACross) WarmupPeriod() int {
	return s.longPeriod
}

// RequiredIndicators returns the two SMAs.
func (s *SMACross) RequiredIndicators() []indicator.Requirement {
	return []indicator.Requirement{
		{Name: s.fastKey, Spec: indicator.SMASpec(s.shortPeriod)},
		{Name: s.slowKey, Spec: indicator.SMASpec(s.longPeriod)},
	}
}

// OnCandle detects crossovers of the two SMAs.
func (s *SMACross) OnCandle(ctx *strategy.Context) domain.Signal {
	switch {
	case ctx.CrossedAbove(s.fastKey, s.slowKey):
		if ctx.IsShort() {
			return ctx.Exit("SMA golden cross")
		}
		if !ctx.HasPosition() {
			return ctx.Long("SMA golden cross")
		}
	case ctx.CrossedBelow(s.fastKey, s.slowKey):
		if ctx.IsLong() {
			return ctx.Exit("SMA death cross")
		}
		if !ctx.HasPosition() && s.shorts {
			return ctx.Short("SMA death cross")
		}
	}
	return ctx.Hold()
}

func buildSMACross(p strategy.Params) (strategy.Strategy, error) {
	short, long := p.Int("short", 10), p.Int("long", 30)
	if short <= 0 || long <= 0 || short >= long {
		return nil, fmt.Errorf("short period %d must be positive and below long period %d", short, long)
	}
	return NewSMACross(short, long, p.Float("shorts", 0) != 0), nil
}

package builtins

import (
	"fmt"
	"math"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/strategy"
)

var (
	_ strategy.Strategy = (*RSIReversion)(nil)
	_ strategy.Strategy = (*MACDTrend)(nil)
	_ strategy.Strategy = (*BollingerBreakout)(nil)
)

// RSIReversion buys oversold conditions and exits once the RSI reaches the
// overbought level. Signal strength grows with the depth of the oversold
// reading.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIReversion creates an RSI mean-reversion strategy.
func NewRSIReversion(period int, oversold, overbought float64) *RSIReversion {
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought}
}

func (s *RSIReversion) Name() string      { return "rsi_reversion" }
func (s *RSIReversion) WarmupPeriod() int { return s.period + 1 }

func (s *RSIReversion) RequiredIndicators() []indicator.Requirement {
	return []indicator.Requirement{{Name: "rsi", Spec: indicator.RSISpec(s.period)}}
}

func (s *RSIReversion) OnCandle(ctx *strategy.Context) domain.Signal {
	rsi, ok := ctx.Indicator("rsi")
	if !ok {
		return ctx.Hold()
	}
	switch {
	case !ctx.HasPosition() && rsi < s.oversold:
		strength := 0.5 + 0.5*(s.oversold-rsi)/s.oversold
		return ctx.Long(fmt.Sprintf("RSI %.1f below %.0f", rsi, s.oversold)).WithStrength(strength)
	case ctx.IsLong() && rsi > s.overbought:
		return ctx.Exit(fmt.Sprintf("RSI %.1f above %.0f", rsi, s.overbought))
	}
	return ctx.Hold()
}

func buildRSIReversion(p strategy.Params) (strategy.Strategy, error) {
	period := p.Int("period", 14)
	lo, hi := p.Float("oversold", 30), p.Float("overbought", 70)
	if period <= 0 || lo <= 0 || hi >= 100 || lo >= hi {
		return nil, fmt.Errorf("invalid rsi parameters period=%d oversold=%v overbought=%v", period, lo, hi)
	}
	return NewRSIReversion(period, lo, hi), nil
}

// MACDTrend follows MACD histogram zero crossings.
type MACDTrend struct {
	spec indicator.Spec
	hist string
}

// NewMACDTrend creates a MACD histogram trend follower.
func NewMACDTrend(fast, slow, signal int) *MACDTrend {
	spec := indicator.MACDSpec(fast, slow, signal)
	return &MACDTrend{spec: spec, hist: spec.ComponentKeys()[2]}
}

func (s *MACDTrend) Name() string      { return "macd_trend" }
func (s *MACDTrend) WarmupPeriod() int { return s.spec.Slow + s.spec.Signal }

func (s *MACDTrend) RequiredIndicators() []indicator.Requirement {
	return []indicator.Requirement{{Name: "macd", Spec: s.spec}}
}

func (s *MACDTrend) OnCandle(ctx *strategy.Context) domain.Signal {
	prev, ok1 := ctx.IndicatorPrev(s.hist)
	cur, ok2 := ctx.Indicator(s.hist)
	if !ok1 || !ok2 {
		return ctx.Hold()
	}
	price := ctx.Current().Close
	strength := 1.0
	if price > 0 {
		strength = math.Min(1, 0.5+math.Abs(cur)/price*100)
	}
	switch {
	case prev <= 0 && cur > 0 && !ctx.HasPosition():
		return ctx.Long("MACD histogram turned positive").WithStrength(strength)
	case prev >= 0 && cur < 0 && ctx.IsLong():
		return ctx.Exit("MACD histogram turned negative")
	}
	return ctx.Hold()
}

func buildMACDTrend(p strategy.Params) (strategy.Strategy, error) {
	s := NewMACDTrend(p.Int("fast", 12), p.Int("slow", 26), p.Int("signal", 9))
	if err := s.spec.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// BollingerBreakout goes long when the close breaks above the upper band and
// exits when it falls back below the middle band.
type BollingerBreakout struct {
	spec indicator.Spec
	keys []string
}

// NewBollingerBreakout creates a Bollinger band breakout strategy.
func NewBollingerBreakout(period int, stdDev float64) *BollingerBreakout {
	spec := indicator.BollingerSpec(period, stdDev)
	return &BollingerBreakout{spec: spec, keys: spec.ComponentKeys()}
}

func (s *BollingerBreakout) Name() string      { return "bollinger_breakout" }
func (s *BollingerBreakout) WarmupPeriod() int { return s.spec.Period }

func (s *BollingerBreakout) RequiredIndicators() []indicator.Requirement {
	return []indicator.Requirement{{Name: "bollinger", Spec: s.spec}}
}

func (s *BollingerBreakout) OnCandle(ctx *strategy.Context) domain.Signal {
	upper, ok1 := ctx.Indicator(s.keys[0])
	middle, ok2 := ctx.Indicator(s.keys[1])
	if !ok1 || !ok2 {
		return ctx.Hold()
	}
	closePrice := ctx.Current().Close
	switch {
	case !ctx.HasPosition() && closePrice > upper:
		return ctx.Long("close above upper band")
	case ctx.IsLong() && closePrice < middle:
		return ctx.Exit("close below middle band")
	}
	return ctx.Hold()
}

func buildBollingerBreakout(p strategy.Params) (strategy.Strategy, error) {
	s := NewBollingerBreakout(p.Int("period", 20), p.Float("stddev", 2))
	if err := s.spec.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds every builtin strategy to r.
func Register(r *strategy.Registry) {
	r.Register("sma_cross", buildSMACross)
	r.Register("rsi_reversion", buildRSIReversion)
	r.Register("macd_trend", buildMACDTrend)
	r.Register("bollinger_breakout", buildBollingerBreakout)
}

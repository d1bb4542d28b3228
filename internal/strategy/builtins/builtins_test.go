package builtins

import (
	"testing"

	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/strategy"
)

func candles(closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Timestamp: int64(i) * 86400, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

// evaluate runs s over every bar after warmup with no position held and
// returns the first non-hold signal.
func evaluate(t *testing.T, s strategy.Strategy, cs []domain.Candle, pos *domain.Position) (domain.Signal, int) {
	t.Helper()
	set, err := indicator.Precompute(cs, s.RequiredIndicators())
	if err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	for i := s.WarmupPeriod() - 1; i < len(cs); i++ {
		ctx := &strategy.Context{Candles: cs[:i+1], Index: i, Position: pos, Indicators: set}
		if sig := s.OnCandle(ctx); sig.Direction != domain.SignalHold {
			return sig, i
		}
	}
	return domain.Signal{Direction: domain.SignalHold}, -1
}

func TestSMACrossGoldenCross(t *testing.T) {
	s := NewSMACross(2, 4, false)
	sig, idx := evaluate(t, s, candles(10, 10, 10, 10, 10, 12, 14), nil)
	if sig.Direction != domain.SignalLong {
		t.Fatalf("got %v, want long", sig.Direction)
	}
	if idx != 5 {
		t.Errorf("cross detected at %d, want 5", idx)
	}
}

func TestSMACrossDeathCrossExitsLong(t *testing.T) {
	s := NewSMACross(2, 4, false)
	pos := &domain.Position{Side: domain.PositionSideLong}
	sig, _ := evaluate(t, s, candles(10, 10, 10, 10, 10, 8, 6), pos)
	if sig.Direction != domain.SignalExit {
		t.Fatalf("got %v, want exit", sig.Direction)
	}
}

func TestSMACrossShortsOnlyWhenEnabled(t *testing.T) {
	cs := candles(10, 10, 10, 10, 10, 8, 6)
	if sig, _ := evaluate(t, NewSMACross(2, 4, false), cs, nil); sig.Direction != domain.SignalHold {
		t.Errorf("shorts disabled: got %v, want hold", sig.Direction)
	}
	if sig, _ := evaluate(t, NewSMACross(2, 4, true), cs, nil); sig.Direction != domain.SignalShort {
		t.Errorf("shorts enabled: got %v, want short", sig.Direction)
	}
}

func TestRSIReversionBuysOversold(t *testing.T) {
	closes := []float64{100}
	for i := 0; i < 20; i++ {
		closes = append(closes, closes[len(closes)-1]-1)
	}
	sig, _ := evaluate(t, NewRSIReversion(14, 30, 70), candles(closes...), nil)
	if sig.Direction != domain.SignalLong {
		t.Fatalf("got %v, want long", sig.Direction)
	}
	if sig.Strength <= 0.5 || sig.Strength > 1 {
		t.Errorf("strength = %v, want in (0.5, 1]", sig.Strength)
	}
}

func TestBollingerBreakout(t *testing.T) {
	sig, _ := evaluate(t, NewBollingerBreakout(5, 1), candles(10, 11, 10, 11, 10, 11, 10, 15), nil)
	if sig.Direction != domain.SignalLong {
		t.Fatalf("got %v, want long", sig.Direction)
	}
}

func TestRegisterBuildsEveryBuiltin(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r)
	want := []string{"bollinger_breakout", "macd_trend", "rsi_reversion", "sma_cross"}
	names := r.List()
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], name)
		}
		s, err := r.Build(name, nil)
		if err != nil {
			t.Errorf("Build(%q) error: %v", name, err)
			continue
		}
		if s.Name() != name {
			t.Errorf("Build(%q).Name() = %q", name, s.Name())
		}
	}
}

func TestBuildRejectsBadParams(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r)
	if _, err := r.Build("sma_cross", strategy.Params{"short": 30, "long": 10}); err == nil {
		t.Error("expected error for short >= long")
	}
	if _, err := r.Build("rsi_reversion", strategy.Params{"oversold": 80, "overbought": 70}); err == nil {
		t.Error("expected error for oversold >= overbought")
	}
	if _, err := r.Build("macd_trend", strategy.Params{"fast": 30}); err == nil {
		t.Error("expected error for fast >= slow")
	}
}

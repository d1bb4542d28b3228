package indicator

import (
	"fmt"
	"strconv"

	"tradesim/internal/domain"
)

// Kind identifies an indicator function.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindWMA        Kind = "wma"
	KindRSI        Kind = "rsi"
	KindROC        Kind = "roc"
	KindATR        Kind = "atr"
	KindOBV        Kind = "obv"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindStochastic Kind = "stoch"
)

// Spec describes one parameterised indicator. Period is used by the single
// period kinds; MACD uses Fast/Slow/Signal; Bollinger uses Period/StdDev;
// Stochastic uses Period (%K) and Signal (%D).
type Spec struct {
	Kind   Kind
	Period int
	Fast   int
	Slow   int
	Signal int
	StdDev float64
}

// SMASpec returns a simple moving average spec.
func SMASpec(period int) Spec { return Spec{Kind: KindSMA, Period: period} }

// EMASpec returns an exponential moving average spec.
func EMASpec(period int) Spec { return Spec{Kind: KindEMA, Period: period} }

// RSISpec returns a relative strength index spec.
func RSISpec(period int) Spec { return Spec{Kind: KindRSI, Period: period} }

// ATRSpec returns an average true range spec.
func ATRSpec(period int) Spec { return Spec{Kind: KindATR, Period: period} }

// MACDSpec returns a MACD spec.
func MACDSpec(fast, slow, signal int) Spec {
	return Spec{Kind: KindMACD, Fast: fast, Slow: slow, Signal: signal}
}

// BollingerSpec returns a Bollinger bands spec.
func BollingerSpec(period int, stdDev float64) Spec {
	return Spec{Kind: KindBollinger, Period: period, StdDev: stdDev}
}

// StochasticSpec returns a stochastic oscillator spec.
func StochasticSpec(kPeriod, dPeriod int) Spec {
	return Spec{Kind: KindStochastic, Period: kPeriod, Signal: dPeriod}
}

// Composite reports whether the spec produces more than one series.
func (s Spec) Composite() bool {
	return s.Kind == KindMACD || s.Kind == KindBollinger || s.Kind == KindStochastic
}

// Key returns the canonical key for the spec, embedding its parameters.
func (s Spec) Key() string {
	switch s.Kind {
	case KindOBV:
		return string(KindOBV)
	case KindMACD:
		return fmt.Sprintf("macd_%d_%d_%d", s.Fast, s.Slow, s.Signal)
	case KindBollinger:
		return fmt.Sprintf("bollinger_%d_%s", s.Period, formatFloat(s.StdDev))
	case KindStochastic:
		return fmt.Sprintf("stoch_%d_%d", s.Period, s.Signal)
	default:
		return fmt.Sprintf("%s_%d", s.Kind, s.Period)
	}
}

// ComponentKeys returns the keys under which the spec's output series are
// stored. Single-series specs return their canonical key.
func (s Spec) ComponentKeys() []string {
	switch s.Kind {
	case KindMACD:
		suffix := fmt.Sprintf("%d_%d_%d", s.Fast, s.Slow, s.Signal)
		return []string{"macd_line_" + suffix, "macd_signal_" + suffix, "macd_histogram_" + suffix}
	case KindBollinger:
		suffix := fmt.Sprintf("%d_%s", s.Period, formatFloat(s.StdDev))
		return []string{"bollinger_upper_" + suffix, "bollinger_middle_" + suffix, "bollinger_lower_" + suffix}
	case KindStochastic:
		suffix := fmt.Sprintf("%d_%d", s.Period, s.Signal)
		return []string{"stoch_k_" + suffix, "stoch_d_" + suffix}
	default:
		return []string{s.Key()}
	}
}

// Validate checks that the spec's parameters are usable.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindOBV:
		return nil
	case KindMACD:
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
			return fmt.Errorf("macd periods must be positive, got %d/%d/%d", s.Fast, s.Slow, s.Signal)
		}
		if s.Fast >= s.Slow {
			return fmt.Errorf("macd fast period %d must be below slow period %d", s.Fast, s.Slow)
		}
	case KindBollinger:
		if s.Period <= 0 || s.StdDev <= 0 {
			return fmt.Errorf("bollinger period and stddev must be positive")
		}
	case KindStochastic:
		if s.Period <= 0 || s.Signal <= 0 {
			return fmt.Errorf("stochastic periods must be positive")
		}
	case KindSMA, KindEMA, KindWMA, KindRSI, KindROC, KindATR:
		if s.Period <= 0 {
			return fmt.Errorf("%s period must be positive, got %d", s.Kind, s.Period)
		}
	default:
		return fmt.Errorf("unknown indicator kind %q", s.Kind)
	}
	return nil
}

// Requirement is a strategy's request for one indicator. Single-series
// indicators are stored under Name (or the spec key when Name is empty);
// composite indicators are stored under their ComponentKeys.
type Requirement struct {
	Name string
	Spec Spec
}

// Precompute computes every required indicator once over the full candle
// series. Identical specs are computed only once even when requested under
// several names.
func Precompute(candles []domain.Candle, reqs []Requirement) (Set, error) {
	set := make(Set, len(reqs))
	if len(reqs) == 0 {
		return set, nil
	}
	in := newInputs(candles)
	cache := make(map[string][]Series, len(reqs))

	for _, req := range reqs {
		if err := req.Spec.Validate(); err != nil {
			return nil, fmt.Errorf("indicator %q: %w", req.Name, err)
		}
		key := req.Spec.Key()
		out, ok := cache[key]
		if !ok {
			out = compute(req.Spec, in)
			cache[key] = out
		}

		if req.Spec.Composite() {
			for i, k := range req.Spec.ComponentKeys() {
				set[k] = out[i]
			}
			continue
		}
		name := req.Name
		if name == "" {
			name = key
		}
		set[name] = out[0]
	}
	return set, nil
}

// inputs holds the column views of a candle series.
type inputs struct {
	open, high, low, close []float64
	volume                 []int64
}

func newInputs(candles []domain.Candle) inputs {
	in := inputs{
		open:   make([]float64, len(candles)),
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]int64, len(candles)),
	}
	for i, c := range candles {
		in.open[i] = c.Open
		in.high[i] = c.High
		in.low[i] = c.Low
		in.close[i] = c.Close
		in.volume[i] = c.Volume
	}
	return in
}

// compute dispatches a validated spec to its indicator function.
func compute(s Spec, in inputs) []Series {
	switch s.Kind {
	case KindSMA:
		return []Series{SMA(in.close, s.Period)}
	case KindEMA:
		return []Series{EMA(in.close, s.Period)}
	case KindWMA:
		return []Series{WMA(in.close, s.Period)}
	case KindRSI:
		return []Series{RSI(in.close, s.Period)}
	case KindROC:
		return []Series{ROC(in.close, s.Period)}
	case KindATR:
		return []Series{ATR(in.high, in.low, in.close, s.Period)}
	case KindOBV:
		return []Series{OBV(in.close, in.volume)}
	case KindMACD:
		line, sig, hist := MACD(in.close, s.Fast, s.Slow, s.Signal)
		return []Series{line, sig, hist}
	case KindBollinger:
		upper, middle, lower := Bollinger(in.close, s.Period, s.StdDev)
		return []Series{upper, middle, lower}
	case KindStochastic:
		k, d := Stochastic(in.high, in.low, in.close, s.Period, s.Signal)
		return []Series{k, d}
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

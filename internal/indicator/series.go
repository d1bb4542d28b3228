// Package indicator provides technical indicator functions over price and
// volume series, and the adapter that precomputes a strategy's declared
// indicators once per run.
package indicator

import "math"

// Series is an indicator output aligned index-for-index with its input. NaN
// marks bars where the indicator is not yet defined.
type Series []float64

// newSeries returns a Series of length n filled with NaN.
func newSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// At returns the value at index i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) || math.IsNaN(s[i]) {
		return 0, false
	}
	return s[i], true
}

// Set maps indicator keys to their precomputed series.
type Set map[string]Series

// Value returns the named indicator at index i and whether it is defined.
func (s Set) Value(name string, i int) (float64, bool) {
	series, ok := s[name]
	if !ok {
		return 0, false
	}
	return series.At(i)
}

// ---------------------------------------------------------------------------
// Moving averages
// ---------------------------------------------------------------------------

// SMA computes the simple moving average over period values.
func SMA(values []float64, period int) Series {
	out := newSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) Series {
	return emaFrom(Series(values), period)
}

// emaFrom computes an EMA over a series that may have a NaN prefix. The seed
// is the SMA of the first period defined values.
func emaFrom(values Series, period int) Series {
	out := newSeries(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	seedIdx := start + period - 1
	out[seedIdx] = sum / float64(period)
	k := 2.0 / (float64(period) + 1.0)
	for i := seedIdx + 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// WMA computes the linearly weighted moving average.
func WMA(values []float64, period int) Series {
	out := newSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// ---------------------------------------------------------------------------
// Oscillators
// ---------------------------------------------------------------------------

// RSI computes the relative strength index with Wilder smoothing. The first
// defined value is at index period.
func RSI(closes []float64, period int) Series {
	out := newSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal line (EMA of
// the MACD line), and the histogram (line - signal).
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist Series) {
	n := len(closes)
	line = newSeries(n)
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	for i := 0; i < n; i++ {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			continue
		}
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig = emaFrom(line, signal)
	hist = newSeries(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(line[i]) || math.IsNaN(sig[i]) {
			continue
		}
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// ROC computes the rate of change in percent over period bars.
func ROC(closes []float64, period int) Series {
	out := newSeries(len(closes))
	if period <= 0 {
		return out
	}
	for i := period; i < len(closes); i++ {
		prev := closes[i-period]
		if prev == 0 {
			continue
		}
		out[i] = (closes[i] - prev) / prev * 100
	}
	return out
}

// Stochastic computes the %K line over kPeriod bars and the %D line as the
// SMA of %K over dPeriod bars.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d Series) {
	n := len(closes)
	k = newSeries(n)
	if kPeriod <= 0 || n < kPeriod {
		return k, newSeries(n)
	}
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := highs[i], lows[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = (closes[i] - ll) / (hh - ll) * 100
	}
	d = newSeries(n)
	if dPeriod <= 0 {
		return k, d
	}
	for i := kPeriod - 1 + dPeriod - 1; i < n; i++ {
		sum := 0.0
		for j := i - dPeriod + 1; j <= i; j++ {
			sum += k[j]
		}
		d[i] = sum / float64(dPeriod)
	}
	return k, d
}

// ---------------------------------------------------------------------------
// Volatility and volume
// ---------------------------------------------------------------------------

// Bollinger computes Bollinger bands: the SMA over period and bands at
// stdDev population standard deviations above and below it.
func Bollinger(closes []float64, period int, stdDev float64) (upper, middle, lower Series) {
	n := len(closes)
	upper, middle, lower = newSeries(n), SMA(closes, period), newSeries(n)
	for i := range closes {
		m := middle[i]
		if math.IsNaN(m) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - m
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = m + stdDev*sd
		lower[i] = m - stdDev*sd
	}
	return upper, middle, lower
}

// ATR computes the average true range with Wilder smoothing. The first
// defined value is at index period-1.
func ATR(highs, lows, closes []float64, period int) Series {
	n := len(closes)
	out := newSeries(n)
	if period <= 0 || n < period {
		return out
	}
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = highs[i] - lows[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Abs(highs[i]-closes[i-1]))
			tr[i] = math.Max(tr[i], math.Abs(lows[i]-closes[i-1]))
		}
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// OBV computes on-balance volume.
func OBV(closes []float64, volumes []int64) Series {
	out := newSeries(len(closes))
	if len(closes) == 0 {
		return out
	}
	obv := 0.0
	out[0] = 0
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += float64(volumes[i])
		case closes[i] < closes[i-1]:
			obv -= float64(volumes[i])
		}
		out[i] = obv
	}
	return out
}

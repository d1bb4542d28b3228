package metrics

import (
	"math"

	"tradesim/internal/domain"
)

// BenchmarkInput pairs a strategy's equity curve with the traded symbol's
// candles and a benchmark candle series.
type BenchmarkInput struct {
	BenchmarkSymbol string
	Candles         []domain.Candle
	Benchmark       []domain.Candle
	Equity          []domain.EquityPoint
	RiskFreeRate    float64
	BarsPerYear     float64
}

// Comparison holds CAPM-style statistics of a strategy against a benchmark.
// Returns are in percent.
type Comparison struct {
	BenchmarkSymbol     string  `json:"benchmark_symbol"`
	BuyHoldReturnPct    float64 `json:"buy_hold_return_pct"`
	BenchmarkReturnPct  float64 `json:"benchmark_return_pct"`
	StrategyAnnualPct   float64 `json:"strategy_annual_pct"`
	BenchmarkAnnualPct  float64 `json:"benchmark_annual_pct"`
	Alpha               float64 `json:"alpha"`
	Beta                float64 `json:"beta"`
	InformationRatio    float64 `json:"information_ratio"`
	Observations        int     `json:"observations"`
	ExcessReturnPct     float64 `json:"excess_return_pct"`
	TrackingErrorAnnual float64 `json:"tracking_error_annual"`
}

// Compare aligns the equity curve and benchmark by timestamp and computes
// buy-and-hold returns, beta, alpha and the information ratio. Timestamps
// missing from either side are dropped.
func Compare(in BenchmarkInput) Comparison {
	c := Comparison{
		BenchmarkSymbol:  in.BenchmarkSymbol,
		BuyHoldReturnPct: buyAndHold(in.Candles),
	}

	closes := make(map[int64]float64, len(in.Benchmark))
	for _, b := range in.Benchmark {
		closes[b.Timestamp] = b.Close
	}
	var equity, bench []float64
	for _, p := range in.Equity {
		if cl, ok := closes[p.Timestamp]; ok {
			equity = append(equity, p.Equity)
			bench = append(bench, cl)
		}
	}
	if len(bench) < 2 {
		return c
	}

	if bench[0] > 0 {
		c.BenchmarkReturnPct = (bench[len(bench)-1]/bench[0] - 1) * 100
	}
	stratTotal := 0.0
	if equity[0] > 0 {
		stratTotal = equity[len(equity)-1]/equity[0] - 1
	}
	c.ExcessReturnPct = stratTotal*100 - c.BenchmarkReturnPct

	rs, rb := pairedReturns(equity, bench)
	c.Observations = len(rs)
	c.Beta = Beta(rs, rb)

	periods := len(bench) - 1
	c.StrategyAnnualPct = Annualize(stratTotal, periods, in.BarsPerYear) * 100
	c.BenchmarkAnnualPct = Annualize(c.BenchmarkReturnPct/100, periods, in.BarsPerYear) * 100
	rfPct := in.RiskFreeRate * 100
	c.Alpha = c.StrategyAnnualPct - rfPct - c.Beta*(c.BenchmarkAnnualPct-rfPct)

	c.InformationRatio, c.TrackingErrorAnnual = informationRatio(rs, rb, in.RiskFreeRate, in.BarsPerYear)
	return c
}

func buyAndHold(candles []domain.Candle) float64 {
	if len(candles) < 2 || candles[0].Close <= 0 {
		return 0
	}
	return (candles[len(candles)-1].Close/candles[0].Close - 1) * 100
}

// pairedReturns computes per-bar returns of both series, keeping only bars
// where both previous values are positive.
func pairedReturns(a, b []float64) (ra, rb []float64) {
	for i := 1; i < len(a); i++ {
		if a[i-1] <= 0 || b[i-1] <= 0 {
			continue
		}
		ra = append(ra, a[i]/a[i-1]-1)
		rb = append(rb, b[i]/b[i-1]-1)
	}
	return ra, rb
}

// Beta returns the sample covariance of rs and rb over the sample variance of
// rb. It is 0 with fewer than two observations or a constant benchmark.
func Beta(rs, rb []float64) float64 {
	n := len(rb)
	if n < 2 || len(rs) != n {
		return 0
	}
	ms, mb := mean(rs), mean(rb)
	var cov, vb float64
	for i := 0; i < n; i++ {
		cov += (rs[i] - ms) * (rb[i] - mb)
		vb += (rb[i] - mb) * (rb[i] - mb)
	}
	if vb == 0 {
		return 0
	}
	return (cov / float64(n-1)) / (vb / float64(n-1))
}

// informationRatio returns the annualized information ratio and tracking
// error of the excess series rs - rb - rf/barsPerYear.
func informationRatio(rs, rb []float64, rf, barsPerYear float64) (float64, float64) {
	if len(rs) < 2 || barsPerYear <= 0 {
		return 0, 0
	}
	excess := make([]float64, len(rs))
	for i := range rs {
		excess[i] = rs[i] - rb[i] - rf/barsPerYear
	}
	sd := sampleStd(excess)
	if sd == 0 {
		return 0, 0
	}
	scale := math.Sqrt(barsPerYear)
	return mean(excess) / sd * scale, sd * scale
}

package metrics

import (
	"math"
	"testing"

	"tradesim/internal/domain"
)

func closesAt(ts []int64, closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i := range closes {
		out[i] = domain.Candle{Timestamp: ts[i], Close: closes[i]}
	}
	return out
}

func TestBetaOfIdenticalSeriesIsOne(t *testing.T) {
	r := []float64{0.01, -0.02, 0.03, 0.005}
	if got := Beta(r, r); !approx(got, 1) {
		t.Errorf("Beta(r, r) = %v, want 1", got)
	}
	double := make([]float64, len(r))
	for i := range r {
		double[i] = 2 * r[i]
	}
	if got := Beta(double, r); !approx(got, 2) {
		t.Errorf("Beta(2r, r) = %v, want 2", got)
	}
}

func TestBetaDegenerate(t *testing.T) {
	if got := Beta([]float64{0.1}, []float64{0.2}); got != 0 {
		t.Errorf("Beta with one observation = %v, want 0", got)
	}
	if got := Beta([]float64{0.1, 0.2, 0.3}, []float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("Beta with constant benchmark = %v, want 0", got)
	}
}

func TestCompareAlignsByTimestamp(t *testing.T) {
	equity := curve(1000, 1010, 1030, 1020, 1050)
	ts := []int64{0, 86400, 2 * 86400, 3 * 86400, 4 * 86400}
	// Benchmark is missing the third bar and has an extra one.
	bench := closesAt(
		[]int64{0, 86400, 3 * 86400, 4 * 86400, 5 * 86400},
		[]float64{100, 101, 102, 104, 200},
	)
	c := Compare(BenchmarkInput{
		BenchmarkSymbol: "SPY",
		Candles:         closesAt(ts, []float64{50, 51, 52, 53, 55}),
		Benchmark:       bench,
		Equity:          equity,
		RiskFreeRate:    0.02,
		BarsPerYear:     252,
	})
	if c.Observations != 3 {
		t.Fatalf("Observations = %d, want 3", c.Observations)
	}
	if !approx(c.BuyHoldReturnPct, 10) {
		t.Errorf("BuyHoldReturnPct = %v, want 10", c.BuyHoldReturnPct)
	}
	if !approx(c.BenchmarkReturnPct, 4) {
		t.Errorf("BenchmarkReturnPct = %v, want 4", c.BenchmarkReturnPct)
	}
	if !approx(c.ExcessReturnPct, 1) {
		t.Errorf("ExcessReturnPct = %v, want 1", c.ExcessReturnPct)
	}
	wantAlpha := c.StrategyAnnualPct - 2 - c.Beta*(c.BenchmarkAnnualPct-2)
	if !approx(c.Alpha, wantAlpha) {
		t.Errorf("Alpha = %v, want %v", c.Alpha, wantAlpha)
	}
}

func TestCompareWithoutOverlap(t *testing.T) {
	c := Compare(BenchmarkInput{
		Equity:      curve(1000, 1100),
		Benchmark:   closesAt([]int64{999, 1999}, []float64{1, 2}),
		BarsPerYear: 252,
	})
	if c.Observations != 0 || c.Beta != 0 || c.InformationRatio != 0 {
		t.Errorf("expected zero comparison, got %+v", c)
	}
}

func TestInformationRatio(t *testing.T) {
	rs := []float64{0.02, 0.01, 0.03}
	rb := []float64{0.01, 0.01, 0.01}
	got, te := informationRatio(rs, rb, 0, 252)
	excess := []float64{0.01, 0, 0.02}
	want := mean(excess) / sampleStd(excess) * math.Sqrt(252)
	if !approx(got, want) {
		t.Errorf("IR = %v, want %v", got, want)
	}
	if !approx(te, sampleStd(excess)*math.Sqrt(252)) {
		t.Errorf("tracking error = %v", te)
	}
	if ir, _ := informationRatio(rs[:1], rb[:1], 0, 252); ir != 0 {
		t.Errorf("IR with one observation = %v, want 0", ir)
	}
}

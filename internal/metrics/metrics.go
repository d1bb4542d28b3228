// Package metrics derives performance statistics from a backtest's trade
// ledger and equity curve, and compares a strategy against a benchmark.
package metrics

import (
	"math"

	"tradesim/internal/domain"
)

// Input is everything Calculate needs. It is a pure function of these values.
type Input struct {
	Trades           []domain.Trade
	Equity           []domain.EquityPoint
	InitialCapital   float64
	SignalsGenerated int
	SignalsExecuted  int
	RiskFreeRate     float64 // annual, as a fraction
	BarsPerYear      float64
}

// Metrics summarises a run. Percentages are expressed in percent, not
// fractions.
type Metrics struct {
	FinalEquity         float64 `json:"final_equity"`
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MaxDrawdownBars     int     `json:"max_drawdown_bars"`

	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	LongTrades        int     `json:"long_trades"`
	ShortTrades       int     `json:"short_trades"`
	WinRatePct        float64 `json:"win_rate_pct"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	ProfitFactor      float64 `json:"profit_factor"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
	AvgHoldingSeconds float64 `json:"avg_holding_seconds"`
	TotalCommission   float64 `json:"total_commission"`
	TotalDividends    float64 `json:"total_dividends"`

	SignalsGenerated int     `json:"signals_generated"`
	SignalsExecuted  int     `json:"signals_executed"`
	ExecutionRatePct float64 `json:"execution_rate_pct"`
}

// Calculate computes Metrics for one run.
func Calculate(in Input) Metrics {
	m := Metrics{
		FinalEquity:      in.InitialCapital,
		SignalsGenerated: in.SignalsGenerated,
		SignalsExecuted:  in.SignalsExecuted,
	}
	if n := len(in.Equity); n > 0 {
		m.FinalEquity = in.Equity[n-1].Equity
	}
	if in.InitialCapital > 0 {
		m.TotalReturnPct = (m.FinalEquity/in.InitialCapital - 1) * 100
	}
	m.AnnualizedReturnPct = Annualize(m.TotalReturnPct/100, len(in.Equity)-1, in.BarsPerYear) * 100
	if in.SignalsGenerated > 0 {
		m.ExecutionRatePct = float64(in.SignalsExecuted) / float64(in.SignalsGenerated) * 100
	}

	returns := Returns(in.Equity)
	m.SharpeRatio = sharpe(returns, in.RiskFreeRate, in.BarsPerYear)
	m.SortinoRatio = sortino(returns, in.RiskFreeRate, in.BarsPerYear)
	m.MaxDrawdownPct, m.MaxDrawdownBars = maxDrawdown(in.Equity)
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.AnnualizedReturnPct / m.MaxDrawdownPct
	}

	tradeStats(&m, in.Trades)
	return m
}

func tradeStats(m *Metrics, trades []domain.Trade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}
	var grossWin, grossLoss, holding float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWin += t.PnL
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss -= t.PnL
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
		}
		if t.Side == domain.PositionSideShort {
			m.ShortTrades++
		} else {
			m.LongTrades++
		}
		holding += float64(t.HoldingSeconds())
		m.TotalCommission += t.EntryCommission + t.ExitCommission
		m.TotalDividends += t.DividendIncome
	}
	m.WinRatePct = float64(m.WinningTrades) / float64(len(trades)) * 100
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLoss / float64(m.LosingTrades)
	}
	// Undefined without losses; reported as 0.
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
	m.AvgHoldingSeconds = holding / float64(len(trades))
}

// ---------------------------------------------------------------------------
// Return series helpers
// ---------------------------------------------------------------------------

// Returns converts an equity curve into per-bar simple returns. Bars that
// follow a non-positive equity value are skipped.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// Annualize converts a total fractional return earned over periods bars into
// an annual fractional return. A total loss of everything annualizes to -1.
func Annualize(total float64, periods int, barsPerYear float64) float64 {
	if periods <= 0 || barsPerYear <= 0 {
		return total
	}
	growth := 1 + total
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, barsPerYear/float64(periods)) - 1
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd returns the n-1 standard deviation of xs.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func sharpe(returns []float64, rf, barsPerYear float64) float64 {
	if len(returns) < 2 || barsPerYear <= 0 {
		return 0
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf/barsPerYear
	}
	sd := sampleStd(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(barsPerYear)
}

func sortino(returns []float64, rf, barsPerYear float64) float64 {
	if len(returns) < 2 || barsPerYear <= 0 {
		return 0
	}
	perBar := rf / barsPerYear
	var sum, downside float64
	for _, r := range returns {
		e := r - perBar
		sum += e
		if e < 0 {
			downside += e * e
		}
	}
	if downside == 0 {
		return 0
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	return sum / float64(len(returns)) / dd * math.Sqrt(barsPerYear)
}

// maxDrawdown returns the deepest drawdown in percent and the longest run of
// consecutive bars spent below a prior peak.
func maxDrawdown(curve []domain.EquityPoint) (float64, int) {
	var worst float64
	var longest, current int
	for _, p := range curve {
		worst = math.Max(worst, p.Drawdown)
		if p.Drawdown > 0 {
			current++
			longest = max(longest, current)
		} else {
			current = 0
		}
	}
	return worst * 100, longest
}

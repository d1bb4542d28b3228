package engine

import (
	"tradesim/internal/domain"
	"tradesim/internal/metrics"
)

// BacktestResult is the full outcome of a single-symbol run. In portfolio
// mode one is built per symbol, relative to that symbol's expected
// allocation rather than the whole portfolio's capital.
type BacktestResult struct {
	Symbol         string                `json:"symbol"`
	Strategy       string                `json:"strategy"`
	Config         Config                `json:"config"`
	StartTimestamp int64                 `json:"start_timestamp"`
	EndTimestamp   int64                 `json:"end_timestamp"`
	InitialCapital float64               `json:"initial_capital"`
	FinalEquity    float64               `json:"final_equity"`
	Metrics        metrics.Metrics       `json:"metrics"`
	Trades         []domain.Trade        `json:"trades"`
	Equity         []domain.EquityPoint  `json:"equity"`
	Signals        []domain.SignalRecord `json:"signals"`
	OpenPosition   *domain.Position      `json:"open_position,omitempty"`
	Benchmark      *metrics.Comparison   `json:"benchmark,omitempty"`
	Diagnostics    []string              `json:"diagnostics,omitempty"`
}

// PortfolioResult is the outcome of a multi-symbol run.
type PortfolioResult struct {
	Strategy       string                      `json:"strategy"`
	Config         Config                      `json:"config"`
	Options        PortfolioOptions            `json:"options"`
	InitialCapital float64                     `json:"initial_capital"`
	FinalEquity    float64                     `json:"final_equity"`
	Symbols        map[string]*BacktestResult  `json:"symbols"`
	Equity         []domain.EquityPoint        `json:"equity"`
	Metrics        metrics.Metrics             `json:"metrics"`
	Trades         []domain.Trade              `json:"trades"`
	Allocations    []domain.AllocationSnapshot `json:"allocations"`
	Diagnostics    []string                    `json:"diagnostics,omitempty"`
}

// executedCount returns how many records were acted on.
func executedCount(records []domain.SignalRecord) int {
	n := 0
	for _, r := range records {
		if r.Executed {
			n++
		}
	}
	return n
}

// curveTracker appends equity points while tracking the running peak.
type curveTracker struct {
	peak   float64
	points []domain.EquityPoint
}

func (c *curveTracker) add(ts int64, equity float64) {
	if equity > c.peak {
		c.peak = equity
	}
	dd := 0.0
	if c.peak > 0 {
		dd = (c.peak - equity) / c.peak
	}
	c.points = append(c.points, domain.EquityPoint{Timestamp: ts, Equity: equity, Drawdown: dd})
}

// settleLast rewrites the final point after positions are force-closed, so
// the curve ends on the settled equity. Its drawdown is taken against the
// peak reached before the last point.
func (c *curveTracker) settleLast(equity float64) {
	n := len(c.points)
	if n == 0 {
		return
	}
	peak := 0.0
	for _, p := range c.points[:n-1] {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	peak = max(peak, equity)
	c.peak = peak
	dd := 0.0
	if peak > 0 {
		dd = (peak - equity) / peak
	}
	c.points[n-1].Equity = equity
	c.points[n-1].Drawdown = dd
}

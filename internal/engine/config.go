package engine

import "math"

// Config holds the frictions and rules of a backtest. It is validated once
// when an engine is constructed and never changes during a run.
type Config struct {
	InitialCapital    float64 `yaml:"initial_capital" json:"initial_capital"`
	FlatCommission    float64 `yaml:"flat_commission" json:"flat_commission"`
	PctCommission     float64 `yaml:"pct_commission" json:"pct_commission"`
	Slippage          float64 `yaml:"slippage" json:"slippage"`
	StopLossPct       float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`         // 0 disables
	TakeProfitPct     float64 `yaml:"take_profit_pct" json:"take_profit_pct"`     // 0 disables
	TrailingStopPct   float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"` // 0 disables
	AllowShort        bool    `yaml:"allow_short" json:"allow_short"`
	CloseAtEnd        bool    `yaml:"close_at_end" json:"close_at_end"`
	ReinvestDividends bool    `yaml:"reinvest_dividends" json:"reinvest_dividends"`
	MinSignalStrength float64 `yaml:"min_signal_strength" json:"min_signal_strength"`
	PositionSizePct   float64 `yaml:"position_size_pct" json:"position_size_pct"`
	RiskFreeRate      float64 `yaml:"risk_free_rate" json:"risk_free_rate"`
	BarsPerYear       float64 `yaml:"bars_per_year" json:"bars_per_year"`
}

// DefaultConfig returns a frictionless daily-bar configuration with 100,000
// of starting capital that closes open positions at the end of the run.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  100_000,
		CloseAtEnd:      true,
		PositionSizePct: 1,
		BarsPerYear:     252,
	}
}

// Validate returns an InvalidParamError describing the first unusable value.
func (c Config) Validate() error {
	switch {
	case !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0):
		return invalidParam("initial_capital", "must be positive, got %v", c.InitialCapital)
	case c.FlatCommission < 0:
		return invalidParam("flat_commission", "must not be negative, got %v", c.FlatCommission)
	case c.PctCommission < 0 || c.PctCommission >= 1:
		return invalidParam("pct_commission", "must be in [0, 1), got %v", c.PctCommission)
	case c.Slippage < 0 || c.Slippage >= 1:
		return invalidParam("slippage", "must be in [0, 1), got %v", c.Slippage)
	case c.StopLossPct < 0 || c.StopLossPct > 1:
		return invalidParam("stop_loss_pct", "must be in (0, 1] or 0 to disable, got %v", c.StopLossPct)
	case c.TakeProfitPct < 0:
		return invalidParam("take_profit_pct", "must be positive or 0 to disable, got %v", c.TakeProfitPct)
	case c.TrailingStopPct < 0 || c.TrailingStopPct > 1:
		return invalidParam("trailing_stop_pct", "must be in (0, 1] or 0 to disable, got %v", c.TrailingStopPct)
	case c.MinSignalStrength < 0 || c.MinSignalStrength > 1:
		return invalidParam("min_signal_strength", "must be in [0, 1], got %v", c.MinSignalStrength)
	case c.PositionSizePct <= 0 || c.PositionSizePct > 1:
		return invalidParam("position_size_pct", "must be in (0, 1], got %v", c.PositionSizePct)
	case c.BarsPerYear <= 0:
		return invalidParam("bars_per_year", "must be positive, got %v", c.BarsPerYear)
	case c.FlatCommission >= c.InitialCapital:
		return invalidParam("flat_commission", "%v leaves no capital to trade with %v", c.FlatCommission, c.InitialCapital)
	}
	return nil
}

// RebalanceMode selects how the portfolio engine sizes a new entry.
type RebalanceMode string

const (
	// RebalanceAvailableCapital splits current cash evenly across the
	// remaining open position slots.
	RebalanceAvailableCapital RebalanceMode = "available_capital"
	// RebalanceEqualWeight gives every slot initial_capital / slots, capped
	// by current cash.
	RebalanceEqualWeight RebalanceMode = "equal_weight"
)

// PortfolioOptions configures the multi-symbol engine.
type PortfolioOptions struct {
	MaxTotalPositions  int           `yaml:"max_total_positions" json:"max_total_positions"` // 0 means one per symbol
	Rebalance          RebalanceMode `yaml:"rebalance" json:"rebalance"`
	MaxAllocationPct   float64       `yaml:"max_allocation_pct" json:"max_allocation_pct"` // 0 disables
	ParallelIndicators bool          `yaml:"parallel_indicators" json:"parallel_indicators"`
}

// DefaultPortfolioOptions returns unbounded positions with available-capital
// sizing and parallel indicator precomputation.
func DefaultPortfolioOptions() PortfolioOptions {
	return PortfolioOptions{
		Rebalance:          RebalanceAvailableCapital,
		ParallelIndicators: true,
	}
}

// Validate checks the options against the number of symbols in the run.
func (o PortfolioOptions) Validate(symbols int) error {
	if symbols == 0 {
		return invalidParam("symbols", "at least one symbol is required")
	}
	if o.MaxTotalPositions < 0 {
		return invalidParam("max_total_positions", "must not be negative, got %d", o.MaxTotalPositions)
	}
	if o.MaxTotalPositions > symbols {
		return invalidParam("max_total_positions", "%d exceeds the %d symbols supplied", o.MaxTotalPositions, symbols)
	}
	switch o.Rebalance {
	case "", RebalanceAvailableCapital, RebalanceEqualWeight:
	default:
		return invalidParam("rebalance", "unknown mode %q", o.Rebalance)
	}
	if o.MaxAllocationPct < 0 || o.MaxAllocationPct > 1 {
		return invalidParam("max_allocation_pct", "must be in (0, 1] or 0 to disable, got %v", o.MaxAllocationPct)
	}
	return nil
}

// slots returns the effective position cap for n symbols.
func (o PortfolioOptions) slots(n int) int {
	if o.MaxTotalPositions <= 0 {
		return n
	}
	return o.MaxTotalPositions
}

// Package engine runs strategies against historical candles: a single-symbol
// backtest loop and a multi-symbol portfolio variant sharing one cash pool.
package engine

import (
	"fmt"
	"log/slog"

	"tradesim/internal/broker"
	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/metrics"
	"tradesim/internal/strategy"
)

// EndOfBacktestReason is the exit reason of positions force-closed on the
// last bar.
const EndOfBacktestReason = "End of backtest"

// Engine orchestrates a single-symbol backtest by delegating fills to a
// simulated broker and automatic exits to a risk manager.
type Engine struct {
	cfg    Config
	broker *broker.SimulatorBroker
	risk   *RiskManager
	log    *slog.Logger
}

// NewEngine validates cfg and creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		broker: newBroker(cfg),
		risk:   NewRiskManager(cfg.StopLossPct, cfg.TakeProfitPct, cfg.TrailingStopPct),
		log:    slog.Default().With("component", "engine"),
	}, nil
}

func newBroker(cfg Config) *broker.SimulatorBroker {
	return broker.NewSimulatorBroker(broker.Costs{
		FlatCommission: cfg.FlatCommission,
		PctCommission:  cfg.PctCommission,
		Slippage:       cfg.Slippage,
	})
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	e.log = l
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run backtests s over candles with no dividends.
func (e *Engine) Run(symbol string, candles []domain.Candle, s strategy.Strategy) (*BacktestResult, error) {
	return e.RunWithDividends(symbol, candles, nil, s)
}

// RunWithDividends backtests s over candles, crediting dividends to any
// position open on their ex-date. Dividends must be sorted by timestamp.
func (e *Engine) RunWithDividends(symbol string, candles []domain.Candle, dividends []domain.Dividend, s strategy.Strategy) (*BacktestResult, error) {
	if err := checkInputs(symbol, candles, dividends, s); err != nil {
		return nil, err
	}
	ind, err := indicator.Precompute(candles, s.RequiredIndicators())
	if err != nil {
		return nil, &InvalidParamError{Name: "indicators", Reason: err.Error()}
	}

	r := &run{
		e:         e,
		symbol:    symbol,
		candles:   candles,
		dividends: dividends,
		strat:     s,
		ind:       ind,
		cash:      e.cfg.InitialCapital,
	}
	r.loop()
	res := r.result()

	e.log.Info("backtest complete",
		"symbol", symbol,
		"strategy", s.Name(),
		"bars", len(candles),
		"trades", len(res.Trades),
		"final_equity", res.FinalEquity,
	)
	return res, nil
}

// RunWithBenchmark runs the backtest and then compares it against benchmark
// candles aligned by timestamp.
func (e *Engine) RunWithBenchmark(symbol string, candles []domain.Candle, dividends []domain.Dividend, s strategy.Strategy, benchmarkSymbol string, benchmark []domain.Candle) (*BacktestResult, error) {
	res, err := e.RunWithDividends(symbol, candles, dividends, s)
	if err != nil {
		return nil, err
	}
	cmp := metrics.Compare(metrics.BenchmarkInput{
		BenchmarkSymbol: benchmarkSymbol,
		Candles:         candles,
		Benchmark:       benchmark,
		Equity:          res.Equity,
		RiskFreeRate:    e.cfg.RiskFreeRate,
		BarsPerYear:     e.cfg.BarsPerYear,
	})
	res.Benchmark = &cmp
	return res, nil
}

// checkInputs rejects a run before any bar is simulated.
func checkInputs(symbol string, candles []domain.Candle, dividends []domain.Dividend, s strategy.Strategy) error {
	if s == nil {
		return invalidParam("strategy", "must not be nil")
	}
	if warmup := s.WarmupPeriod(); len(candles) < warmup || len(candles) == 0 {
		return &InsufficientDataError{Symbol: symbol, Required: max(warmup, 1), Available: len(candles)}
	}
	for i := 1; i < len(dividends); i++ {
		if dividends[i].Timestamp < dividends[i-1].Timestamp {
			return invalidParam("dividends", "%s: not sorted by timestamp at index %d", symbol, i)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Per-run state machine
// ---------------------------------------------------------------------------

// run is the mutable state of one single-symbol backtest.
type run struct {
	e         *Engine
	symbol    string
	candles   []domain.Candle
	dividends []domain.Dividend
	strat     strategy.Strategy
	ind       indicator.Set

	cash   float64
	pos    *domain.Position
	hwm    float64
	divIdx int

	curve   curveTracker
	trades  []domain.Trade
	signals []domain.SignalRecord

	// Counters for zero-trade diagnostics.
	generated        int
	belowStrength    int
	shortsDisallowed int
}

func (r *run) loop() {
	warmup := r.strat.WarmupPeriod()
	for i, bar := range r.candles {
		r.markEquity(bar)
		r.updateHWM(bar.Close)
		r.creditDividends(bar)
		if r.checkStops(bar) {
			continue
		}
		if i < warmup-1 {
			continue
		}

		sig := r.evaluate(i)
		if !r.handle(sig, bar) || sig.Direction != domain.SignalExit || r.pos != nil {
			continue
		}
		// Crossover conditions are transient, so an entry that coincides with
		// the exit is only visible on this bar.
		again := r.evaluate(i)
		if again.Direction.IsEntry() {
			r.handle(again, bar)
		}
	}

	if r.e.cfg.CloseAtEnd && r.pos != nil {
		last := r.candles[len(r.candles)-1]
		r.close(last, domain.NewSignal(domain.SignalExit, last.Timestamp, last.Close).WithReason(EndOfBacktestReason))
		r.curve.settleLast(r.cash)
	}
}

func (r *run) equity(price float64) float64 {
	if r.pos == nil {
		return r.cash
	}
	return r.cash + r.pos.MarketValue(price, r.e.cfg.ReinvestDividends)
}

func (r *run) markEquity(bar domain.Candle) {
	r.curve.add(bar.Timestamp, r.equity(bar.Close))
}

func (r *run) updateHWM(price float64) {
	if r.pos == nil {
		r.hwm = 0
		return
	}
	r.hwm = r.e.risk.UpdateHWM(r.pos.Side, r.hwm, price)
}

// creditDividends books every dividend dated at or before bar exactly once.
func (r *run) creditDividends(bar domain.Candle) {
	for r.divIdx < len(r.dividends) && r.dividends[r.divIdx].Timestamp <= bar.Timestamp {
		if r.pos != nil {
			creditDividend(r.pos, r.dividends[r.divIdx], bar.Close, r.e.cfg.ReinvestDividends)
		}
		r.divIdx++
	}
}

// creditDividend adds one dividend to pos. Longs receive it, optionally
// reinvesting into quantity; shorts pay it.
func creditDividend(pos *domain.Position, d domain.Dividend, price float64, reinvest bool) {
	amount := d.Amount * pos.Quantity
	if pos.Side == domain.PositionSideShort {
		pos.DividendIncome -= amount
		return
	}
	pos.DividendIncome += amount
	if reinvest && price > 0 {
		pos.Quantity += amount / price
	}
}

func (r *run) checkStops(bar domain.Candle) bool {
	reason, hit := r.e.risk.CheckExit(r.pos, r.hwm, bar.Close)
	if !hit {
		return false
	}
	sig := domain.NewSignal(domain.SignalExit, bar.Timestamp, bar.Close).WithReason(reason)
	r.signals = append(r.signals, domain.SignalRecord{Symbol: r.symbol, Signal: sig, Executed: true})
	r.close(bar, sig)
	r.e.log.Debug("automatic exit", "symbol", r.symbol, "reason", reason, "ts", bar.Timestamp)
	return true
}

func (r *run) evaluate(i int) domain.Signal {
	return r.strat.OnCandle(&strategy.Context{
		Symbol:     r.symbol,
		Candles:    r.candles[:i+1],
		Index:      i,
		Position:   r.pos,
		Equity:     r.equity(r.candles[i].Close),
		Indicators: r.ind,
	})
}

// handle logs and executes one strategy signal, reporting whether it was
// executed. Rejections are logged no-ops, never errors.
func (r *run) handle(sig domain.Signal, bar domain.Candle) bool {
	if sig.Direction == domain.SignalHold {
		return false
	}
	r.generated++
	executed := false
	switch {
	case sig.Strength < r.e.cfg.MinSignalStrength:
		r.belowStrength++
	case sig.Direction == domain.SignalExit:
		if r.pos != nil {
			r.close(bar, sig)
			executed = true
		}
	case sig.Direction == domain.SignalShort && !r.e.cfg.AllowShort:
		r.shortsDisallowed++
	case r.pos == nil:
		executed = r.open(sig, bar)
	}
	r.signals = append(r.signals, domain.SignalRecord{Symbol: r.symbol, Signal: sig, Executed: executed})
	if !executed {
		r.e.log.Debug("signal not executed", "symbol", r.symbol, "direction", sig.Direction, "ts", sig.Timestamp)
	}
	return executed
}

func (r *run) open(sig domain.Signal, bar domain.Candle) bool {
	side := domain.PositionSideLong
	if sig.Direction == domain.SignalShort {
		side = domain.PositionSideShort
	}
	fill, ok := r.e.broker.Enter(side, bar.Close, r.cash*r.e.cfg.PositionSizePct, r.cash)
	if !ok {
		return false
	}
	r.cash -= fill.Cost()
	r.pos = &domain.Position{
		Symbol:          r.symbol,
		Side:            side,
		EntryTimestamp:  bar.Timestamp,
		EntryPrice:      fill.Price,
		Quantity:        fill.Quantity,
		EntryValue:      fill.Value,
		EntryCommission: fill.Commission,
		EntrySignal:     sig,
	}
	r.hwm = fill.Price
	return true
}

func (r *run) close(bar domain.Candle, exit domain.Signal) {
	trade, proceeds := r.e.broker.Close(r.pos, bar.Timestamp, bar.Close, r.e.cfg.ReinvestDividends, exit)
	r.cash += proceeds
	r.trades = append(r.trades, trade)
	r.pos = nil
	r.hwm = 0
}

func (r *run) result() *BacktestResult {
	cfg := r.e.cfg
	last := r.candles[len(r.candles)-1]
	res := &BacktestResult{
		Symbol:         r.symbol,
		Strategy:       r.strat.Name(),
		Config:         cfg,
		StartTimestamp: r.candles[0].Timestamp,
		EndTimestamp:   last.Timestamp,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    r.equity(last.Close),
		Trades:         r.trades,
		Equity:         r.curve.points,
		Signals:        r.signals,
		OpenPosition:   r.pos,
	}
	res.Metrics = metrics.Calculate(metrics.Input{
		Trades:           r.trades,
		Equity:           r.curve.points,
		InitialCapital:   cfg.InitialCapital,
		SignalsGenerated: len(r.signals),
		SignalsExecuted:  executedCount(r.signals),
		RiskFreeRate:     cfg.RiskFreeRate,
		BarsPerYear:      cfg.BarsPerYear,
	})
	res.Diagnostics = diagnose(diagnosis{
		bars:             len(r.candles),
		warmup:           r.strat.WarmupPeriod(),
		trades:           len(r.trades),
		open:             r.pos != nil,
		generated:        r.generated,
		belowStrength:    r.belowStrength,
		shortsDisallowed: r.shortsDisallowed,
		minStrength:      cfg.MinSignalStrength,
	})
	return res
}

// diagnosis carries the counters used to explain a run without trades.
type diagnosis struct {
	bars             int
	warmup           int
	trades           int
	open             bool
	generated        int
	belowStrength    int
	shortsDisallowed int
	minStrength      float64
}

// diagnose returns informational notes for runs that produced no trades.
func diagnose(d diagnosis) []string {
	if d.trades > 0 {
		return nil
	}
	var notes []string
	if d.open {
		notes = append(notes, "a position is still open; no trade has closed yet")
	}
	if d.generated == 0 {
		notes = append(notes, fmt.Sprintf("strategy generated no signals over %d bars (%d evaluated after warmup of %d)",
			d.bars, max(d.bars-max(d.warmup-1, 0), 0), d.warmup))
		return notes
	}
	if d.belowStrength > 0 {
		notes = append(notes, fmt.Sprintf("%d of %d signals were below min_signal_strength %.2f",
			d.belowStrength, d.generated, d.minStrength))
	}
	if d.shortsDisallowed > 0 {
		notes = append(notes, fmt.Sprintf("%d short signals were ignored because allow_short is false", d.shortsDisallowed))
	}
	if d.belowStrength == 0 && d.shortsDisallowed == 0 && !d.open {
		notes = append(notes, fmt.Sprintf("%d signals were generated but none could be executed", d.generated))
	}
	return notes
}

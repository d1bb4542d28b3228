package engine

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"tradesim/internal/broker"
	"tradesim/internal/domain"
	"tradesim/internal/indicator"
	"tradesim/internal/metrics"
	"tradesim/internal/strategy"
)

// SymbolData is one symbol's input to a portfolio run.
type SymbolData struct {
	Symbol    string
	Candles   []domain.Candle
	Dividends []domain.Dividend
}

// PortfolioEngine runs one strategy instance per symbol against a shared
// cash pool on the union of all symbols' timestamps.
type PortfolioEngine struct {
	cfg    Config
	opts   PortfolioOptions
	broker *broker.SimulatorBroker
	risk   *RiskManager
	log    *slog.Logger
}

// NewPortfolioEngine validates cfg and creates a PortfolioEngine. The
// options are validated against the symbol count when Run is called.
func NewPortfolioEngine(cfg Config, opts PortfolioOptions) (*PortfolioEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Rebalance == "" {
		opts.Rebalance = RebalanceAvailableCapital
	}
	return &PortfolioEngine{
		cfg:    cfg,
		opts:   opts,
		broker: newBroker(cfg),
		risk:   NewRiskManager(cfg.StopLossPct, cfg.TakeProfitPct, cfg.TrailingStopPct),
		log:    slog.Default().With("component", "portfolio"),
	}, nil
}

// SetLogger replaces the engine's logger.
func (pe *PortfolioEngine) SetLogger(l *slog.Logger) {
	pe.log = l
}

// symbolState is the per-symbol slice of portfolio state.
type symbolState struct {
	data   SymbolData
	strat  strategy.Strategy
	ind    indicator.Set
	index  map[int64]int
	warmup int

	pos       *domain.Position
	hwm       float64
	divIdx    int
	lastClose float64
	lastTS    int64

	baseline float64
	realized float64
	curve    curveTracker
	trades   []domain.Trade
	signals  []domain.SignalRecord
}

func (st *symbolState) symbol() string { return st.data.Symbol }

// pendingEntry is an entry signal waiting for phase-four ranking.
type pendingEntry struct {
	st  *symbolState
	sig domain.Signal
	bar domain.Candle
}

// Run backtests every symbol with an independent strategy from factory.
func (pe *PortfolioEngine) Run(data []SymbolData, factory strategy.Factory) (*PortfolioResult, error) {
	if err := pe.opts.Validate(len(data)); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, invalidParam("strategy_factory", "must not be nil")
	}

	states, err := pe.setup(data, factory)
	if err != nil {
		return nil, err
	}
	p := &portfolioRun{
		pe:       pe,
		states:   states,
		cash:     pe.cfg.InitialCapital,
		maxSlots: pe.opts.slots(len(states)),
	}
	p.loop(masterTimeline(states))
	res := p.result()

	pe.log.Info("portfolio backtest complete",
		"symbols", len(states),
		"strategy", res.Strategy,
		"trades", len(res.Trades),
		"final_equity", res.FinalEquity,
	)
	return res, nil
}

// setup validates each symbol, builds its strategy and lookup table, and
// precomputes its indicators, concurrently when enabled.
func (pe *PortfolioEngine) setup(data []SymbolData, factory strategy.Factory) ([]*symbolState, error) {
	seen := make(map[string]bool, len(data))
	states := make([]*symbolState, len(data))
	baseline := pe.cfg.InitialCapital / float64(pe.opts.slots(len(data)))

	for i, d := range data {
		if d.Symbol == "" {
			return nil, invalidParam("symbols", "empty symbol at index %d", i)
		}
		if seen[d.Symbol] {
			return nil, invalidParam("symbols", "duplicate symbol %s", d.Symbol)
		}
		seen[d.Symbol] = true

		s := factory(d.Symbol)
		if err := checkInputs(d.Symbol, d.Candles, d.Dividends, s); err != nil {
			return nil, err
		}
		index := make(map[int64]int, len(d.Candles))
		for j, c := range d.Candles {
			index[c.Timestamp] = j
		}
		states[i] = &symbolState{
			data:     d,
			strat:    s,
			index:    index,
			warmup:   s.WarmupPeriod(),
			baseline: baseline,
		}
	}

	var g errgroup.Group
	if pe.opts.ParallelIndicators {
		g.SetLimit(runtime.GOMAXPROCS(0))
	} else {
		g.SetLimit(1)
	}
	for _, st := range states {
		g.Go(func() error {
			ind, err := indicator.Precompute(st.data.Candles, st.strat.RequiredIndicators())
			if err != nil {
				return &InvalidParamError{Name: "indicators", Reason: fmt.Sprintf("%s: %v", st.symbol(), err)}
			}
			st.ind = ind
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(states, func(i, j int) bool { return states[i].symbol() < states[j].symbol() })
	return states, nil
}

// masterTimeline returns the sorted union of every symbol's timestamps.
func masterTimeline(states []*symbolState) []int64 {
	set := make(map[int64]struct{})
	for _, st := range states {
		for _, c := range st.data.Candles {
			set[c.Timestamp] = struct{}{}
		}
	}
	out := make([]int64, 0, len(set))
	for ts := range set {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Per-run state machine
// ---------------------------------------------------------------------------

type portfolioRun struct {
	pe       *PortfolioEngine
	states   []*symbolState
	cash     float64
	maxSlots int

	curve       curveTracker
	allocations []domain.AllocationSnapshot
}

func (p *portfolioRun) loop(timeline []int64) {
	for _, ts := range timeline {
		active := p.active(ts)

		exits := p.mark(active)
		exited := p.autoExit(exits)
		pending := p.collectSignals(active, exited)
		p.executeEntries(pending)
		p.record(ts, active)
	}
	p.closeAtEnd()
}

// active maps each state with a bar at ts to that bar's index.
func (p *portfolioRun) active(ts int64) map[*symbolState]int {
	out := make(map[*symbolState]int)
	for _, st := range p.states {
		if i, ok := st.index[ts]; ok {
			out[st] = i
		}
	}
	return out
}

func (p *portfolioRun) openCount() int {
	n := 0
	for _, st := range p.states {
		if st.pos != nil {
			n++
		}
	}
	return n
}

// equity returns cash plus every open position marked at its latest close.
func (p *portfolioRun) equity() float64 {
	eq := p.cash
	for _, st := range p.states {
		if st.pos != nil {
			eq += st.pos.MarketValue(st.lastClose, p.pe.cfg.ReinvestDividends)
		}
	}
	return eq
}

type stopExit struct {
	st     *symbolState
	bar    domain.Candle
	reason string
}

// mark is phase one: refresh prices and high-water marks, credit dividends
// and queue triggered stops.
func (p *portfolioRun) mark(active map[*symbolState]int) []stopExit {
	var exits []stopExit
	for _, st := range p.states {
		i, ok := active[st]
		if !ok {
			continue
		}
		bar := st.data.Candles[i]
		st.lastClose, st.lastTS = bar.Close, bar.Timestamp

		if st.pos == nil {
			st.hwm = 0
		} else {
			st.hwm = p.pe.risk.UpdateHWM(st.pos.Side, st.hwm, bar.Close)
		}
		for st.divIdx < len(st.data.Dividends) && st.data.Dividends[st.divIdx].Timestamp <= bar.Timestamp {
			if st.pos != nil {
				creditDividend(st.pos, st.data.Dividends[st.divIdx], bar.Close, p.pe.cfg.ReinvestDividends)
			}
			st.divIdx++
		}
		if reason, hit := p.pe.risk.CheckExit(st.pos, st.hwm, bar.Close); hit {
			exits = append(exits, stopExit{st: st, bar: bar, reason: reason})
		}
	}
	return exits
}

// autoExitPrefix marks exits the portfolio engine took on its own.
const autoExitPrefix = "SL/TP/Trailing stop: "

// autoExit is phase two: close every queued stop before any strategy runs.
func (p *portfolioRun) autoExit(exits []stopExit) map[*symbolState]bool {
	exited := make(map[*symbolState]bool, len(exits))
	for _, x := range exits {
		sig := domain.NewSignal(domain.SignalExit, x.bar.Timestamp, x.bar.Close).WithReason(autoExitPrefix + x.reason)
		x.st.signals = append(x.st.signals, domain.SignalRecord{Symbol: x.st.symbol(), Signal: sig, Executed: true})
		p.close(x.st, x.bar, sig)
		exited[x.st] = true
		p.pe.log.Debug("automatic exit", "symbol", x.st.symbol(), "reason", x.reason, "ts", x.bar.Timestamp)
	}
	return exited
}

// collectSignals is phase three: exits execute at once, entries are queued.
func (p *portfolioRun) collectSignals(active map[*symbolState]int, exited map[*symbolState]bool) []pendingEntry {
	var pending []pendingEntry
	for _, st := range p.states {
		i, ok := active[st]
		if !ok || exited[st] || i < st.warmup-1 {
			continue
		}
		bar := st.data.Candles[i]
		sig := st.strat.OnCandle(&strategy.Context{
			Symbol:     st.symbol(),
			Candles:    st.data.Candles[:i+1],
			Index:      i,
			Position:   st.pos,
			Equity:     p.equity(),
			Indicators: st.ind,
		})
		if sig.Direction == domain.SignalHold {
			continue
		}
		switch {
		case sig.Strength < p.pe.cfg.MinSignalStrength:
			p.reject(st, sig, "below min_signal_strength")
		case sig.Direction == domain.SignalExit:
			if st.pos == nil {
				p.reject(st, sig, "no open position")
				continue
			}
			st.signals = append(st.signals, domain.SignalRecord{Symbol: st.symbol(), Signal: sig, Executed: true})
			p.close(st, bar, sig)
		case st.pos != nil:
			p.reject(st, sig, "position already open")
		default:
			pending = append(pending, pendingEntry{st: st, sig: sig, bar: bar})
		}
	}
	return pending
}

// executeEntries is phase four: strongest signals first, ties by symbol.
func (p *portfolioRun) executeEntries(pending []pendingEntry) {
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].sig.Strength != pending[j].sig.Strength {
			return pending[i].sig.Strength > pending[j].sig.Strength
		}
		return pending[i].st.symbol() < pending[j].st.symbol()
	})
	equity := p.equity()
	for _, e := range pending {
		st := e.st
		switch {
		case st.pos != nil:
			p.reject(st, e.sig, "position already open")
			continue
		case p.openCount() >= p.maxSlots:
			p.reject(st, e.sig, "max_total_positions reached")
			continue
		case e.sig.Direction == domain.SignalShort && !p.pe.cfg.AllowShort:
			p.reject(st, e.sig, "allow_short is false")
			continue
		}

		side := domain.PositionSideLong
		if e.sig.Direction == domain.SignalShort {
			side = domain.PositionSideShort
		}
		fill, ok := p.pe.broker.Enter(side, e.bar.Close, p.allocation(equity), p.cash)
		if !ok {
			p.reject(st, e.sig, "insufficient cash")
			continue
		}
		p.cash -= fill.Cost()
		st.pos = &domain.Position{
			Symbol:          st.symbol(),
			Side:            side,
			EntryTimestamp:  e.bar.Timestamp,
			EntryPrice:      fill.Price,
			Quantity:        fill.Quantity,
			EntryValue:      fill.Value,
			EntryCommission: fill.Commission,
			EntrySignal:     e.sig,
		}
		st.hwm = fill.Price
		st.signals = append(st.signals, domain.SignalRecord{Symbol: st.symbol(), Signal: e.sig, Executed: true})
	}
}

// allocation returns the capital committed to the next entry. equity is the
// portfolio value taken before this phase's entries.
func (p *portfolioRun) allocation(equity float64) float64 {
	var target float64
	switch p.pe.opts.Rebalance {
	case RebalanceEqualWeight:
		target = math.Min(p.pe.cfg.InitialCapital/float64(p.maxSlots), p.cash)
	default:
		free := max(p.maxSlots-p.openCount(), 1)
		target = p.cash / float64(free)
	}
	target *= p.pe.cfg.PositionSizePct
	if pct := p.pe.opts.MaxAllocationPct; pct > 0 {
		target = math.Min(target, equity*pct)
	}
	return target
}

func (p *portfolioRun) reject(st *symbolState, sig domain.Signal, why string) {
	st.signals = append(st.signals, domain.SignalRecord{Symbol: st.symbol(), Signal: sig, Executed: false})
	p.pe.log.Debug("signal not executed", "symbol", st.symbol(), "direction", sig.Direction, "reason", why, "ts", sig.Timestamp)
}

// close settles st's position. The cash reserved at entry comes back
// together with the realized P&L.
func (p *portfolioRun) close(st *symbolState, bar domain.Candle, exit domain.Signal) {
	trade, _ := p.pe.broker.Close(st.pos, bar.Timestamp, bar.Close, p.pe.cfg.ReinvestDividends, exit)
	p.cash += st.pos.EntryValue + st.pos.EntryCommission + trade.PnL
	st.realized += trade.PnL
	st.trades = append(st.trades, trade)
	st.pos = nil
	st.hwm = 0
}

func (p *portfolioRun) symbolEquity(st *symbolState) float64 {
	eq := st.baseline + st.realized
	if st.pos != nil {
		eq += st.pos.UnrealizedPnL(st.lastClose, p.pe.cfg.ReinvestDividends)
	}
	return eq
}

// record appends the portfolio equity point, each active symbol's equity
// point and an allocation snapshot.
func (p *portfolioRun) record(ts int64, active map[*symbolState]int) {
	p.curve.add(ts, p.equity())
	snap := domain.AllocationSnapshot{Timestamp: ts, Cash: p.cash, Positions: make(map[string]float64)}
	for _, st := range p.states {
		if _, ok := active[st]; ok {
			st.curve.add(ts, p.symbolEquity(st))
		}
		if st.pos != nil {
			snap.Positions[st.symbol()] = st.pos.MarketValue(st.lastClose, p.pe.cfg.ReinvestDividends)
		}
	}
	p.allocations = append(p.allocations, snap)
}

func (p *portfolioRun) closeAtEnd() {
	if !p.pe.cfg.CloseAtEnd {
		return
	}
	closed := false
	for _, st := range p.states {
		if st.pos == nil {
			continue
		}
		bar := domain.Candle{Timestamp: st.lastTS, Close: st.lastClose}
		sig := domain.NewSignal(domain.SignalExit, st.lastTS, st.lastClose).WithReason(EndOfBacktestReason)
		st.signals = append(st.signals, domain.SignalRecord{Symbol: st.symbol(), Signal: sig, Executed: true})
		p.close(st, bar, sig)
		st.curve.settleLast(p.symbolEquity(st))
		closed = true
	}
	if closed {
		p.curve.settleLast(p.cash)
	}
}

func (p *portfolioRun) result() *PortfolioResult {
	cfg := p.pe.cfg
	res := &PortfolioResult{
		Config:         cfg,
		Options:        p.pe.opts,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    p.equity(),
		Symbols:        make(map[string]*BacktestResult, len(p.states)),
		Equity:         p.curve.points,
		Allocations:    p.allocations,
	}

	var generated, executed int
	for _, st := range p.states {
		res.Strategy = st.strat.Name()
		res.Trades = append(res.Trades, st.trades...)
		generated += len(st.signals)
		executed += executedCount(st.signals)
		res.Symbols[st.symbol()] = p.symbolResult(st)
	}
	sort.SliceStable(res.Trades, func(i, j int) bool {
		if res.Trades[i].ExitTimestamp != res.Trades[j].ExitTimestamp {
			return res.Trades[i].ExitTimestamp < res.Trades[j].ExitTimestamp
		}
		return res.Trades[i].Symbol < res.Trades[j].Symbol
	})

	res.Metrics = metrics.Calculate(metrics.Input{
		Trades:           res.Trades,
		Equity:           res.Equity,
		InitialCapital:   cfg.InitialCapital,
		SignalsGenerated: generated,
		SignalsExecuted:  executed,
		RiskFreeRate:     cfg.RiskFreeRate,
		BarsPerYear:      cfg.BarsPerYear,
	})
	if len(res.Trades) == 0 {
		res.Diagnostics = append(res.Diagnostics,
			fmt.Sprintf("no trades across %d symbols (%d signals, %d executed)", len(p.states), generated, executed))
	}
	return res
}

func (p *portfolioRun) symbolResult(st *symbolState) *BacktestResult {
	cfg := p.pe.cfg
	candles := st.data.Candles
	r := &BacktestResult{
		Symbol:         st.symbol(),
		Strategy:       st.strat.Name(),
		Config:         cfg,
		StartTimestamp: candles[0].Timestamp,
		EndTimestamp:   candles[len(candles)-1].Timestamp,
		InitialCapital: st.baseline,
		FinalEquity:    p.symbolEquity(st),
		Trades:         st.trades,
		Equity:         st.curve.points,
		Signals:        st.signals,
		OpenPosition:   st.pos,
	}
	r.Metrics = metrics.Calculate(metrics.Input{
		Trades:           st.trades,
		Equity:           st.curve.points,
		InitialCapital:   st.baseline,
		SignalsGenerated: len(st.signals),
		SignalsExecuted:  executedCount(st.signals),
		RiskFreeRate:     cfg.RiskFreeRate,
		BarsPerYear:      cfg.BarsPerYear,
	})

	var below, shorts int
	for _, s := range st.signals {
		if !s.Executed && s.Signal.Strength < cfg.MinSignalStrength {
			below++
		}
		if !s.Executed && s.Signal.Direction == domain.SignalShort && !cfg.AllowShort {
			shorts++
		}
	}
	r.Diagnostics = diagnose(diagnosis{
		bars:             len(candles),
		warmup:           st.warmup,
		trades:           len(st.trades),
		open:             st.pos != nil,
		generated:        len(st.signals),
		belowStrength:    below,
		shortsDisallowed: shorts,
		minStrength:      cfg.MinSignalStrength,
	})
	return r
}

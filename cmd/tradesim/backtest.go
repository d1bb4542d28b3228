package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/report"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
)

// backtestFlags are shared by the run and portfolio commands.
type backtestFlags struct {
	strategy string
	params   map[string]string
	start    string
	end      string
	json     bool
	save     bool
	trades   int
}

func (f *backtestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", "", "strategy name (default from config)")
	cmd.Flags().StringToStringVarP(&f.params, "param", "p", nil, "strategy parameter name=value (repeatable)")
	cmd.Flags().StringVar(&f.start, "start", "", "first day YYYY-MM-DD (default data.start_date)")
	cmd.Flags().StringVar(&f.end, "end", "", "last day YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVar(&f.save, "save", true, "persist the run to the SQLite result store")
	cmd.Flags().IntVar(&f.trades, "trades", 20, "number of most recent trades to list (-1 for all)")
}

// strategySpec resolves the strategy name and parameters from flags over
// the configuration.
func (a *app) strategySpec(f *backtestFlags) (string, strategy.Params, error) {
	name := a.cfg.Strategy.Name
	if f.strategy != "" {
		name = f.strategy
	}
	params := strategy.Params{}
	if f.strategy == "" || f.strategy == a.cfg.Strategy.Name {
		for k, v := range a.cfg.Strategy.Params {
			params[k] = v
		}
	}
	for k, raw := range f.params {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		params[k] = v
	}
	return name, params, nil
}

// loadSymbol reads the candles and dividends of symbol from the data store.
func (a *app) loadSymbol(ctx context.Context, ps *store.ParquetStore, symbol string, from, to time.Time) (engine.SymbolData, error) {
	candles, err := ps.ReadCandles(ctx, symbol, a.cfg.Data.Interval, from, to)
	if err != nil {
		return engine.SymbolData{}, err
	}
	if len(candles) == 0 {
		return engine.SymbolData{}, fmt.Errorf("no %s candles stored for %s; run `tradesim gather %s` first",
			a.cfg.Data.Interval, symbol, symbol)
	}
	divs, err := ps.ReadDividends(ctx, symbol)
	if err != nil {
		return engine.SymbolData{}, err
	}
	first, last := candles[0].Timestamp, candles[len(candles)-1].Timestamp
	var inRange []domain.Dividend
	for _, d := range divs {
		if d.Timestamp >= first && d.Timestamp <= last {
			inRange = append(inRange, d)
		}
	}
	return engine.SymbolData{Symbol: symbol, Candles: candles, Dividends: inRange}, nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		f         backtestFlags
		benchmark string
	)
	cmd := &cobra.Command{
		Use:   "run SYMBOL",
		Short: "Backtest a strategy on one symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			symbol := strings.ToUpper(args[0])
			from, to, err := a.dateRange(f.start, f.end)
			if err != nil {
				return err
			}
			name, params, err := a.strategySpec(&f)
			if err != nil {
				return err
			}
			s, err := a.registry.Build(name, params)
			if err != nil {
				return err
			}

			ps := store.NewParquetStore(a.cfg.Storage.DataDir)
			data, err := a.loadSymbol(ctx, ps, symbol, from, to)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(a.cfg.Backtest)
			if err != nil {
				return err
			}

			if benchmark == "" {
				benchmark = a.cfg.Benchmark.Symbol
			}
			var res *engine.BacktestResult
			if benchmark != "" {
				bench, err := ps.ReadCandles(ctx, strings.ToUpper(benchmark), a.cfg.Data.Interval, from, to)
				if err != nil {
					return fmt.Errorf("reading benchmark %s: %w", benchmark, err)
				}
				res, err = eng.RunWithBenchmark(symbol, data.Candles, data.Dividends, s, strings.ToUpper(benchmark), bench)
				if err != nil {
					return err
				}
			} else if res, err = eng.RunWithDividends(symbol, data.Candles, data.Dividends, s); err != nil {
				return err
			}

			if f.save {
				if err := a.saveRun(ctx, &store.Run{
					Kind:           store.RunKindSingle,
					Strategy:       res.Strategy,
					Symbols:        []string{symbol},
					Config:         res.Config,
					InitialCapital: res.InitialCapital,
					FinalEquity:    res.FinalEquity,
					Metrics:        res.Metrics,
					Trades:         res.Trades,
					Signals:        res.Signals,
					Equity:         res.Equity,
				}); err != nil {
					return err
				}
			}

			r := report.NewWriter(cmd.OutOrStdout(), f.trades)
			if f.json {
				return r.JSON(res)
			}
			r.Backtest(res)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&benchmark, "benchmark", "b", "", "benchmark symbol (default from config)")
	return cmd
}

func newPortfolioCmd(a *app) *cobra.Command {
	var (
		f            backtestFlags
		maxPositions int
		rebalance    string
	)
	cmd := &cobra.Command{
		Use:   "portfolio SYMBOL [SYMBOL...]",
		Short: "Backtest a strategy across several symbols sharing one capital pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, to, err := a.dateRange(f.start, f.end)
			if err != nil {
				return err
			}
			name, params, err := a.strategySpec(&f)
			if err != nil {
				return err
			}
			factory, err := a.registry.Factory(name, params)
			if err != nil {
				return err
			}

			opts := a.cfg.Portfolio
			if cmd.Flags().Changed("max-positions") {
				opts.MaxTotalPositions = maxPositions
			}
			if rebalance != "" {
				opts.Rebalance = engine.RebalanceMode(rebalance)
			}

			ps := store.NewParquetStore(a.cfg.Storage.DataDir)
			data := make([]engine.SymbolData, 0, len(args))
			for _, arg := range args {
				d, err := a.loadSymbol(ctx, ps, strings.ToUpper(arg), from, to)
				if err != nil {
					return err
				}
				data = append(data, d)
			}

			pe, err := engine.NewPortfolioEngine(a.cfg.Backtest, opts)
			if err != nil {
				return err
			}
			res, err := pe.Run(data, factory)
			if err != nil {
				return err
			}

			if f.save {
				symbols := make([]string, 0, len(res.Symbols))
				for s := range res.Symbols {
					symbols = append(symbols, s)
				}
				sort.Strings(symbols)
				var signals []domain.SignalRecord
				for _, s := range symbols {
					signals = append(signals, res.Symbols[s].Signals...)
				}
				if err := a.saveRun(ctx, &store.Run{
					Kind:           store.RunKindPortfolio,
					Strategy:       res.Strategy,
					Symbols:        symbols,
					Config:         map[string]any{"backtest": res.Config, "portfolio": res.Options},
					InitialCapital: res.InitialCapital,
					FinalEquity:    res.FinalEquity,
					Metrics:        res.Metrics,
					Trades:         res.Trades,
					Signals:        signals,
					Equity:         res.Equity,
				}); err != nil {
					return err
				}
			}

			r := report.NewWriter(cmd.OutOrStdout(), f.trades)
			if f.json {
				return r.JSON(res)
			}
			r.Portfolio(res)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&maxPositions, "max-positions", 0, "maximum concurrent positions (0 = one per symbol)")
	cmd.Flags().StringVar(&rebalance, "rebalance", "", "sizing mode: available_capital or equal_weight")
	return cmd
}

// saveRun persists run to the SQLite result store.
func (a *app) saveRun(ctx context.Context, run *store.Run) error {
	rs, err := a.openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()
	id, err := rs.SaveRun(ctx, run)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	slog.Info("run saved", "id", id, "kind", run.Kind, "strategy", run.Strategy)
	return nil
}

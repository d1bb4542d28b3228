package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/gather"
	"tradesim/internal/report"
	"tradesim/internal/store"
)

func newGatherCmd(a *app) *cobra.Command {
	var (
		provider    string
		start, end  string
		symbolsFile string
		noResume    bool
	)
	cmd := &cobra.Command{
		Use:   "gather [SYMBOL...]",
		Short: "Download candles into the local data store",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := args
			if symbolsFile != "" {
				fromFile, err := readSymbols(symbolsFile)
				if err != nil {
					return err
				}
				symbols = append(symbols, fromFile...)
			}
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols given")
			}
			from, to, err := a.dateRange(start, end)
			if err != nil {
				return err
			}
			if provider == "" {
				provider = a.cfg.Data.Provider
			}
			p, err := a.provider(provider)
			if err != nil {
				return err
			}

			opts := gather.Options{
				Interval:    a.cfg.Data.Interval,
				Workers:     a.cfg.Data.MaxWorkers,
				RatePerSec:  float64(a.cfg.Data.RateLimitPerMin) / 60,
				Burst:       a.cfg.Data.MaxWorkers,
				MaxAttempts: a.cfg.Data.MaxAttempts,
				RetryDelay:  time.Second,
			}
			if !noResume {
				opts.ProgressDir = filepath.Join(a.cfg.Storage.DataDir, a.cfg.Data.Interval, ".progress-"+p.Name())
			}
			g := gather.New(p, store.NewParquetStore(a.cfg.Storage.DataDir), opts)
			sum, err := g.Run(cmd.Context(), symbols, gather.DateRange{Start: from, End: to})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s symbols requested: %s fetched, %s empty, %s skipped, %s failed, %s candles, %s dividends\n",
				report.FormatInt(sum.Requested), report.FormatInt(sum.Fetched), report.FormatInt(sum.Empty),
				report.FormatInt(sum.Skipped), report.FormatInt(sum.Failed), report.FormatInt(sum.Candles), report.FormatInt(sum.Dividends))
			if sum.Failed > 0 {
				return fmt.Errorf("%d symbols failed", sum.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "data provider: yahoo or alpaca (default from config)")
	cmd.Flags().StringVar(&start, "start", "", "first day YYYY-MM-DD (default data.start_date)")
	cmd.Flags().StringVar(&end, "end", "", "last day YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&symbolsFile, "file", "f", "", "file with one symbol per line")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore progress from earlier runs")
	return cmd
}

func (a *app) provider(name string) (gather.Provider, error) {
	switch strings.ToLower(name) {
	case "yahoo":
		return gather.NewYahooProvider(), nil
	case "alpaca":
		al := a.cfg.Data.Alpaca
		if al.APIKey == "" || al.APISecret == "" {
			return nil, fmt.Errorf("alpaca provider needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return gather.NewAlpacaProvider(al.APIKey, al.APISecret, al.DataURL, al.Feed), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// readSymbols reads one symbol per line, skipping blanks and # comments. A
// CSV line contributes its first field.
func readSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbols file: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym, _, _ := strings.Cut(line, ",")
		out = append(out, strings.TrimSpace(sym))
	}
	return out, sc.Err()
}

func newStrategiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List registered strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			report.NewWriter(cmd.OutOrStdout(), 0).Strategies(a.registry.List())
			return nil
		},
	}
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored backtest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.openRunStore()
			if err != nil {
				return err
			}
			defer rs.Close()
			runs, err := rs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			report.NewWriter(cmd.OutOrStdout(), 0).Runs(runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show the trades of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.openRunStore()
			if err != nil {
				return err
			}
			defer rs.Close()
			trades, err := rs.RunTrades(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			equity, err := rs.RunEquity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(trades) == 0 && len(equity) == 0 {
				return fmt.Errorf("run %s not found or empty", args[0])
			}
			out := cmd.OutOrStdout()
			if len(equity) > 0 {
				first, last := equity[0], equity[len(equity)-1]
				fmt.Fprintf(out, "equity %s .. %s: %s -> %s over %s points\n\n",
					report.FormatTime(first.Timestamp), report.FormatTime(last.Timestamp),
					report.FormatMoney(first.Equity), report.FormatMoney(last.Equity), report.FormatInt(len(equity)))
			}
			report.NewWriter(out, -1).Trades(trades)
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}

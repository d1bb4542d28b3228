package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"tradesim/internal/config"
	"tradesim/internal/engine"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
	"tradesim/internal/strategy/builtins"
	"tradesim/internal/util"
)

const (
	version           = "0.1.0"
	defaultConfigPath = "config/tradesim.yaml"
)

// app holds state shared by every subcommand once the root command has
// loaded the configuration.
type app struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg      *config.Config
	registry *strategy.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{registry: strategy.NewRegistry()}
	builtins.Register(a.registry)

	root := &cobra.Command{
		Use:           "tradesim",
		Short:         "tradesim - strategy backtesting on historical candles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "configuration file (default $TRADESIM_CONFIG or "+defaultConfigPath+" if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format override: text or json")

	root.AddCommand(
		newRunCmd(a),
		newPortfolioCmd(a),
		newGatherCmd(a),
		newStrategiesCmd(a),
		newRunsCmd(a),
		newVersionCmd(),
	)
	return root
}

// load resolves the config path, loads the configuration and installs the
// default logger.
func (a *app) load() error {
	path := a.cfgPath
	if path == "" {
		path = os.Getenv("TRADESIM_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	// Derive bars_per_year from a non-daily interval unless it was set.
	if cfg.Backtest.BarsPerYear == engine.DefaultConfig().BarsPerYear {
		if bpy, err := util.BarsPerYear(cfg.Data.Interval); err == nil {
			cfg.Backtest.BarsPerYear = bpy
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	slog.Debug("config loaded", "path", path, "dataDir", cfg.Storage.DataDir, "interval", cfg.Data.Interval)
	return nil
}

// dateRange parses the --start/--end flags, defaulting to the configured
// start date and today.
func (a *app) dateRange(start, end string) (time.Time, time.Time, error) {
	from, err := a.cfg.StartDate()
	if start != "" {
		from, err = time.Parse(time.DateOnly, start)
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing start date: %w", err)
	}
	to := time.Now().UTC()
	if end != "" {
		if to, err = time.Parse(time.DateOnly, end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing end date: %w", err)
		}
		// Inclusive of the whole end day.
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("end date must be after start date")
	}
	return from, to, nil
}

// openRunStore opens the SQLite result store.
func (a *app) openRunStore() (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}
	return store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradesim %s\n", version)
		},
	}
}

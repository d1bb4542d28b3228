// Package store defines storage interfaces for market data and backtest
// results, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/metrics"
)

// CandleStore persists and retrieves OHLCV candles.
type CandleStore interface {
	// WriteCandles merges candles for symbol into storage.
	WriteCandles(ctx context.Context, symbol, interval string, candles []domain.Candle) error

	// ReadCandles returns candles for symbol within [start, end], ascending.
	ReadCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all symbols with candles at the given interval.
	ListSymbols(ctx context.Context, interval string) ([]string, error)
}

// DividendStore persists and retrieves dividend events.
type DividendStore interface {
	// WriteDividends merges dividends for symbol into storage.
	WriteDividends(ctx context.Context, symbol string, dividends []domain.Dividend) error

	// ReadDividends returns every stored dividend for symbol, ascending.
	ReadDividends(ctx context.Context, symbol string) ([]domain.Dividend, error)
}

// RunStore persists completed backtest runs.
type RunStore interface {
	// SaveRun stores run with its ledger and returns its ID.
	SaveRun(ctx context.Context, run *Run) (string, error)

	// ListRuns returns the most recent run summaries, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// RunTrades returns the trades of a stored run.
	RunTrades(ctx context.Context, id string) ([]domain.Trade, error)

	// RunEquity returns the equity curve of a stored run.
	RunEquity(ctx context.Context, id string) ([]domain.EquityPoint, error)
}

// Run kinds.
const (
	RunKindSingle    = "single"
	RunKindPortfolio = "portfolio"
)

// Run is a persisted backtest. ListRuns fills only the summary fields;
// the ledger is read back with RunTrades and RunEquity.
type Run struct {
	ID             string
	CreatedAt      time.Time
	Kind           string
	Strategy       string
	Symbols        []string
	Config         any // stored as JSON
	InitialCapital float64
	FinalEquity    float64
	Metrics        metrics.Metrics

	Trades  []domain.Trade
	Signals []domain.SignalRecord
	Equity  []domain.EquityPoint
}

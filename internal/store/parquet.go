package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradesim/internal/domain"
)

// Compile-time interface checks.
var _ CandleStore = (*ParquetStore)(nil)
var _ DividendStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore and DividendStore using Parquet files
// on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRecord is the Parquet schema for candle data.
type CandleRecord struct {
	Symbol    string   `parquet:"symbol"`
	Timestamp int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64  `parquet:"open"`
	High      float64  `parquet:"high"`
	Low       float64  `parquet:"low"`
	Close     float64  `parquet:"close"`
	Volume    int64    `parquet:"volume"`
	AdjClose  *float64 `parquet:"adj_close,optional"`
}

// DividendRecord is the Parquet schema for dividend events.
type DividendRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Amount    float64 `parquet:"amount"`
}

// ---------------------------------------------------------------------------
// CandleStore implementation
// ---------------------------------------------------------------------------

// WriteCandles writes candles to Parquet files organized by symbol and year,
// merging with any candles already stored. Each symbol+year combination
// produces a separate file at:
//
//	<DataDir>/<interval>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteCandles(_ context.Context, symbol, interval string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	groups := make(map[int][]CandleRecord)
	for _, c := range candles {
		year := c.Time().Year()
		groups[year] = append(groups[year], CandleRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: c.Timestamp * 1000,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			AdjClose:  c.AdjClose,
		})
	}

	for year, records := range groups {
		path := s.candlePath(symbol, interval, year)

		existing, err := readParquetFile[CandleRecord](path)
		if err != nil {
			return fmt.Errorf("reading candles for %s/%d: %w", symbol, year, err)
		}
		merged := mergeCandleRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing candles for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadCandles reads candles from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadCandles(_ context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[CandleRecord](s.candlePath(symbol, interval, year))
		if err != nil {
			return nil, fmt.Errorf("reading candles for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			candles = append(candles, domain.Candle{
				Timestamp: r.Timestamp / 1000,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
				AdjClose:  r.AdjClose,
			})
		}
	}
	return candles, nil
}

// ListSymbols lists all symbols that have candles at the given interval.
func (s *ParquetStore) ListSymbols(_ context.Context, interval string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, interval))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// DividendStore implementation
// ---------------------------------------------------------------------------

// WriteDividends merges dividends into <DataDir>/dividends/<SYMBOL>.parquet.
func (s *ParquetStore) WriteDividends(_ context.Context, symbol string, dividends []domain.Dividend) error {
	if len(dividends) == 0 {
		return nil
	}
	path := s.dividendPath(symbol)
	existing, err := readParquetFile[DividendRecord](path)
	if err != nil {
		return fmt.Errorf("reading dividends for %s: %w", symbol, err)
	}
	records := make([]DividendRecord, len(dividends))
	for i, d := range dividends {
		records[i] = DividendRecord{Symbol: strings.ToUpper(symbol), Timestamp: d.Timestamp * 1000, Amount: d.Amount}
	}
	if err := writeParquetFile(path, mergeDividendRecords(existing, records)); err != nil {
		return fmt.Errorf("writing dividends for %s: %w", symbol, err)
	}
	return nil
}

// ReadDividends returns every stored dividend for symbol.
func (s *ParquetStore) ReadDividends(_ context.Context, symbol string) ([]domain.Dividend, error) {
	records, err := readParquetFile[DividendRecord](s.dividendPath(symbol))
	if err != nil {
		return nil, fmt.Errorf("reading dividends for %s: %w", symbol, err)
	}
	out := make([]domain.Dividend, len(records))
	for i, r := range records {
		out[i] = domain.Dividend{Timestamp: r.Timestamp / 1000, Amount: r.Amount}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// candlePath returns the filesystem path for a candle Parquet file.
// Layout: <dataDir>/<interval>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) candlePath(symbol, interval string, year int) string {
	return filepath.Join(s.DataDir, interval, strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

// dividendPath returns the filesystem path for a dividend Parquet file.
// Layout: <dataDir>/dividends/<SYMBOL>.parquet
func (s *ParquetStore) dividendPath(symbol string) string {
	return filepath.Join(s.DataDir, "dividends", strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns the rows of path, or nil when the file does not
// exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates candle records by timestamp, preferring
// new records over existing ones.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeDividendRecords deduplicates dividend records by timestamp, preferring
// new records over existing ones. Results are sorted by timestamp.
func mergeDividendRecords(existing, incoming []DividendRecord) []DividendRecord {
	seen := make(map[int64]DividendRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]DividendRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

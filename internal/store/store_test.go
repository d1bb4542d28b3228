package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/metrics"
)

func unix(year int, month time.Month, d int) int64 {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC).Unix()
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.candlePath("aapl", "1d", 2024)
	want := filepath.Join("/data", "1d", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.dividendPath("msft")
	want = filepath.Join("/data", "dividends", "MSFT.parquet")
	if got != want {
		t.Errorf("dividendPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadCandles(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	adj := 184.9
	candles := []domain.Candle{
		{Timestamp: unix(2023, 12, 29), Open: 190, High: 191, Low: 189, Close: 190.5, Volume: 40_000_000},
		{Timestamp: unix(2024, 1, 2), Open: 185, High: 186.5, Low: 184, Close: 185.5, Volume: 50_000_000, AdjClose: &adj},
		{Timestamp: unix(2024, 1, 3), Open: 185.5, High: 187, Low: 185, Close: 186, Volume: 45_000_000},
	}
	if err := ps.WriteCandles(ctx, "AAPL", "1d", candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadCandles(ctx, "AAPL", "1d", start, end)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadCandles returned %d candles, want 3", len(got))
	}
	if got[0].Timestamp != candles[0].Timestamp || got[2].Close != 186 {
		t.Errorf("unexpected candles: %+v", got)
	}
	if got[1].AdjClose == nil || *got[1].AdjClose != adj {
		t.Errorf("adjusted close not preserved: %+v", got[1].AdjClose)
	}
	if got[0].AdjClose != nil {
		t.Errorf("missing adjusted close read back as %v", *got[0].AdjClose)
	}

	// Range filtering.
	got, err = ps.ReadCandles(ctx, "AAPL", "1d", time.Unix(unix(2024, 1, 1), 0), end)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("filtered ReadCandles returned %d candles, want 2", len(got))
	}
}

func TestParquetStoreMergeCandles(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := []domain.Candle{{Timestamp: unix(2024, 3, 1), Open: 400, High: 405, Low: 399, Close: 403, Volume: 1}}
	if err := ps.WriteCandles(ctx, "MSFT", "1d", first); err != nil {
		t.Fatalf("WriteCandles (first): %v", err)
	}
	// A new day merges; a repeated day replaces.
	second := []domain.Candle{
		{Timestamp: unix(2024, 3, 1), Open: 400, High: 405, Low: 399, Close: 404, Volume: 2},
		{Timestamp: unix(2024, 3, 4), Open: 403, High: 410, Low: 402, Close: 408, Volume: 3},
	}
	if err := ps.WriteCandles(ctx, "MSFT", "1d", second); err != nil {
		t.Fatalf("WriteCandles (second): %v", err)
	}

	got, err := ps.ReadCandles(ctx, "MSFT", "1d",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadCandles returned %d candles after merge, want 2", len(got))
	}
	if got[0].Close != 404 {
		t.Errorf("repeated day Close = %v, want replaced value 404", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	c := []domain.Candle{{Timestamp: unix(2024, 1, 2), Close: 1}}
	for _, sym := range []string{"GOOGL", "AAPL"} {
		if err := ps.WriteCandles(ctx, sym, "1d", c); err != nil {
			t.Fatalf("WriteCandles: %v", err)
		}
	}

	symbols, err := ps.ListSymbols(ctx, "1d")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
	if none, err := ps.ListSymbols(ctx, "1wk"); err != nil || len(none) != 0 {
		t.Errorf("ListSymbols on a missing interval = %v, %v", none, err)
	}
}

func TestParquetStoreDividends(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if got, err := ps.ReadDividends(ctx, "KO"); err != nil || len(got) != 0 {
		t.Fatalf("ReadDividends before write = %v, %v", got, err)
	}
	if err := ps.WriteDividends(ctx, "KO", []domain.Dividend{{Timestamp: unix(2024, 6, 14), Amount: 0.485}}); err != nil {
		t.Fatalf("WriteDividends: %v", err)
	}
	if err := ps.WriteDividends(ctx, "KO", []domain.Dividend{{Timestamp: unix(2024, 3, 14), Amount: 0.485}}); err != nil {
		t.Fatalf("WriteDividends: %v", err)
	}
	got, err := ps.ReadDividends(ctx, "KO")
	if err != nil {
		t.Fatalf("ReadDividends: %v", err)
	}
	if len(got) != 2 || got[0].Timestamp > got[1].Timestamp {
		t.Errorf("dividends = %+v, want two sorted entries", got)
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()

	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreSaveAndReadRun(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	trade := domain.Trade{
		Symbol: "AAPL", Side: domain.PositionSideLong,
		EntryTimestamp: 100, ExitTimestamp: 200, EntryPrice: 10, ExitPrice: 12, Quantity: 5,
		PnL: 10, ReturnPct: 20,
		EntrySignal: domain.Signal{Reason: "golden cross"},
		ExitSignal:  domain.Signal{Reason: "death cross"},
	}
	run := &Run{
		Kind:           RunKindSingle,
		Strategy:       "sma_cross",
		Symbols:        []string{"AAPL"},
		Config:         map[string]float64{"initial_capital": 1000},
		InitialCapital: 1000,
		FinalEquity:    1010,
		Metrics:        metrics.Metrics{TotalReturnPct: 1, TotalTrades: 1},
		Trades:         []domain.Trade{trade},
		Signals: []domain.SignalRecord{
			{Symbol: "AAPL", Signal: domain.NewSignal(domain.SignalLong, 100, 10), Executed: true},
			{Symbol: "AAPL", Signal: domain.NewSignal(domain.SignalExit, 200, 12), Executed: true},
		},
		Equity: []domain.EquityPoint{{Timestamp: 100, Equity: 1000}, {Timestamp: 200, Equity: 1010}},
	}
	id, err := store.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == "" || run.ID != id {
		t.Fatalf("SaveRun id = %q, run.ID = %q", id, run.ID)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns returned %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != id || got.Strategy != "sma_cross" || got.Metrics.TotalTrades != 1 || got.Symbols[0] != "AAPL" {
		t.Errorf("ListRuns()[0] = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not read back")
	}

	trades, err := store.RunTrades(ctx, id)
	if err != nil {
		t.Fatalf("RunTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].PnL != 10 || trades[0].ExitSignal.Reason != "death cross" || trades[0].Side != domain.PositionSideLong {
		t.Errorf("RunTrades = %+v", trades)
	}

	equity, err := store.RunEquity(ctx, id)
	if err != nil {
		t.Fatalf("RunEquity: %v", err)
	}
	if len(equity) != 2 || equity[1].Equity != 1010 {
		t.Errorf("RunEquity = %+v", equity)
	}
}

func TestSQLiteStoreListRunsNewestFirst(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"old", "new"} {
		if _, err := store.SaveRun(ctx, &Run{ID: name, CreatedAt: base.Add(time.Duration(i) * time.Hour), Kind: RunKindPortfolio}); err != nil {
			t.Fatalf("SaveRun(%s): %v", name, err)
		}
	}
	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "new" {
		t.Errorf("ListRuns(1) = %+v, want the newest run", runs)
	}
}

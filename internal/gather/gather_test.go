package gather

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/domain"
	"tradesim/internal/store"
)

// fakeProvider serves canned candles and counts calls per symbol.
type fakeProvider struct {
	mu       sync.Mutex
	data     map[string][]domain.Candle
	failures map[string]int   // remaining failures before success
	errs     map[string]error // returned on every call
	calls    map[string]int
}

func newFakeProvider(data map[string][]domain.Candle) *fakeProvider {
	return &fakeProvider{data: data, failures: map[string]int{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchCandles(_ context.Context, symbol, _ string, _ DateRange) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	if f.failures[symbol] > 0 {
		f.failures[symbol]--
		return nil, errors.New("transient")
	}
	return f.data[symbol], nil
}

func (f *fakeProvider) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// memStore is an in-memory CandleStore.
type memStore struct {
	mu   sync.Mutex
	data map[string][]domain.Candle
}

var _ store.CandleStore = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{data: map[string][]domain.Candle{}} }

func (m *memStore) WriteCandles(_ context.Context, symbol, _ string, candles []domain.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[symbol] = append(m.data[symbol], candles...)
	return nil
}

func (m *memStore) ReadCandles(_ context.Context, symbol, _ string, _, _ time.Time) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[symbol], nil
}

func (m *memStore) ListSymbols(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for s := range m.data {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// fakeDividendProvider adds canned dividends to fakeProvider.
type fakeDividendProvider struct {
	*fakeProvider
	divs     map[string][]domain.Dividend
	divFails map[string]int
	divCalls map[string]int
}

func (f *fakeDividendProvider) FetchDividends(_ context.Context, symbol string, _ DateRange) ([]domain.Dividend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.divCalls[symbol]++
	if f.divFails[symbol] > 0 {
		f.divFails[symbol]--
		return nil, errors.New("transient")
	}
	return f.divs[symbol], nil
}

// memDividendStore is a memStore that also keeps dividends.
type memDividendStore struct {
	*memStore
	divs map[string][]domain.Dividend
}

var _ store.DividendStore = (*memDividendStore)(nil)

func (m *memDividendStore) WriteDividends(_ context.Context, symbol string, dividends []domain.Dividend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.divs[symbol] = append(m.divs[symbol], dividends...)
	return nil
}

func (m *memDividendStore) ReadDividends(_ context.Context, symbol string) ([]domain.Dividend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.divs[symbol], nil
}

func testRange() DateRange {
	return DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testOptions(progressDir string) Options {
	return Options{Interval: "1d", Workers: 3, MaxAttempts: 3, ProgressDir: progressDir}
}

func bars(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Timestamp: int64(1704153600 + i*86400), Close: float64(100 + i)}
	}
	return out
}

func TestGathererWritesCandles(t *testing.T) {
	p := newFakeProvider(map[string][]domain.Candle{"AAPL": bars(3), "MSFT": bars(2)})
	s := newMemStore()

	sum, err := New(p, s, testOptions("")).Run(context.Background(), []string{"aapl", "MSFT", "NOPE", " "}, testRange())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sum.Requested != 4 || sum.Fetched != 2 || sum.Empty != 1 || sum.Candles != 5 || sum.Failed != 0 {
		t.Errorf("Summary = %+v", sum)
	}
	if got := len(s.data["AAPL"]); got != 3 {
		t.Errorf("stored %d AAPL candles, want 3 (symbols are upper-cased)", got)
	}
	if _, ok := s.data["NOPE"]; ok {
		t.Error("empty symbol should not be written")
	}
}

func TestGathererRetriesTransientErrors(t *testing.T) {
	p := newFakeProvider(map[string][]domain.Candle{"AAPL": bars(2), "BAD": bars(1)})
	p.failures["AAPL"] = 2
	p.failures["BAD"] = 10

	sum, err := New(p, newMemStore(), testOptions("")).Run(context.Background(), []string{"AAPL", "BAD"}, testRange())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if p.callCount("AAPL") != 3 {
		t.Errorf("AAPL fetched %d times, want 3", p.callCount("AAPL"))
	}
	if sum.Fetched != 1 || sum.Failed != 1 {
		t.Errorf("Summary = %+v, want 1 fetched and 1 failed", sum)
	}
}

func TestGathererDoesNotRetryUnsupportedInterval(t *testing.T) {
	p := newFakeProvider(map[string][]domain.Candle{"AAPL": bars(2)})
	p.errs["AAPL"] = fmt.Errorf("fake: %w %q", errUnsupportedInterval, "7m")

	sum, err := New(p, newMemStore(), testOptions("")).Run(context.Background(), []string{"AAPL"}, testRange())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if p.callCount("AAPL") != 1 {
		t.Errorf("AAPL fetched %d times, want 1", p.callCount("AAPL"))
	}
	if sum.Failed != 1 {
		t.Errorf("Summary = %+v, want 1 failed", sum)
	}
}

func TestGathererWritesDividends(t *testing.T) {
	p := &fakeDividendProvider{
		fakeProvider: newFakeProvider(map[string][]domain.Candle{"AAPL": bars(3), "MSFT": bars(2)}),
		divs: map[string][]domain.Dividend{
			"AAPL": {{Timestamp: 1704240000, Amount: 0.24}, {Timestamp: 1704326400, Amount: 0.25}},
		},
		divFails: map[string]int{"AAPL": 1},
		divCalls: map[string]int{},
	}
	s := &memDividendStore{memStore: newMemStore(), divs: map[string][]domain.Dividend{}}

	sum, err := New(p, s, testOptions("")).Run(context.Background(), []string{"AAPL", "MSFT", "NOPE"}, testRange())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sum.Fetched != 2 || sum.Dividends != 2 || sum.Failed != 0 {
		t.Errorf("Summary = %+v, want 2 fetched with 2 dividends", sum)
	}
	if got := s.divs["AAPL"]; len(got) != 2 || got[1].Amount != 0.25 {
		t.Errorf("stored AAPL dividends = %+v", got)
	}
	if _, ok := s.divs["MSFT"]; ok {
		t.Error("no dividends should be written for MSFT")
	}
	if p.divCalls["AAPL"] != 2 {
		t.Errorf("AAPL dividends fetched %d times, want 2 (one retry)", p.divCalls["AAPL"])
	}
	if p.divCalls["NOPE"] != 0 {
		t.Error("dividends fetched for a symbol without candles")
	}
}

func TestGathererSkipsDividendsWithoutDividendStore(t *testing.T) {
	p := &fakeDividendProvider{
		fakeProvider: newFakeProvider(map[string][]domain.Candle{"AAPL": bars(3)}),
		divs:         map[string][]domain.Dividend{"AAPL": {{Timestamp: 1704240000, Amount: 0.24}}},
		divCalls:     map[string]int{},
	}
	sum, err := New(p, newMemStore(), testOptions("")).Run(context.Background(), []string{"AAPL"}, testRange())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sum.Dividends != 0 || p.divCalls["AAPL"] != 0 {
		t.Errorf("dividends gathered without a dividend store: %+v, calls %d", sum, p.divCalls["AAPL"])
	}
}

func TestGathererResumeSkipsEmptyAndCompleted(t *testing.T) {
	dir := t.TempDir()
	p := newFakeProvider(map[string][]domain.Candle{"AAPL": bars(2)})
	g := New(p, newMemStore(), testOptions(dir))
	symbols := []string{"AAPL", "GONE"}

	if _, err := g.Run(context.Background(), symbols, testRange()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	// The same end date is already complete.
	sum, err := g.Run(context.Background(), symbols, testRange())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Skipped != 2 || p.callCount("AAPL") != 1 {
		t.Errorf("completed rerun fetched again: %+v, AAPL calls %d", sum, p.callCount("AAPL"))
	}

	// A new end date resets the tried-empty list.
	next := testRange()
	next.End = next.End.AddDate(0, 0, 1)
	if _, err := g.Run(context.Background(), symbols, next); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if p.callCount("GONE") != 2 {
		t.Errorf("GONE fetched %d times, want 2 after the end date moved", p.callCount("GONE"))
	}
}

func TestGathererSkipsTriedEmptyOnResume(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, triedEmptyFile), []byte("GONE\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newFakeProvider(map[string][]domain.Candle{"AAPL": bars(1)})
	sum, err := New(p, newMemStore(), testOptions(dir)).Run(context.Background(), []string{"AAPL", "GONE"}, testRange())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.callCount("GONE") != 0 || sum.Skipped != 1 {
		t.Errorf("tried-empty symbol was fetched: calls %d, summary %+v", p.callCount("GONE"), sum)
	}
}

func TestGathererRejectsEmptyRange(t *testing.T) {
	r := testRange()
	r.End = r.Start
	if _, err := New(newFakeProvider(nil), newMemStore(), testOptions("")).Run(context.Background(), []string{"AAPL"}, r); err == nil {
		t.Error("expected error for empty date range")
	}
}

func TestGathererCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newFakeProvider(nil), newMemStore(), testOptions("")).Run(ctx, []string{"AAPL"}, testRange())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestProviderIntervals(t *testing.T) {
	for _, iv := range []string{"1d", "1wk", "1mo", "1h"} {
		if _, err := yahooInterval(iv); err != nil {
			t.Errorf("yahooInterval(%q): %v", iv, err)
		}
		if _, err := alpacaTimeFrame(iv); err != nil {
			t.Errorf("alpacaTimeFrame(%q): %v", iv, err)
		}
	}
	if _, err := yahooInterval("7m"); !errors.Is(err, errUnsupportedInterval) {
		t.Errorf("yahooInterval(7m) error = %v", err)
	}
	if _, err := alpacaTimeFrame("7m"); !errors.Is(err, errUnsupportedInterval) {
		t.Errorf("alpacaTimeFrame(7m) error = %v", err)
	}
}

func TestProviderNames(t *testing.T) {
	if got := NewYahooProvider().Name(); got != "yahoo" {
		t.Errorf("YahooProvider.Name() = %q", got)
	}
	if got := NewAlpacaProvider("key", "secret", "", "").Name(); got != "alpaca" {
		t.Errorf("AlpacaProvider.Name() = %q", got)
	}
}

func TestCashDividendsSortedByExDate(t *testing.T) {
	got := cashDividends([]marketdata.CashDividend{
		{Symbol: "AAPL", Rate: 0.25, ExDate: civil.Date{Year: 2024, Month: time.May, Day: 10}},
		{Symbol: "AAPL", Rate: 0, ExDate: civil.Date{Year: 2024, Month: time.March, Day: 1}},
		{Symbol: "AAPL", Rate: 0.24, ExDate: civil.Date{Year: 2024, Month: time.February, Day: 9}},
	})
	if len(got) != 2 {
		t.Fatalf("got %d dividends, want 2", len(got))
	}
	want := time.Date(2024, time.February, 9, 0, 0, 0, 0, time.UTC).Unix()
	if got[0].Timestamp != want || got[0].Amount != 0.24 {
		t.Errorf("first dividend = %+v, want 0.24 at %d", got[0], want)
	}
	if got[1].Amount != 0.25 {
		t.Errorf("second dividend = %+v, want 0.25", got[1])
	}
}

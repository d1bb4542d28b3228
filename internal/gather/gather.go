// Package gather fetches historical candles from market-data providers and
// merges them into the candle store.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tradesim/internal/domain"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

// Provider is a source of historical candles.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// FetchCandles returns the candles of symbol at interval within r,
	// sorted by timestamp. An unknown symbol yields no candles and no error.
	FetchCandles(ctx context.Context, symbol, interval string, r DateRange) ([]domain.Candle, error)
}

// DividendProvider is implemented by providers that also serve cash
// dividends. Amounts are per share, keyed by ex-date.
type DividendProvider interface {
	FetchDividends(ctx context.Context, symbol string, r DateRange) ([]domain.Dividend, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Options controls a Gatherer.
type Options struct {
	Interval    string
	Workers     int
	RatePerSec  float64 // 0 disables limiting
	Burst       int
	MaxAttempts int
	RetryDelay  time.Duration
	// ProgressDir holds the resume files. Empty disables resume tracking.
	ProgressDir string
}

// DefaultOptions returns daily-interval options with modest concurrency.
func DefaultOptions() Options {
	return Options{
		Interval:    "1d",
		Workers:     4,
		RatePerSec:  2,
		Burst:       4,
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

// Summary reports the outcome of a gather run.
type Summary struct {
	Requested int
	Fetched   int
	Empty     int
	Skipped   int
	Failed    int
	Candles   int
	Dividends int
}

// Gatherer downloads candles for many symbols concurrently. When the
// provider implements DividendProvider and the store implements
// store.DividendStore, dividends are gathered alongside the candles.
type Gatherer struct {
	provider  Provider
	store     store.CandleStore
	divSource DividendProvider
	dividends store.DividendStore
	opts      Options
	limiter   *rate.Limiter
	log       *slog.Logger
}

// New creates a Gatherer writing provider candles into s.
func New(p Provider, s store.CandleStore, opts Options) *Gatherer {
	if opts.Interval == "" {
		opts.Interval = "1d"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	g := &Gatherer{
		provider: p,
		store:    s,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, max(opts.Burst, 1)),
		log:      slog.Default().With("component", "gather", "provider", p.Name()),
	}
	if dp, ok := p.(DividendProvider); ok {
		if ds, ok := s.(store.DividendStore); ok {
			g.divSource, g.dividends = dp, ds
		}
	}
	return g
}

// Run fetches every symbol over r and merges the results into the store.
// Per-symbol failures are logged and counted; Run itself fails only on
// cancellation or when resume state cannot be read or written.
func (g *Gatherer) Run(ctx context.Context, symbols []string, r DateRange) (Summary, error) {
	sum := Summary{Requested: len(symbols)}
	if !r.End.After(r.Start) {
		return sum, fmt.Errorf("invalid date range %s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	endDate := r.End.UTC().Format(time.DateOnly)

	var tracker *progressTracker
	if g.opts.ProgressDir != "" {
		var err error
		tracker, err = newProgressTracker(g.opts.ProgressDir)
		if err != nil {
			return sum, fmt.Errorf("creating progress tracker: %w", err)
		}
		defer tracker.Close()

		if tracker.IsCompleted(endDate) {
			g.log.Info("already completed", "endDate", endDate)
			sum.Skipped = len(symbols)
			return sum, nil
		}
		if last := tracker.LastCompleted(); last != "" && last != endDate {
			if err := tracker.Reset(); err != nil {
				return sum, fmt.Errorf("resetting tracker: %w", err)
			}
		}
	}

	var remaining []string
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if tracker != nil && tracker.IsTriedEmpty(sym) {
			sum.Skipped++
			continue
		}
		remaining = append(remaining, sym)
	}

	g.log.Info("starting gather",
		"interval", g.opts.Interval,
		"start", r.Start.Format(time.DateOnly),
		"end", endDate,
		"remaining", len(remaining),
	)

	var (
		fetched, empty, failed, candles, dividends atomic.Int64
		runStart                                   = time.Now()
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for _, sym := range remaining {
		eg.Go(func() error {
			n, nd, err := g.gatherSymbol(gctx, sym, r)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				failed.Add(1)
				g.log.Error("gather failed", "symbol", sym, "err", err)
			case n == 0:
				empty.Add(1)
				if tracker != nil {
					if err := tracker.MarkEmpty([]string{sym}); err != nil {
						g.log.Error("marking empty failed", "symbol", sym, "err", err)
					}
				}
			default:
				fetched.Add(1)
				candles.Add(int64(n))
				dividends.Add(int64(nd))
				g.log.Debug("symbol done", "symbol", sym, "candles", n, "dividends", nd)
			}
			return nil
		})
	}
	err := eg.Wait()

	sum.Fetched = int(fetched.Load())
	sum.Empty = int(empty.Load())
	sum.Failed = int(failed.Load())
	sum.Candles = int(candles.Load())
	sum.Dividends = int(dividends.Load())
	if err != nil {
		return sum, err
	}
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}

	if tracker != nil && sum.Failed == 0 {
		if err := tracker.MarkCompleted(endDate); err != nil {
			return sum, fmt.Errorf("marking completed: %w", err)
		}
	}
	g.log.Info("complete",
		"fetched", sum.Fetched,
		"empty", sum.Empty,
		"failed", sum.Failed,
		"candles", sum.Candles,
		"dividends", sum.Dividends,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return sum, nil
}

// gatherSymbol fetches one symbol with rate limiting and retries, then writes
// the candles and, when supported, the dividends over the same range. It
// returns the number of candles and dividends written.
func (g *Gatherer) gatherSymbol(ctx context.Context, symbol string, r DateRange) (int, int, error) {
	var candles []domain.Candle
	err := g.fetch(ctx, func() error {
		var err error
		candles, err = g.provider.FetchCandles(ctx, symbol, g.opts.Interval, r)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fetching %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return 0, 0, nil
	}
	if err := g.store.WriteCandles(ctx, symbol, g.opts.Interval, candles); err != nil {
		return 0, 0, fmt.Errorf("writing %s: %w", symbol, err)
	}
	if g.dividends == nil {
		return len(candles), 0, nil
	}

	var divs []domain.Dividend
	err = g.fetch(ctx, func() error {
		var err error
		divs, err = g.divSource.FetchDividends(ctx, symbol, r)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fetching %s dividends: %w", symbol, err)
	}
	if len(divs) == 0 {
		return len(candles), 0, nil
	}
	if err := g.dividends.WriteDividends(ctx, symbol, divs); err != nil {
		return 0, 0, fmt.Errorf("writing %s dividends: %w", symbol, err)
	}
	return len(candles), len(divs), nil
}

// fetch runs one provider call under the limiter with retries. Unsupported
// intervals fail on the first attempt.
func (g *Gatherer) fetch(ctx context.Context, call func() error) error {
	return util.Retry(ctx, g.opts.MaxAttempts, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		err := call()
		if errors.Is(err, errUnsupportedInterval) {
			return util.Permanent(err)
		}
		return err
	})
}

// errUnsupportedInterval is returned by providers for intervals they cannot
// serve.
var errUnsupportedInterval = errors.New("unsupported interval")

package gather

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*YahooProvider)(nil)

// YahooProvider fetches chart bars from Yahoo Finance.
type YahooProvider struct {
	log *slog.Logger
}

// NewYahooProvider creates a YahooProvider.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{log: slog.Default().With("provider", "yahoo")}
}

// Name returns the provider identifier.
func (p *YahooProvider) Name() string { return "yahoo" }

// FetchCandles fetches chart bars for symbol. The adjusted close is kept
// alongside the raw close.
func (p *YahooProvider) FetchCandles(ctx context.Context, symbol, interval string, r DateRange) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iv, err := yahooInterval(interval)
	if err != nil {
		return nil, err
	}
	start, end := r.Start, r.End
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: iv,
	})

	var out []domain.Candle
	for iter.Next() {
		bar := iter.Bar()
		adj := toFloat(bar.AdjClose)
		c := domain.Candle{
			Timestamp: int64(bar.Timestamp),
			Open:      toFloat(bar.Open),
			High:      toFloat(bar.High),
			Low:       toFloat(bar.Low),
			Close:     toFloat(bar.Close),
			Volume:    int64(bar.Volume),
		}
		if !bar.AdjClose.IsZero() {
			c.AdjClose = &adj
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	p.log.Debug("fetched", "symbol", symbol, "candles", len(out))
	return out, nil
}

func yahooInterval(interval string) (datetime.Interval, error) {
	switch interval {
	case "", "1d":
		return datetime.OneDay, nil
	case "1wk", "1mo", "1h":
		return datetime.Interval(interval), nil
	}
	return "", fmt.Errorf("yahoo: %w %q", errUnsupportedInterval, interval)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

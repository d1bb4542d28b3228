package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/domain"
)

// Compile-time interface checks.
var (
	_ Provider         = (*AlpacaProvider)(nil)
	_ DividendProvider = (*AlpacaProvider)(nil)
)

// AlpacaProvider fetches bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client *marketdata.Client
	feed   string
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
// An empty dataURL uses the SDK default; an empty feed uses "sip".
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		feed:   feed,
		log:    slog.Default().With("provider", "alpaca"),
	}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchCandles fetches split-adjusted bars for symbol.
func (p *AlpacaProvider) FetchCandles(ctx context.Context, symbol, interval string, r DateRange) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(interval)
	if err != nil {
		return nil, err
	}
	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      r.Start,
		End:        r.End,
		Feed:       p.feed,
		Adjustment: marketdata.Split,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	out := make([]domain.Candle, len(bars))
	for i, b := range bars {
		out[i] = domain.Candle{
			Timestamp: b.Timestamp.Unix(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		}
	}
	p.log.Debug("fetched", "symbol", symbol, "candles", len(out))
	return out, nil
}

// FetchDividends fetches cash dividends for symbol from the corporate
// actions endpoint.
func (p *AlpacaProvider) FetchDividends(ctx context.Context, symbol string, r DateRange) ([]domain.Dividend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	actions, err := p.client.GetCorporateActions(marketdata.GetCorporateActionsRequest{
		Symbols: []string{symbol},
		Types:   []string{"cash_dividend"},
		Start:   civil.DateOf(r.Start),
		End:     civil.DateOf(r.End),
	})
	if err != nil {
		return nil, fmt.Errorf("GetCorporateActions %s: %w", symbol, err)
	}
	out := cashDividends(actions.CashDividends)
	p.log.Debug("fetched dividends", "symbol", symbol, "dividends", len(out))
	return out, nil
}

// cashDividends converts corporate-action cash dividends to ex-date
// dividends, ascending. Non-positive rates are dropped.
func cashDividends(in []marketdata.CashDividend) []domain.Dividend {
	out := make([]domain.Dividend, 0, len(in))
	for _, d := range in {
		if d.Rate <= 0 {
			continue
		}
		out = append(out, domain.Dividend{
			Timestamp: d.ExDate.In(time.UTC).Unix(),
			Amount:    d.Rate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func alpacaTimeFrame(interval string) (marketdata.TimeFrame, error) {
	switch interval {
	case "", "1d":
		return marketdata.OneDay, nil
	case "1h":
		return marketdata.OneHour, nil
	case "1wk":
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case "1mo":
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: %w %q", errUnsupportedInterval, interval)
}

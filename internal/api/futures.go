package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/rickgao/tickergate/internal/model"
)

// FuturesSource fetches USD-M futures tickers through go-binance.
type FuturesSource struct {
	client *futures.Client
	logger *slog.Logger
}

// NewFuturesSource creates a futures ticker source. An empty baseURL keeps
// the library's production endpoint.
func NewFuturesSource(baseURL, apiKey, apiSecret string, hc *http.Client, logger *slog.Logger) *FuturesSource {
	if logger == nil {
		logger = slog.Default()
	}
	client := futures.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	if hc != nil {
		client.HTTPClient = hc
	}
	return &FuturesSource{client: client, logger: logger}
}

// Tickers fetches 24h stats for every futures symbol and merges in mark
// price and funding rate. A premium index failure is logged and the stats
// are returned without those fields.
func (f *FuturesSource) Tickers(ctx context.Context) ([]model.Ticker, error) {
	stats, err := f.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get futures ticker 24h: %w", err)
	}

	tickers := make([]model.Ticker, 0, len(stats))
	index := make(map[string]int, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		index[s.Symbol] = len(tickers)
		tickers = append(tickers, model.Ticker{
			Symbol:             s.Symbol,
			Market:             model.MarketFutures,
			LastPrice:          ParseDecimal(s.LastPrice),
			PriceChange:        ParseDecimal(s.PriceChange),
			PriceChangePercent: ParseDecimal(s.PriceChangePercent),
			OpenPrice:          ParseDecimal(s.OpenPrice),
			HighPrice:          ParseDecimal(s.HighPrice),
			LowPrice:           ParseDecimal(s.LowPrice),
			Volume:             ParseDecimal(s.Volume),
			QuoteVolume:        ParseDecimal(s.QuoteVolume),
			TradeCount:         s.Count,
			CloseTime:          s.CloseTime,
		})
	}

	premiums, err := f.client.NewPremiumIndexService().Do(ctx)
	if err != nil {
		f.logger.Warn("failed to fetch premium index", "err", err)
		return tickers, nil
	}
	for _, p := range premiums {
		if p == nil {
			continue
		}
		i, ok := index[p.Symbol]
		if !ok {
			continue
		}
		tickers[i].MarkPrice = ParseDecimal(p.MarkPrice)
		tickers[i].FundingRate = ParseDecimal(p.LastFundingRate)
	}

	return tickers, nil
}

package api

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickergate/internal/model"
)

// ParseDecimal converts an exchange decimal string to decimal.Decimal.
// Returns zero for empty or invalid input.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToModel converts an APITicker to a spot model.Ticker.
func (t APITicker) ToModel() model.Ticker {
	return model.Ticker{
		Symbol:             t.Symbol,
		Market:             model.MarketSpot,
		LastPrice:          ParseDecimal(t.LastPrice),
		PriceChange:        ParseDecimal(t.PriceChange),
		PriceChangePercent: ParseDecimal(t.PriceChangePercent),
		OpenPrice:          ParseDecimal(t.OpenPrice),
		HighPrice:          ParseDecimal(t.HighPrice),
		LowPrice:           ParseDecimal(t.LowPrice),
		Volume:             ParseDecimal(t.Volume),
		QuoteVolume:        ParseDecimal(t.QuoteVolume),
		TradeCount:         t.Count,
		CloseTime:          t.CloseTime,
	}
}

// TickersToModel converts a slice of APITickers.
func TickersToModel(in []APITicker) []model.Ticker {
	out := make([]model.Ticker, len(in))
	for i, t := range in {
		out[i] = t.ToModel()
	}
	return out
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies which exchange product a ticker came from.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Valid reports whether m is a known market.
func (m Market) Valid() bool {
	return m == MarketSpot || m == MarketFutures
}

// ParseMarket maps a query value to a Market. Empty input means spot.
func ParseMarket(s string) (Market, bool) {
	if s == "" {
		return MarketSpot, true
	}
	m := Market(s)
	return m, m.Valid()
}

// Ticker is a 24-hour rolling price/volume summary for one trading pair.
type Ticker struct {
	Symbol             string          `json:"symbol"`
	Market             Market          `json:"market"`
	LastPrice          decimal.Decimal `json:"last_price"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	OpenPrice          decimal.Decimal `json:"open_price"`
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quote_volume"`
	TradeCount         int64           `json:"trade_count"`
	CloseTime          int64           `json:"close_time"` // Exchange close time (ms since epoch)

	// Futures only; zero for spot.
	MarkPrice   decimal.Decimal `json:"mark_price,omitzero"`
	FundingRate decimal.Decimal `json:"funding_rate,omitzero"`
}

// Snapshot is the filtered ticker set from one fetch of one market.
type Snapshot struct {
	Market    Market            `json:"market"`
	Source    string            `json:"source"` // "poll" or "on-demand"
	FetchedAt time.Time         `json:"fetched_at"`
	Tickers   map[string]Ticker `json:"tickers"` // Keyed by symbol
}

// Snapshot sources.
const (
	SourcePoll     = "poll"
	SourceOnDemand = "on-demand"
)

// Len returns the number of tickers in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tickers)
}

// Age returns how long ago the snapshot was fetched.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

package market

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickergate/internal/model"
)

// SortKey selects the field used to order tickers.
type SortKey string

const (
	SortBySymbol      SortKey = "symbol"
	SortByChange      SortKey = "change"
	SortByVolume      SortKey = "volume"
	SortByQuoteVolume SortKey = "quote_volume"
	SortByPrice       SortKey = "price"
)

// ParseSortKey validates a sort query value. Empty input sorts by quote volume.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortByQuoteVolume, nil
	case SortBySymbol, SortByChange, SortByVolume, SortByQuoteVolume, SortByPrice:
		return k, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// Sorted returns tickers ordered by key. Ties are broken by symbol ascending
// so output is deterministic. limit <= 0 returns everything.
func Sorted(m map[string]model.Ticker, key SortKey, desc bool, limit int) []model.Ticker {
	out := make([]model.Ticker, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		c := compare(out[i], out[j], key)
		if c == 0 {
			return out[i].Symbol < out[j].Symbol
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func compare(a, b model.Ticker, key SortKey) int {
	switch key {
	case SortByChange:
		return a.PriceChangePercent.Cmp(b.PriceChangePercent)
	case SortByVolume:
		return a.Volume.Cmp(b.Volume)
	case SortByQuoteVolume:
		return a.QuoteVolume.Cmp(b.QuoteVolume)
	case SortByPrice:
		return a.LastPrice.Cmp(b.LastPrice)
	default:
		switch {
		case a.Symbol < b.Symbol:
			return -1
		case a.Symbol > b.Symbol:
			return 1
		}
		return 0
	}
}

// Movers holds the biggest gainers and losers by 24h change percent.
type Movers struct {
	Gainers []model.Ticker `json:"gainers"`
	Losers  []model.Ticker `json:"losers"`
}

// TopMovers returns up to limit gainers (positive change, largest first) and
// losers (negative change, most negative first).
// Equal changes are ordered by symbol ascending in both lists.
func TopMovers(m map[string]model.Ticker, limit int) Movers {
	mv := Movers{
		Gainers: []model.Ticker{},
		Losers:  []model.Ticker{},
	}
	for _, t := range Sorted(m, SortByChange, true, 0) {
		if t.PriceChangePercent.IsPositive() && (limit <= 0 || len(mv.Gainers) < limit) {
			mv.Gainers = append(mv.Gainers, t)
		}
	}
	for _, t := range Sorted(m, SortByChange, false, 0) {
		if t.PriceChangePercent.IsNegative() && (limit <= 0 || len(mv.Losers) < limit) {
			mv.Losers = append(mv.Losers, t)
		}
	}
	return mv
}

// Summary is market breadth over a ticker set.
type Summary struct {
	Count            int             `json:"count"`
	Advancers        int             `json:"advancers"`
	Decliners        int             `json:"decliners"`
	Unchanged        int             `json:"unchanged"`
	TotalQuoteVolume decimal.Decimal `json:"total_quote_volume"`
}

// Summarize computes breadth for m.
func Summarize(m map[string]model.Ticker) Summary {
	s := Summary{Count: len(m), TotalQuoteVolume: decimal.Zero}
	for _, t := range m {
		switch t.PriceChangePercent.Sign() {
		case 1:
			s.Advancers++
		case -1:
			s.Decliners++
		default:
			s.Unchanged++
		}
		s.TotalQuoteVolume = s.TotalQuoteVolume.Add(t.QuoteVolume)
	}
	return s
}

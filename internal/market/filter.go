package market

import (
	"strings"

	"github.com/rickgao/tickergate/internal/model"
)

// DefaultQuote is the quote asset kept when none is configured.
const DefaultQuote = "USDT"

// FilterQuote keeps only symbols quoted in quote and keys them by symbol.
// A later duplicate of a symbol overwrites an earlier one.
func FilterQuote(tickers []model.Ticker, quote string) map[string]model.Ticker {
	if quote == "" {
		quote = DefaultQuote
	}
	quote = strings.ToUpper(quote)

	out := make(map[string]model.Ticker)
	for _, t := range tickers {
		if len(t.Symbol) <= len(quote) || !strings.HasSuffix(t.Symbol, quote) {
			continue
		}
		out[t.Symbol] = t
	}
	return out
}

// BaseAsset returns the symbol with the quote suffix removed.
func BaseAsset(symbol, quote string) string {
	if quote == "" {
		quote = DefaultQuote
	}
	return strings.TrimSuffix(symbol, strings.ToUpper(quote))
}

package model

import (
	"testing"
	"time"
)

func TestParseMarket(t *testing.T) {
	tests := []struct {
		in     string
		want   Market
		wantOK bool
	}{
		{"", MarketSpot, true},
		{"spot", MarketSpot, true},
		{"futures", MarketFutures, true},
		{"options", Market("options"), false},
		{"SPOT", Market("SPOT"), false},
	}

	for _, tt := range tests {
		got, ok := ParseMarket(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseMarket(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSnapshot_LenAndAge(t *testing.T) {
	t.Run("nil snapshot", func(t *testing.T) {
		var s *Snapshot
		if s.Len() != 0 {
			t.Errorf("Len() = %d, want 0", s.Len())
		}
		if s.Age(time.Now()) != 0 {
			t.Errorf("Age() = %v, want 0", s.Age(time.Now()))
		}
	})

	t.Run("populated snapshot", func(t *testing.T) {
		fetched := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
		s := &Snapshot{
			Market:    MarketSpot,
			FetchedAt: fetched,
			Tickers: map[string]Ticker{
				"BTCUSDT": {Symbol: "BTCUSDT"},
				"ETHUSDT": {Symbol: "ETHUSDT"},
			},
		}
		if s.Len() != 2 {
			t.Errorf("Len() = %d, want 2", s.Len())
		}
		if got := s.Age(fetched.Add(3 * time.Second)); got != 3*time.Second {
			t.Errorf("Age() = %v, want 3s", got)
		}
	})
}

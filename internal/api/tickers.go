package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// GetTicker24h fetches the 24h rolling ticker for every spot symbol.
// Weight: 80 per call.
func (c *Client) GetTicker24h(ctx context.Context) ([]APITicker, error) {
	var resp []APITicker
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &resp); err != nil {
		return nil, fmt.Errorf("get ticker 24h: %w", err)
	}
	return resp, nil
}

// GetTicker24hSymbol fetches the 24h rolling ticker for a single symbol.
func (c *Client) GetTicker24hSymbol(ctx context.Context, symbol string) (*APITicker, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp APITicker
	if err := c.get(ctx, "/api/v3/ticker/24hr", query, &resp); err != nil {
		return nil, fmt.Errorf("get ticker 24h %s: %w", symbol, err)
	}
	return &resp, nil
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct{}
	if err := c.get(ctx, "/api/v3/ping", nil, &resp); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp ServerTimeResponse
	if err := c.get(ctx, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

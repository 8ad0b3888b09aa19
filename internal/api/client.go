package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Client provides access to the Binance spot REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	usedWeight   atomic.Int64
	weightWindow atomic.Int64 // Unix minute usedWeight was reported in
	now          func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// UsedWeight returns the request weight the exchange last reported for the
// current one-minute window. A report from an earlier minute counts as zero
// since the exchange resets the counter every minute.
func (c *Client) UsedWeight() int64 {
	if c.weightWindow.Load() != c.now().Unix()/60 {
		return 0
	}
	return c.usedWeight.Load()
}

// WeightAvailable reports whether another request fits under limit while
// keeping reserve weight unused. A non-positive limit disables the check.
func (c *Client) WeightAvailable(limit, reserve int) bool {
	if limit <= 0 {
		return true
	}
	return c.UsedWeight() < int64(limit-reserve)
}

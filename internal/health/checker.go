package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxBodyBytes caps how much of a health response is read.
const maxBodyBytes = 64 << 10

// Target is a service health endpoint to check.
type Target struct {
	Name string
	URL  string
}

// Result is the outcome of one health check.
type Result struct {
	Service    string        `json:"service"`
	URL        string        `json:"url"`
	Status     Status        `json:"status"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Checker issues HTTP health checks.
type Checker struct {
	httpClient  *http.Client
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewChecker creates a Checker. timeout bounds each request; concurrency
// bounds CheckAll fan-out.
func NewChecker(timeout time.Duration, concurrency int, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Checker{
		httpClient:  &http.Client{},
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Check performs one GET against url and classifies the response.
// Transport failures classify as DOWN.
func (c *Checker) Check(ctx context.Context, name, url string) Result {
	res := Result{Service: name, URL: url, CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	code, body, err := c.get(ctx, url)
	res.Latency = time.Since(start)
	res.StatusCode = code
	if err != nil {
		res.Error = err.Error()
	}
	res.Status = Classify(code, body)

	c.logger.Debug("health check",
		"service", name,
		"status", res.Status,
		"code", code,
		"latency", res.Latency,
	)
	return res
}

func (c *Checker) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// CheckAll checks every target concurrently. Results are in target order.
func (c *Checker) CheckAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = c.Check(ctx, t.Name, t.URL)
			return nil
		})
	}
	g.Wait()

	return results
}

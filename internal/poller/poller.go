package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickergate/internal/api"
	"github.com/rickgao/tickergate/internal/cache"
	"github.com/rickgao/tickergate/internal/market"
	"github.com/rickgao/tickergate/internal/model"
)

// ErrWeightExhausted is returned by Refresh when the spot request weight
// budget leaves no headroom.
var ErrWeightExhausted = errors.New("request weight budget exhausted")

// SpotSource provides spot tickers and the exchange weight budget.
type SpotSource interface {
	GetTicker24h(ctx context.Context) ([]api.APITicker, error)
	WeightAvailable(limit, reserve int) bool
}

// FuturesSource provides futures tickers.
type FuturesSource interface {
	Tickers(ctx context.Context) ([]model.Ticker, error)
}

// SnapshotHandler receives each freshly stored snapshot.
type SnapshotHandler interface {
	HandleSnapshot(snapshot *model.Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(*model.Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s *model.Snapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval      time.Duration // Poll interval (default: 5s)
	Timeout       time.Duration // Per-source fetch timeout (default: 10s)
	Quote         string        // Quote asset filter (default: USDT)
	WeightLimit   int           // Per-minute request weight budget, 0 disables
	WeightReserve int           // Weight kept unused for other callers
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		Timeout:       10 * time.Second,
		Quote:         market.DefaultQuote,
		WeightLimit:   1200,
		WeightReserve: 200,
	}
}

// Stats holds poll counters.
type Stats struct {
	Cycles          int64     `json:"cycles"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	SkippedByWeight int64     `json:"skipped_by_weight"`
	LastSuccess     time.Time `json:"last_success"`
}

// Poller periodically fetches tickers and stores them in the cache.
type Poller struct {
	cfg     Config
	spot    SpotSource
	futures FuturesSource // nil disables futures polling
	cache   *cache.Cache[*model.Snapshot]
	logger  *slog.Logger

	handlersMu sync.RWMutex
	handlers   []SnapshotHandler

	cycles, successes, failures, skipped atomic.Int64
	lastSuccess                          atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, spot SpotSource, futures FuturesSource, c *cache.Cache[*model.Snapshot], logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		spot:    spot,
		futures: futures,
		cache:   c,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// AddHandler registers h to receive every stored snapshot.
func (p *Poller) AddHandler(h SnapshotHandler) {
	p.handlersMu.Lock()
	p.handlers = append(p.handlers, h)
	p.handlersMu.Unlock()
}

// Markets returns the markets this poller serves.
func (p *Poller) Markets() []model.Market {
	if p.futures == nil {
		return []model.Market{model.MarketSpot}
	}
	return []model.Market{model.MarketSpot, model.MarketFutures}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("ticker poller started",
		"interval", p.cfg.Interval,
		"quote", p.cfg.Quote,
		"futures", p.futures != nil,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ticker poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:          p.cycles.Load(),
		Successes:       p.successes.Load(),
		Failures:        p.failures.Load(),
		SkippedByWeight: p.skipped.Load(),
	}
	if ns := p.lastSuccess.Load(); ns > 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches every market concurrently. Errors are logged per market
// and never abort the other fetches.
func (p *Poller) pollAll() {
	start := time.Now()
	p.cycles.Add(1)

	var g errgroup.Group
	for _, m := range p.Markets() {
		g.Go(func() error {
			if m == model.MarketSpot && !p.spot.WeightAvailable(p.cfg.WeightLimit, p.cfg.WeightReserve) {
				p.skipped.Add(1)
				p.logger.Warn("skipping spot poll, request weight budget exhausted",
					"limit", p.cfg.WeightLimit,
					"reserve", p.cfg.WeightReserve,
				)
				return nil
			}

			if _, err := p.pollMarket(p.ctx, m, model.SourcePoll); err != nil {
				p.logger.Warn("failed to poll market", "market", m, "err", err)
			}
			return nil
		})
	}
	g.Wait()

	p.logger.Debug("poll cycle complete", "duration", time.Since(start))
}

// Refresh fetches one market on demand and stores the result. It is the
// fetch function the HTTP layer hands to the cache.
func (p *Poller) Refresh(ctx context.Context, m model.Market) (*model.Snapshot, error) {
	if m == model.MarketSpot && !p.spot.WeightAvailable(p.cfg.WeightLimit, p.cfg.WeightReserve) {
		p.skipped.Add(1)
		return nil, ErrWeightExhausted
	}
	return p.pollMarket(ctx, m, model.SourceOnDemand)
}

// pollMarket fetches, filters, stores and dispatches a single market.
func (p *Poller) pollMarket(ctx context.Context, m model.Market, source string) (*model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	tickers, err := p.fetch(ctx, m)
	if err != nil {
		p.failures.Add(1)
		return nil, err
	}

	snapshot := &model.Snapshot{
		Market:    m,
		Source:    source,
		FetchedAt: time.Now(),
		Tickers:   market.FilterQuote(tickers, p.cfg.Quote),
	}

	p.cache.Set(string(m), snapshot)
	p.successes.Add(1)
	p.lastSuccess.Store(snapshot.FetchedAt.UnixNano())

	p.handlersMu.RLock()
	handlers := p.handlers
	p.handlersMu.RUnlock()
	for _, h := range handlers {
		if err := h.HandleSnapshot(snapshot); err != nil {
			p.logger.Warn("snapshot handler failed", "market", m, "err", err)
		}
	}

	return snapshot, nil
}

func (p *Poller) fetch(ctx context.Context, m model.Market) ([]model.Ticker, error) {
	switch m {
	case model.MarketSpot:
		raw, err := p.spot.GetTicker24h(ctx)
		if err != nil {
			return nil, err
		}
		return api.TickersToModel(raw), nil
	case model.MarketFutures:
		if p.futures == nil {
			return nil, fmt.Errorf("futures polling disabled")
		}
		return p.futures.Tickers(ctx)
	default:
		return nil, fmt.Errorf("unknown market %q", m)
	}
}

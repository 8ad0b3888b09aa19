package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/tickergate/internal/cache"
	"github.com/rickgao/tickergate/internal/market"
	"github.com/rickgao/tickergate/internal/model"
	"github.com/rickgao/tickergate/internal/poller"
	"github.com/rickgao/tickergate/internal/version"
	"github.com/rickgao/tickergate/internal/writer"
)

// Default and maximum list sizes.
const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultMoversLimit = 10
)

// Refresher fetches a market on demand. *poller.Poller implements it.
type Refresher interface {
	Refresh(ctx context.Context, m model.Market) (*model.Snapshot, error)
	Markets() []model.Market
	Stats() poller.Stats
}

// StreamHandler is the WebSocket hub.
type StreamHandler interface {
	http.Handler
	Clients() int
}

// Pinger reports database reachability. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components a Server reads from. Cache and Poller are
// required; the rest may be nil.
type Deps struct {
	Cache      *cache.Cache[*model.Snapshot]
	Poller     Refresher
	Weight     interface{ UsedWeight() int64 }
	DB         Pinger
	Writer     interface{ Stats() writer.WriterMetrics }
	Stream     StreamHandler
	StreamPath string
	Quote      string // Quote asset the poller filters on
	Logger     *slog.Logger
}

// Server serves the ticker API.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// New creates a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.StreamPath == "" {
		deps.StreamPath = "/ws/tickers"
	}
	return &Server{deps: deps, logger: logger, started: time.Now()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/market-data", s.handleMarketData)
	mux.HandleFunc("GET /api/tickers", s.handleTickers)
	mux.HandleFunc("GET /api/tickers/{symbol}", s.handleTicker)
	mux.HandleFunc("GET /api/top-movers", s.handleTopMovers)
	mux.HandleFunc("GET /api/cache-stats", s.handleCacheStats)
	if s.deps.Stream != nil {
		mux.Handle("GET "+s.deps.StreamPath, s.deps.Stream)
	}

	return s.recoverer(mux)
}

// errNoData means no snapshot exists and the refresh failed.
var errNoData = errors.New("no market data available")

// snapshot returns the cached snapshot for m, refreshing it when expired.
func (s *Server) snapshot(ctx context.Context, m model.Market) (snap *model.Snapshot, stale bool, err error) {
	snap, err = s.deps.Cache.GetOrFetch(ctx, string(m), func(ctx context.Context) (*model.Snapshot, error) {
		return s.deps.Poller.Refresh(ctx, m)
	})
	switch {
	case err == nil:
		return snap, false, nil
	case errors.Is(err, cache.ErrStale):
		s.logger.Warn("serving stale snapshot", "market", m, "age", snap.Age(time.Now()), "err", err)
		return snap, true, nil
	default:
		s.logger.Error("no snapshot available", "market", m, "err", err)
		return nil, false, fmt.Errorf("%w: %w", errNoData, err)
	}
}

func (s *Server) enabled(m model.Market) bool {
	for _, x := range s.deps.Poller.Markets() {
		if x == m {
			return true
		}
	}
	return false
}

// marketParam parses ?market=, defaulting to spot.
func (s *Server) marketParam(r *http.Request) (model.Market, error) {
	m, ok := model.ParseMarket(r.URL.Query().Get("market"))
	if !ok {
		return "", fmt.Errorf("unknown market %q", r.URL.Query().Get("market"))
	}
	if !s.enabled(m) {
		return "", fmt.Errorf("market %q is not enabled", m)
	}
	return m, nil
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, MaxLimit), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Uptime     string         `json:"uptime"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Components: make(map[string]any),
	}

	// Check cached markets
	now := time.Now()
	for _, m := range s.deps.Poller.Markets() {
		snap, storedAt, ok := s.deps.Cache.Peek(string(m))
		if !ok {
			health.Status = "degraded"
			health.Components[string(m)] = map[string]any{"status": "no data"}
			continue
		}
		health.Components[string(m)] = map[string]any{
			"status":  "ok",
			"tickers": snap.Len(),
			"age":     now.Sub(storedAt).Round(time.Millisecond).String(),
		}
	}

	// Check database
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}
	}

	if s.deps.Stream != nil {
		health.Components["stream"] = map[string]int{"clients": s.deps.Stream.Clients()}
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	snap, stale, err := s.snapshot(r.Context(), model.MarketSpot)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market":     snap.Market,
		"source":     snap.Source,
		"fetched_at": snap.FetchedAt,
		"stale":      stale,
		"summary":    market.Summarize(snap.Tickers),
		"tickers":    market.Sorted(snap.Tickers, market.SortByQuoteVolume, true, 0),
	})
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	m, err := s.marketParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	q := r.URL.Query()
	key := market.SortByQuoteVolume
	if raw := q.Get("sort"); raw != "" {
		if key, err = market.ParseSortKey(raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	desc := key != market.SortBySymbol
	switch strings.ToLower(q.Get("order")) {
	case "":
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("order must be asc or desc, got %q", q.Get("order")))
		return
	}

	limit, err := limitParam(r, DefaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, stale, err := s.snapshot(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	tickers := market.Sorted(snap.Tickers, key, desc, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"market":     m,
		"fetched_at": snap.FetchedAt,
		"stale":      stale,
		"total":      snap.Len(),
		"count":      len(tickers),
		"tickers":    tickers,
	})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	m, err := s.marketParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, stale, err := s.snapshot(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	symbol := strings.ToUpper(r.PathValue("symbol"))
	t, ok := snap.Tickers[symbol]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("symbol %s not found in %s market", symbol, m))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fetched_at": snap.FetchedAt,
		"stale":      stale,
		"base_asset": market.BaseAsset(t.Symbol, s.deps.Quote),
		"ticker":     t,
	})
}

func (s *Server) handleTopMovers(w http.ResponseWriter, r *http.Request) {
	m, err := s.marketParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := limitParam(r, DefaultMoversLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, stale, err := s.snapshot(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	mv := market.TopMovers(snap.Tickers, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"market":     m,
		"fetched_at": snap.FetchedAt,
		"stale":      stale,
		"gainers":    mv.Gainers,
		"losers":     mv.Losers,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ttl":    s.deps.Cache.TTL().String(),
		"cache":  s.deps.Cache.Stats(),
		"poller": s.deps.Poller.Stats(),
	}
	if s.deps.Weight != nil {
		resp["used_weight"] = s.deps.Weight.UsedWeight()
	}
	if s.deps.Writer != nil {
		resp["writer"] = s.deps.Writer.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// recoverer turns handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", v)
				writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

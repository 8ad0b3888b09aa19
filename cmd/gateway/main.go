package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickergate/internal/api"
	"github.com/rickgao/tickergate/internal/cache"
	"github.com/rickgao/tickergate/internal/config"
	"github.com/rickgao/tickergate/internal/database"
	"github.com/rickgao/tickergate/internal/logging"
	"github.com/rickgao/tickergate/internal/model"
	"github.com/rickgao/tickergate/internal/poller"
	"github.com/rickgao/tickergate/internal/server"
	"github.com/rickgao/tickergate/internal/stream"
	"github.com/rickgao/tickergate/internal/version"
	"github.com/rickgao/tickergate/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text, json)")
	flag.Parse()

	// Set up structured logging
	logger, err := logging.New(os.Stdout, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.String(),
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Binance.RestURL,
		"futures", cfg.Poller.FuturesEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", "err", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Create API client
	apiClient := api.NewClient(
		cfg.Binance.RestURL,
		cfg.Binance.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Binance.Timeout),
		api.WithRetries(cfg.Binance.MaxRetries, cfg.Binance.RetryBackoff),
	)

	// Check exchange connectivity; a failure is not fatal since the
	// poller retries every interval.
	if err := apiClient.Ping(ctx); err != nil {
		logger.Warn("exchange unreachable at startup", "err", err)
	} else if serverTime, err := apiClient.ServerTime(ctx); err != nil {
		logger.Warn("exchange unreachable at startup", "err", err)
	} else {
		logger.Info("exchange reachable",
			"server_time", serverTime,
			"clock_skew", time.Since(serverTime).Round(time.Millisecond),
		)
	}

	var futuresSource poller.FuturesSource
	if cfg.Poller.FuturesEnabled() {
		futuresSource = api.NewFuturesSource(
			cfg.Binance.FuturesURL,
			cfg.Binance.APIKey,
			cfg.Binance.APISecret,
			&http.Client{Timeout: cfg.Binance.Timeout},
			logger,
		)
	}

	tickerCache := cache.New[*model.Snapshot](cfg.Cache.TTL)

	weightLimit, weightReserve := cfg.Binance.WeightBudget()
	p := poller.New(poller.Config{
		Interval:      cfg.Poller.Interval,
		Timeout:       cfg.Poller.Timeout,
		Quote:         cfg.Poller.QuoteAsset,
		WeightLimit:   weightLimit,
		WeightReserve: weightReserve,
	}, apiClient, futuresSource, tickerCache, logger)

	hub := stream.NewHub(stream.DefaultQueueSize, logger)
	p.AddHandler(hub)

	deps := server.Deps{
		Cache:      tickerCache,
		Poller:     p,
		Weight:     apiClient,
		Stream:     hub,
		StreamPath: cfg.Server.StreamPath,
		Quote:      cfg.Poller.QuoteAsset,
		Logger:     logger,
	}

	// Optional snapshot history
	var (
		pool *pgxpool.Pool
		w    *writer.SnapshotWriter
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		var err error
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")

		w = writer.NewSnapshotWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			BufferSize:    cfg.Writer.BufferSize,
		}, pool, logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}
		p.AddHandler(w)

		deps.DB = pool
		deps.Writer = w
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "port", cfg.Server.Port, "stream_path", cfg.Server.StreamPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"markets", p.Markets(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Warn("poller stop", "err", err)
	}
	if w != nil {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.Warn("writer stop", "err", err)
		}
		stats := w.Stats()
		logger.Info("writer totals",
			"inserts", stats.Inserts,
			"conflicts", stats.Conflicts,
			"dropped", stats.Dropped,
		)
	}

	return runErr
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rickgao/tickergate/internal/config"
	"github.com/rickgao/tickergate/internal/health"
	"github.com/rickgao/tickergate/internal/logging"
	"github.com/rickgao/tickergate/internal/report"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	out := flag.String("out", "", "report path (default: <report_dir>/health-<timestamp>.json)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *logLevel, "text")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	var targets []health.Target
	for _, s := range cfg.Supervisor.Services {
		if s.HealthURL == "" {
			logger.Debug("skipping service without health_url", "service", s.Name)
			continue
		}
		targets = append(targets, health.Target{Name: s.Name, URL: s.HealthURL})
	}
	if len(targets) == 0 {
		logger.Error("no services with health_url configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker(cfg.Supervisor.HealthTimeout, len(targets), logger)
	results := checker.CheckAll(ctx, targets)
	rep := report.NewHealthReport(cfg.Instance.ID, results)

	for _, res := range results {
		logger.Info("service checked",
			"service", res.Service,
			"status", res.Status,
			"code", res.StatusCode,
			"latency", res.Latency.Round(time.Millisecond),
		)
	}

	path := *out
	if path == "" {
		path = filepath.Join(cfg.Supervisor.ReportDir, report.Filename("health", rep.GeneratedAt))
	}
	if err := report.Write(path, rep); err != nil {
		logger.Error("failed to write report", "err", err)
		os.Exit(1)
	}

	logger.Info("health report written",
		"path", path,
		"healthy", rep.Healthy,
		"unhealthy", rep.Unhealthy,
	)
	if rep.Unhealthy > 0 {
		os.Exit(3)
	}
}

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
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/tickergate/internal/config"
	"github.com/rickgao/tickergate/internal/incident"
	"github.com/rickgao/tickergate/internal/logging"
	"github.com/rickgao/tickergate/internal/report"
	"github.com/rickgao/tickergate/internal/supervisor"
	"github.com/rickgao/tickergate/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text, json)")
	flag.Parse()

	logger, err := logging.New(os.Stdout, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting supervisor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if len(cfg.Supervisor.Services) == 0 {
		logger.Error("no services configured", "section", "supervisor.services")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("supervisor failed", "err", err)
		os.Exit(1)
	}
	logger.Info("supervisor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sc := cfg.Supervisor

	var store *incident.Store
	if sc.IncidentDB != "" {
		var err error
		store, err = incident.Open(sc.IncidentDB)
		if err != nil {
			return fmt.Errorf("open incident log: %w", err)
		}
		defer store.Close()
		logger.Info("incident log opened", "path", sc.IncidentDB)
	}

	sup := supervisor.New(supervisor.Config{
		HealthInterval:      sc.HealthInterval,
		HealthTimeout:       sc.HealthTimeout,
		FailureThreshold:    sc.FailureThreshold,
		MaxRecoveryAttempts: sc.MaxRecoveryAttempts,
		StopTimeout:         sc.StopTimeout,
		RestartMinDelay:     sc.RestartMinDelay,
		RestartMaxDelay:     sc.RestartMaxDelay,
	}, serviceSpecs(sc.Services), &supervisor.ExecLauncher{LogDir: sc.LogDir, Logger: logger}, recorder(store), logger)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	var httpServer *http.Server
	if sc.Listen != "" {
		httpServer = &http.Server{
			Addr:              sc.Listen,
			Handler:           sup.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting status server", "addr", sc.Listen)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	// Leave room for every service's SIGTERM grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.StopTimeout+10*time.Second)
	defer cancel()

	if httpServer != nil {
		httpServer.Shutdown(shutdownCtx)
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Warn("supervisor stop", "err", err)
	}

	return writeRecoveryReport(shutdownCtx, cfg, sup, store, logger)
}

// recorder avoids handing the supervisor a non-nil interface holding a nil store.
func recorder(store *incident.Store) supervisor.IncidentRecorder {
	if store == nil {
		return nil
	}
	return store
}

func serviceSpecs(services []config.ServiceConfig) []supervisor.ServiceSpec {
	specs := make([]supervisor.ServiceSpec, 0, len(services))
	for _, s := range services {
		specs = append(specs, supervisor.ServiceSpec{
			Name:         s.Name,
			Command:      s.Command,
			Args:         s.Args,
			Dir:          s.Dir,
			Env:          s.Env,
			HealthURL:    s.HealthURL,
			Critical:     s.Critical,
			StartupDelay: s.StartupDelay,
		})
	}
	return specs
}

func writeRecoveryReport(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, store *incident.Store, logger *slog.Logger) error {
	rep := report.RecoveryReport{
		ID:          uuid.New(),
		Instance:    cfg.Instance.ID,
		StartedAt:   sup.StartedAt().UTC(),
		GeneratedAt: time.Now().UTC(),
	}
	for _, st := range sup.Snapshot() {
		rep.Services = append(rep.Services, report.ServiceSummary{
			Name:             st.Name,
			Critical:         st.Critical,
			Status:           st.Status,
			Restarts:         st.Restarts,
			RecoveryAttempts: st.RecoveryAttempts,
			GaveUp:           st.GaveUp,
			LastError:        st.LastError,
		})
	}

	if store != nil {
		incidents, err := store.List(ctx, "", 100)
		if err != nil {
			logger.Warn("failed to list incidents", "err", err)
		}
		rep.Incidents = incidents
	}

	path := filepath.Join(cfg.Supervisor.ReportDir, report.Filename("recovery", rep.GeneratedAt))
	if err := report.Write(path, rep); err != nil {
		return fmt.Errorf("write recovery report: %w", err)
	}
	logger.Info("recovery report written", "path", path, "services", len(rep.Services))
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Binance.MaxRetries < 0 {
		return errors.New("binance.max_retries must be >= 0")
	}
	limit, reserve := c.Binance.WeightBudget()
	if limit < 0 {
		return fmt.Errorf("binance.weight_limit must be >= 0, got %d", limit)
	}
	if reserve < 0 || (limit > 0 && reserve >= limit) {
		return fmt.Errorf("binance.weight_reserve (%d) must be >= 0 and below weight_limit (%d)",
			reserve, limit)
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.Timeout <= 0 {
		return errors.New("poller.timeout must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be > 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		return fmt.Errorf("server.stream_path must start with /, got %q", c.Server.StreamPath)
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	return c.Supervisor.validate()
}

func (s *SupervisorConfig) validate() error {
	if s.HealthInterval <= 0 {
		return errors.New("supervisor.health_interval must be > 0")
	}
	if s.FailureThreshold < 1 {
		return errors.New("supervisor.failure_threshold must be >= 1")
	}
	if s.MaxRecoveryAttempts < 1 {
		return errors.New("supervisor.max_recovery_attempts must be >= 1")
	}
	if s.RestartMinDelay > s.RestartMaxDelay {
		return fmt.Errorf("supervisor.restart_min_delay (%s) cannot exceed restart_max_delay (%s)",
			s.RestartMinDelay, s.RestartMaxDelay)
	}

	names := make(map[string]bool, len(s.Services))
	for i, svc := range s.Services {
		if svc.Name == "" {
			return fmt.Errorf("supervisor.services[%d].name is required", i)
		}
		if names[svc.Name] {
			return fmt.Errorf("supervisor.services[%d].name %q is duplicated", i, svc.Name)
		}
		names[svc.Name] = true
		if svc.Command == "" {
			return fmt.Errorf("supervisor.services[%d].command is required", i)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL             = "https://api.binance.com"
	DefaultFuturesURL          = "https://fapi.binance.com"
	DefaultAPITimeout          = 10 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryBackoff        = 1 * time.Second
	DefaultWeightLimit         = 1200
	DefaultWeightReserve       = 200
	DefaultPollInterval        = 5 * time.Second
	DefaultPollTimeout         = 10 * time.Second
	DefaultQuoteAsset          = "USDT"
	DefaultCacheTTL            = 5 * time.Second
	DefaultServerPort          = 8080
	DefaultStreamPath          = "/ws/tickers"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 1000
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 10000
	DefaultHealthInterval      = 15 * time.Second
	DefaultHealthTimeout       = 5 * time.Second
	DefaultFailureThreshold    = 1
	DefaultMaxRecoveryAttempts = 3
	DefaultStopTimeout         = 5 * time.Second
	DefaultRestartMinDelay     = 1 * time.Second
	DefaultRestartMaxDelay     = 30 * time.Second
	DefaultLogDir              = "logs"
	DefaultReportDir           = "reports"
)

func (c *Config) applyDefaults() {
	// Binance defaults
	if c.Binance.RestURL == "" {
		c.Binance.RestURL = DefaultRestURL
	}
	if c.Binance.FuturesURL == "" {
		c.Binance.FuturesURL = DefaultFuturesURL
	}
	if c.Binance.Timeout == 0 {
		c.Binance.Timeout = DefaultAPITimeout
	}
	if c.Binance.MaxRetries == 0 {
		c.Binance.MaxRetries = DefaultMaxRetries
	}
	if c.Binance.RetryBackoff == 0 {
		c.Binance.RetryBackoff = DefaultRetryBackoff
	}
	// The default reserve only fits the default limit; an explicit limit
	// without a reserve keeps no headroom.
	if c.Binance.WeightLimit == nil {
		limit := DefaultWeightLimit
		c.Binance.WeightLimit = &limit
		if c.Binance.WeightReserve == nil {
			reserve := DefaultWeightReserve
			c.Binance.WeightReserve = &reserve
		}
	}
	if c.Binance.WeightReserve == nil {
		reserve := 0
		c.Binance.WeightReserve = &reserve
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.QuoteAsset == "" {
		c.Poller.QuoteAsset = DefaultQuoteAsset
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}

	applyDBDefaults(&c.Database)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Supervisor defaults
	s := &c.Supervisor
	if s.HealthInterval == 0 {
		s.HealthInterval = DefaultHealthInterval
	}
	if s.HealthTimeout == 0 {
		s.HealthTimeout = DefaultHealthTimeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.MaxRecoveryAttempts == 0 {
		s.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if s.StopTimeout == 0 {
		s.StopTimeout = DefaultStopTimeout
	}
	if s.RestartMinDelay == 0 {
		s.RestartMinDelay = DefaultRestartMinDelay
	}
	if s.RestartMaxDelay == 0 {
		s.RestartMaxDelay = DefaultRestartMaxDelay
	}
	if s.LogDir == "" {
		s.LogDir = DefaultLogDir
	}
	if s.ReportDir == "" {
		s.ReportDir = DefaultReportDir
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

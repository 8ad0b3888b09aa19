package config

import "time"

// Config is the root configuration shared by the gateway, supervisor and probe.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Binance    BinanceConfig    `yaml:"binance"`
	Poller     PollerConfig     `yaml:"poller"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Database   DBConfig         `yaml:"database"`
	Writer     WriterConfig     `yaml:"writer"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// InstanceConfig identifies this deployment.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BinanceConfig holds exchange REST settings.
type BinanceConfig struct {
	RestURL       string        `yaml:"rest_url"`    // Spot REST base URL
	FuturesURL    string        `yaml:"futures_url"` // USDⓈ-M futures REST base URL
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	WeightLimit   *int          `yaml:"weight_limit"`   // Request weight per minute, 0 disables the budget
	WeightReserve *int          `yaml:"weight_reserve"` // Headroom kept below WeightLimit
}

// WeightBudget returns the request weight limit and reserve. Unset values
// read as 0.
func (b BinanceConfig) WeightBudget() (limit, reserve int) {
	if b.WeightLimit != nil {
		limit = *b.WeightLimit
	}
	if b.WeightReserve != nil {
		reserve = *b.WeightReserve
	}
	return limit, reserve
}

// PollerConfig holds ticker poller settings.
type PollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	QuoteAsset string        `yaml:"quote_asset"`
	Futures    *bool         `yaml:"futures"` // nil means enabled
}

// FuturesEnabled reports whether the futures market is polled.
func (p PollerConfig) FuturesEnabled() bool {
	return p.Futures == nil || *p.Futures
}

// CacheConfig holds ticker cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	StreamPath string `yaml:"stream_path"`
}

// DBConfig holds the optional TimescaleDB connection for ticker snapshots.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// SupervisorConfig holds health-check launcher settings.
type SupervisorConfig struct {
	HealthInterval      time.Duration   `yaml:"health_interval"`
	HealthTimeout       time.Duration   `yaml:"health_timeout"`
	FailureThreshold    int             `yaml:"failure_threshold"`
	MaxRecoveryAttempts int             `yaml:"max_recovery_attempts"`
	StopTimeout         time.Duration   `yaml:"stop_timeout"`
	RestartMinDelay     time.Duration   `yaml:"restart_min_delay"`
	RestartMaxDelay     time.Duration   `yaml:"restart_max_delay"`
	Listen              string          `yaml:"listen"` // Empty disables the status API
	LogDir              string          `yaml:"log_dir"`
	ReportDir           string          `yaml:"report_dir"`
	IncidentDB          string          `yaml:"incident_db"` // Empty disables the incident log
	Services            []ServiceConfig `yaml:"services"`
}

// ServiceConfig describes one supervised child process.
type ServiceConfig struct {
	Name         string            `yaml:"name"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Dir          string            `yaml:"dir"`
	Env          map[string]string `yaml:"env"`
	HealthURL    string            `yaml:"health_url"`
	Critical     bool              `yaml:"critical"`
	StartupDelay time.Duration     `yaml:"startup_delay"`
}

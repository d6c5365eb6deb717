package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"txledger/internal/types"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigNotFound indicates that the configuration file does not exist.
	ErrConfigNotFound = errors.New("config file not found")
	// ErrConfigParseFailed indicates that the configuration file is not valid YAML.
	ErrConfigParseFailed = errors.New("config file could not be parsed")
	// ErrConfigInvalid indicates that a parsed value is out of range.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// Environment overrides for values that should not live in the YAML file.
const (
	EnvDBConnection = "TXLEDGER_DB_CONNECTION"
	EnvBackendToken = "TXLEDGER_BACKEND_TOKEN"
	EnvPrincipal    = "TXLEDGER_PRINCIPAL"
)

// Config corresponds to the structure of config.yml
type Config struct {
	Principal string          `yaml:"principal"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Query     QueryConfig     `yaml:"query"`
	API       APIConfig       `yaml:"api"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// LedgerConfig holds settings for the EVM ledger client and the confirmation watchers
type LedgerConfig struct {
	Network             string        `yaml:"network"`
	RPCNodes            []string      `yaml:"rpc_nodes"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	NetworkRetry        BackoffConfig `yaml:"network_retry"`
}

// BackendConfig holds settings for the authoritative backend REST API
type BackendConfig struct {
	URL      string            `yaml:"url"`
	Token    string            `yaml:"token"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
	PageSize int               `yaml:"page_size"`
	Retry    HTTPRetryConfig   `yaml:"retry"`
}

// HTTPRetryConfig configures per-request retries inside the REST client
type HTTPRetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Count       int           `yaml:"count"`
	WaitTime    time.Duration `yaml:"wait_time"`
	MaxWaitTime time.Duration `yaml:"max_wait_time"`
}

// DatabaseConfig holds settings for the local snapshot storage
type DatabaseConfig struct {
	Type             types.DBType        `yaml:"type"`
	ConnectionString string              `yaml:"connection_string"`
	PoolMaxConns     string              `yaml:"pool_max_conns"`
	Codec            types.SnapshotCodec `yaml:"codec"`
}

// ReconcileConfig holds settings for the reconciliation loop and its retry queue
type ReconcileConfig struct {
	Interval          DelayRange    `yaml:"interval"`
	MaxUploadsPerPass int           `yaml:"max_uploads_per_pass"`
	RetryQueueSize    int           `yaml:"retry_queue_size"`
	Backoff           BackoffConfig `yaml:"backoff"`
}

// BackoffConfig describes an exponential backoff
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Factor  float64       `yaml:"factor"`
}

// QueryConfig holds defaults for paginated reads
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// APIConfig holds settings for the local HTTP API used by display code
type APIConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DelayRange represents a min/max delay with units
type DelayRange struct {
	Min  int            `yaml:"min"`
	Max  int            `yaml:"max"`
	Unit types.TimeUnit `yaml:"unit"`
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration file from the given path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigParseFailed, path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBConnection); v != "" {
		c.Database.ConnectionString = v
	}
	if v := os.Getenv(EnvBackendToken); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv(EnvPrincipal); v != "" {
		c.Principal = v
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Ledger.ConfirmationTimeout <= 0 {
		c.Ledger.ConfirmationTimeout = 5 * time.Minute
	}
	if c.Ledger.PollInterval <= 0 {
		c.Ledger.PollInterval = 5 * time.Second
	}
	c.Ledger.NetworkRetry.applyDefaults(time.Second, 30*time.Second)
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Backend.PageSize <= 0 {
		c.Backend.PageSize = 100
	}
	if c.Database.Type == "" {
		c.Database.Type = types.SQLite
	}
	if c.Database.Type == types.SQLite && c.Database.ConnectionString == "" {
		c.Database.ConnectionString = "local/data/txledger.db"
	}
	if c.Database.Codec == "" {
		c.Database.Codec = types.CodecJSON
	}
	if c.Reconcile.Interval.Unit == "" {
		c.Reconcile.Interval = DelayRange{Min: 30, Max: 45, Unit: types.TimeUnitSeconds}
	}
	if c.Reconcile.MaxUploadsPerPass <= 0 {
		c.Reconcile.MaxUploadsPerPass = 50
	}
	if c.Reconcile.RetryQueueSize <= 0 {
		c.Reconcile.RetryQueueSize = 256
	}
	c.Reconcile.Backoff.applyDefaults(30*time.Second, 10*time.Minute)
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 10
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8645"
	}
}

func (b *BackoffConfig) applyDefaults(initial, max time.Duration) {
	if b.Initial <= 0 {
		b.Initial = initial
	}
	if b.Max <= 0 {
		b.Max = max
	}
	if b.Factor < 1 {
		b.Factor = 2.0
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case types.SQLite, types.Postgres, types.None:
	default:
		return fmt.Errorf("%w: database.type %q", ErrConfigInvalid, c.Database.Type)
	}
	switch c.Database.Codec {
	case types.CodecJSON, types.CodecCBOR:
	default:
		return fmt.Errorf("%w: database.codec %q", ErrConfigInvalid, c.Database.Codec)
	}
	if c.Reconcile.Interval.Min < 0 || c.Reconcile.Interval.Max < 0 {
		return fmt.Errorf("%w: reconcile.interval must not be negative", ErrConfigInvalid)
	}
	return nil
}

// Package config loads the hearthd configuration from YAML and environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Cache    CacheConfig    `yaml:"cache"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`  // debug, info, warn, error
	Format       string `yaml:"format"` // json, console
	Output       string `yaml:"output"` // stdout, stderr
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// DatabaseConfig configures the Postgres job store. An empty DSN runs the
// queue on the in-process store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// RedisConfig configures the durable cache tier. An empty Addr keeps the
// durable tier in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig configures the delivery transport. An empty URL logs
// deliveries instead of publishing them.
type RabbitMQConfig struct {
	URL          string        `yaml:"url"`
	Exchange     string        `yaml:"exchange"`
	ExchangeType string        `yaml:"exchange_type"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	DialAttempts int           `yaml:"dial_attempts"`
	DialBackoff  time.Duration `yaml:"dial_backoff"`
}

type CacheConfig struct {
	MaxSize              int           `yaml:"max_size"`
	DefaultTTL           time.Duration `yaml:"default_ttl"`
	EvictionMargin       float64       `yaml:"eviction_margin"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	KeyPrefix            string        `yaml:"key_prefix"`
	WarmUpConcurrency    int           `yaml:"warm_up_concurrency"`
}

type DispatchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Retention   time.Duration `yaml:"retention"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	// SendRate caps deliveries per second; 0 is unlimited.
	SendRate  float64       `yaml:"send_rate"`
	SendBurst int           `yaml:"send_burst"`
	Breaker   BreakerConfig `yaml:"breaker"`
	// GuardSize bounds the recent-delivery guard; a negative value disables it.
	GuardSize int64         `yaml:"guard_size"`
	GuardTTL  time.Duration `yaml:"guard_ttl"`
}

type BreakerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
	HalfOpenSuccesses int           `yaml:"half_open_successes"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	// AdminToken protects the admin RPC and HTTP endpoints. Empty disables
	// authentication.
	AdminToken      string        `yaml:"admin_token"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	PrettyPrint bool    `yaml:"pretty_print"`
}

// Load reads the YAML file at path, rejects unknown keys and fills in
// defaults. It does not validate; call [Config.Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides connection settings and secrets from the environment.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"HEARTH_ADMIN_TOKEN": &c.Server.AdminToken,
		"HEARTH_GRPC_ADDR":   &c.Server.GRPCAddr,
		"HEARTH_HTTP_ADDR":   &c.Server.HTTPAddr,
		"HEARTH_LOG_LEVEL":   &c.Logging.Level,
		"DATABASE_URL":       &c.Database.DSN,
		"REDIS_ADDR":         &c.Redis.Addr,
		"REDIS_PASSWORD":     &c.Redis.Password,
		"AMQP_URL":           &c.RabbitMQ.URL,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}

	for name, addr := range map[string]string{"server.grpc_addr": c.Server.GRPCAddr, "server.http_addr": c.Server.HTTPAddr} {
		if err := validateAddr(addr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}

	if c.Cache.MaxSize < 1 {
		return errors.New("cache.max_size must be at least 1")
	}
	if c.Cache.EvictionMargin < 0 || c.Cache.EvictionMargin >= 1 {
		return fmt.Errorf("cache.eviction_margin %v must be in [0, 1)", c.Cache.EvictionMargin)
	}
	if c.Cache.CompressionThreshold < 0 {
		return errors.New("cache.compression_threshold must not be negative")
	}

	d := c.Dispatch
	if d.Interval <= 0 {
		return errors.New("dispatch.interval must be positive")
	}
	if d.BatchSize < 1 {
		return errors.New("dispatch.batch_size must be at least 1")
	}
	if d.BaseBackoff <= 0 || d.MaxBackoff < d.BaseBackoff {
		return fmt.Errorf("dispatch backoff must satisfy 0 < base (%s) <= max (%s)", d.BaseBackoff, d.MaxBackoff)
	}
	if d.Retention <= 0 || d.StaleAfter <= 0 || d.SendTimeout <= 0 {
		return errors.New("dispatch retention, stale_after and send_timeout must be positive")
	}
	if d.SendRate < 0 {
		return errors.New("dispatch.send_rate must not be negative")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v must be in [0, 1]", c.Tracing.SampleRatio)
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return errors.New("tracing.service_name is required when tracing is enabled")
	}
	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

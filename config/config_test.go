package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{name: "valid config file", filePath: "testdata/valid_config.yaml"},
		{name: "empty file uses defaults", filePath: "testdata/empty.yaml"},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
		{
			name:      "unknown field",
			filePath:  "testdata/unknown_field.yaml",
			wantErr:   true,
			errString: "max_sise",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestLoad_ValuesAndDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "hearth-test", cfg.App.Name)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns, "default")
	assert.True(t, cfg.Database.EnsureSchema)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "therapy.notifications", cfg.RabbitMQ.Exchange)
	assert.Equal(t, "topic", cfg.RabbitMQ.ExchangeType, "default")
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 0.1, cfg.Cache.EvictionMargin, "default")
	assert.Equal(t, time.Minute, cfg.Dispatch.BaseBackoff)
	assert.Equal(t, 7*24*time.Hour, cfg.Dispatch.Retention, "default")
	assert.Equal(t, int64(-1), cfg.Dispatch.GuardSize)
	assert.True(t, cfg.Dispatch.Breaker.Enabled)
	assert.Equal(t, 3, cfg.Dispatch.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Breaker.OpenTimeout, "default")
	assert.Equal(t, "from-file", cfg.Server.AdminToken)
	assert.Equal(t, "hearth-test", cfg.Tracing.ServiceName, "defaults to app name")
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
}

func TestApplyDefaults_Empty(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "hearth", cfg.App.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, "cache_", cfg.Cache.KeyPrefix)
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.BaseBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Dispatch.MaxBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.StaleAfter)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Empty(t, cfg.Database.DSN)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	env := map[string]string{
		"HEARTH_ADMIN_TOKEN": "from-env",
		"DATABASE_URL":       "postgres://other/db",
		"REDIS_DB":           "7",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "from-env", cfg.Server.AdminToken)
	assert.Equal(t, "postgres://other/db", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Redis.DB)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "unset variables keep file values")

	env["REDIS_DB"] = "seven"
	assert.ErrorContains(t, cfg.ApplyEnv(lookup), "REDIS_DB")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		errString string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"bad output", func(c *Config) { c.Logging.Output = "/var/log/hearth.log" }, "logging output"},
		{"bad grpc addr", func(c *Config) { c.Server.GRPCAddr = "9090" }, "server.grpc_addr"},
		{"bad http port", func(c *Config) { c.Server.HTTPAddr = ":99999" }, "server.http_addr"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "rate_limit"},
		{"max size", func(c *Config) { c.Cache.MaxSize = -5 }, "max_size"},
		{"margin", func(c *Config) { c.Cache.EvictionMargin = 1 }, "eviction_margin"},
		{"backoff order", func(c *Config) { c.Dispatch.MaxBackoff = time.Second }, "backoff"},
		{"interval", func(c *Config) { c.Dispatch.Interval = -time.Second }, "interval"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"service name", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.ServiceName = ""
		}, "service_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

package config

import "time"

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.App.Name, "hearth")
	setDefault(&c.App.Environment, "development")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")
	setDefault(&c.Logging.TimeFormat, time.RFC3339)

	setDefault(&c.Database.MaxOpenConns, 10)
	setDefault(&c.Database.MaxIdleConns, 5)
	setDefault(&c.Database.ConnMaxLifetime, 30*time.Minute)
	setDefault(&c.Database.ConnMaxIdleTime, 5*time.Minute)
	setDefault(&c.Database.ConnectAttempts, 5)
	setDefault(&c.Database.ConnectBackoff, time.Second)

	setDefault(&c.RabbitMQ.Exchange, "hearth.notifications")
	setDefault(&c.RabbitMQ.ExchangeType, "topic")
	setDefault(&c.RabbitMQ.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.DialAttempts, 5)
	setDefault(&c.RabbitMQ.DialBackoff, time.Second)

	setDefault(&c.Cache.MaxSize, 1000)
	setDefault(&c.Cache.DefaultTTL, 5*time.Minute)
	setDefault(&c.Cache.EvictionMargin, 0.1)
	setDefault(&c.Cache.CompressionThreshold, 1024)
	setDefault(&c.Cache.KeyPrefix, "cache_")

	setDefault(&c.Dispatch.Interval, 30*time.Second)
	setDefault(&c.Dispatch.BatchSize, 100)
	setDefault(&c.Dispatch.BaseBackoff, 5*time.Minute)
	setDefault(&c.Dispatch.MaxBackoff, 24*time.Hour)
	setDefault(&c.Dispatch.Retention, 7*24*time.Hour)
	setDefault(&c.Dispatch.StaleAfter, 10*time.Minute)
	setDefault(&c.Dispatch.SendTimeout, 30*time.Second)
	setDefault(&c.Dispatch.SendBurst, 1)
	setDefault(&c.Dispatch.GuardSize, 10_000)
	setDefault(&c.Dispatch.GuardTTL, 24*time.Hour)
	setDefault(&c.Dispatch.Breaker.FailureThreshold, 5)
	setDefault(&c.Dispatch.Breaker.OpenTimeout, 30*time.Second)
	setDefault(&c.Dispatch.Breaker.HalfOpenSuccesses, 1)

	setDefault(&c.Server.GRPCAddr, ":9090")
	setDefault(&c.Server.HTTPAddr, ":8080")
	setDefault(&c.Server.RateBurst, 50)
	setDefault(&c.Server.ReadTimeout, 10*time.Second)
	setDefault(&c.Server.WriteTimeout, 30*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 15*time.Second)

	setDefault(&c.Tracing.ServiceName, c.App.Name)
	setDefault(&c.Tracing.SampleRatio, 1.0)
}

func setDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

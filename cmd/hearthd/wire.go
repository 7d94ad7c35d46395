package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Keksclan/hearth/breaker"
	"github.com/Keksclan/hearth/cache"
	"github.com/Keksclan/hearth/config"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/Keksclan/hearth/dispatch/pgstore"
	"github.com/Keksclan/hearth/httpapi"
	"github.com/Keksclan/hearth/metrics"
	"github.com/Keksclan/hearth/notify"
	"github.com/Keksclan/hearth/ratelimit"
	"github.com/Keksclan/hearth/retry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// components holds everything the servers are wired to.
type components struct {
	cache   *cache.Tiered[json.RawMessage]
	queue   *dispatch.Queue
	checks  map[string]httpapi.Checker
	closers []func() error
}

func (c *components) close() {
	if c.queue != nil {
		c.queue.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("component close failed", slog.String("error", err.Error()))
		}
	}
}

func newComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, tp trace.TracerProvider) (c *components, err error) {
	c = &components{checks: make(map[string]httpapi.Checker)}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	rec := metrics.New(reg)

	jobStore, err := initJobStore(ctx, cfg.Database, logger, c)
	if err != nil {
		return nil, err
	}
	durable := initDurableStore(ctx, cfg.Redis, logger, c)
	sender, err := initSender(ctx, cfg.RabbitMQ, logger, c)
	if err != nil {
		return nil, err
	}

	var cacheOpts []cache.Option
	cacheOpts = append(cacheOpts,
		cache.WithMaxSize(cfg.Cache.MaxSize),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithEvictionMargin(cfg.Cache.EvictionMargin),
		cache.WithCompressionThreshold(cfg.Cache.CompressionThreshold),
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithWarmUpConcurrency(cfg.Cache.WarmUpConcurrency),
		cache.WithLogger(logger.With(slog.String("component", "cache"))),
		cache.WithMetrics(rec),
		cache.WithTracerProvider(tp),
	)
	// A nil *RedisStore must not become a non-nil cache.Store.
	if durable != nil {
		c.cache = cache.New[json.RawMessage](durable, cacheOpts...)
	} else {
		c.cache = cache.New[json.RawMessage](cache.NewMemoryStore(0), cacheOpts...)
	}

	c.queue, err = initQueue(cfg.Dispatch, jobStore, sender, logger, rec, tp)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func initJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger, c *components) (dispatch.Store, error) {
	if cfg.DSN == "" {
		logger.Warn("database.dsn is empty; jobs are kept in memory")
		return dispatch.NewMemoryStore(), nil
	}

	store, err := retry.Do(ctx, retry.Config{
		MaxAttempts: cfg.ConnectAttempts,
		BaseDelay:   cfg.ConnectBackoff,
		MaxDelay:    10 * cfg.ConnectBackoff,
		Jitter:      0.2,
	}, func(ctx context.Context) (*pgstore.Store, error) {
		s, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			logger.Warn("postgres connect attempt failed", slog.String("error", err.Error()))
		}
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	c.closers = append(c.closers, store.Close)
	c.checks["postgres"] = store.Ping

	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return store, nil
}

func initDurableStore(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger, c *components) *cache.RedisStore {
	if cfg.Addr == "" {
		logger.Warn("redis.addr is empty; durable cache tier is in memory")
		return nil
	}
	store := cache.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
	c.closers = append(c.closers, store.Close)
	c.checks["redis"] = store.Ping

	// The durable tier fails soft, so an unreachable Redis is only reported.
	if err := store.Ping(ctx); err != nil {
		logger.Warn("redis is unreachable", slog.String("addr", cfg.Addr), slog.String("error", err.Error()))
	} else {
		logger.Info("connected to redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	}
	return store
}

func initSender(ctx context.Context, cfg config.RabbitMQConfig, logger *slog.Logger, c *components) (dispatch.Sender, error) {
	if cfg.URL == "" {
		logger.Warn("rabbitmq.url is empty; deliveries are only logged")
		return notify.NewLogSender(logger), nil
	}
	sender, err := notify.DialAMQP(ctx, notify.AMQPConfig{
		URL:          cfg.URL,
		Exchange:     cfg.Exchange,
		ExchangeType: cfg.ExchangeType,
		Heartbeat:    cfg.Heartbeat,
		DialAttempts: cfg.DialAttempts,
		DialBackoff:  cfg.DialBackoff,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	c.closers = append(c.closers, sender.Close)
	return sender, nil
}

func initQueue(cfg config.DispatchConfig, store dispatch.Store, sender dispatch.Sender, logger *slog.Logger, rec *metrics.Metrics, tp trace.TracerProvider) (*dispatch.Queue, error) {
	queueLogger := logger.With(slog.String("component", "dispatch"))
	opts := []dispatch.Option{
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithBackoff(cfg.BaseBackoff, cfg.MaxBackoff),
		dispatch.WithRetention(cfg.Retention),
		dispatch.WithStaleAfter(cfg.StaleAfter),
		dispatch.WithSendTimeout(cfg.SendTimeout),
		dispatch.WithLogger(queueLogger),
		dispatch.WithMetrics(rec),
		dispatch.WithTracerProvider(tp),
		dispatch.WithDeliveryGuard(max(cfg.GuardSize, 0), cfg.GuardTTL),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, dispatch.WithBreaker(breaker.New(breaker.Config{
			FailureThreshold:   cfg.Breaker.FailureThreshold,
			OpenTimeout:        cfg.Breaker.OpenTimeout,
			HalfOpenMaxSuccess: cfg.Breaker.HalfOpenSuccesses,
			OnStateChange: func(from, to breaker.State) {
				queueLogger.Warn("sender circuit changed state",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})))
	}
	if cfg.SendRate > 0 {
		opts = append(opts, dispatch.WithRateLimiter(ratelimit.NewLimiter(cfg.SendRate, cfg.SendBurst)))
	}
	return dispatch.New(store, sender, opts...)
}

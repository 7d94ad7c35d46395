package cache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/hearth/tracing"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxSize              = 1000
	defaultEvictionMargin       = 0.1
	defaultCompressionThreshold = 1024
	defaultKeyPrefix            = "cache_"
	defaultDurableTimeout       = 2 * time.Second
)

type options struct {
	maxSize              int
	defaultTTL           time.Duration
	evictionMargin       float64
	compressionThreshold int
	keyPrefix            string
	durableTimeout       time.Duration
	warmUpConcurrency    int
	nowFunc              func() time.Time
	logger               *slog.Logger
	recorder             Recorder
	tracerProvider       trace.TracerProvider
}

func defaultOptions() options {
	return options{
		maxSize:              defaultMaxSize,
		defaultTTL:           DefaultTTL,
		evictionMargin:       defaultEvictionMargin,
		compressionThreshold: defaultCompressionThreshold,
		keyPrefix:            defaultKeyPrefix,
		durableTimeout:       defaultDurableTimeout,
		nowFunc:              time.Now,
		logger:               slog.New(slog.DiscardHandler),
	}
}

// Option configures a [Tiered] cache.
type Option func(*options)

// WithMaxSize sets the maximum number of primary tier entries. Values below
// 1 are ignored.
func WithMaxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL applied when a caller passes ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.defaultTTL = ttl
		}
	}
}

// WithEvictionMargin sets the fraction of maxSize removed on top of the
// single slot a capacity eviction must free. 0 evicts exactly one entry.
func WithEvictionMargin(fraction float64) Option {
	return func(o *options) {
		if fraction >= 0 && fraction < 1 {
			o.evictionMargin = fraction
		}
	}
}

// WithCompressionThreshold sets the serialized size in bytes above which
// durable entries are stored base64 encoded.
func WithCompressionThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.compressionThreshold = n
		}
	}
}

// WithKeyPrefix sets the namespace prefix for durable keys. Glob characters
// in the prefix are matched literally by [RedisStore.Keys].
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithDurableTimeout bounds every durable tier operation. Shared GetOrSet
// lookups outlive the caller that started them, so this is what stops a slow
// store from holding them. Zero disables the bound.
func WithDurableTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.durableTimeout = d
		}
	}
}

// WithWarmUpConcurrency bounds the number of concurrent fetches run by
// [Tiered.WarmUp]. Zero means unbounded.
func WithWarmUpConcurrency(n int) Option {
	return func(o *options) {
		o.warmUpConcurrency = n
	}
}

// WithClock replaces time.Now. Useful for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.nowFunc = now
		}
	}
}

// WithLogger sets the logger used to report swallowed durable tier and
// warm-up failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics makes the cache report events to r.
func WithMetrics(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithTracerProvider sets the provider used for fetch spans. The global
// provider is used when unset.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func (o *options) tracer() trace.Tracer {
	return tracing.Tracer(o.tracerProvider, "github.com/Keksclan/hearth/cache")
}

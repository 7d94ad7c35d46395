package dispatch

import (
	"log/slog"
	"time"

	"github.com/Keksclan/hearth/breaker"
	"github.com/Keksclan/hearth/ratelimit"
	"github.com/Keksclan/hearth/retry"
	"github.com/Keksclan/hearth/tracing"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBatchSize   = 100
	DefaultBaseBackoff = 5 * time.Minute
	DefaultMaxBackoff  = 24 * time.Hour
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultStaleAfter  = 10 * time.Minute
	DefaultSendTimeout = 30 * time.Second

	defaultGuardSize = 10_000
	defaultGuardTTL  = 24 * time.Hour
)

type options struct {
	batchSize      int
	backoff        retry.Config
	retention      time.Duration
	staleAfter     time.Duration
	sendTimeout    time.Duration
	nowFunc        func() time.Time
	logger         *slog.Logger
	recorder       Recorder
	tracerProvider trace.TracerProvider
	breaker        *breaker.Breaker
	limiter        *ratelimit.Limiter
	guardSize      int64
	guardTTL       time.Duration
}

func defaultOptions() options {
	return options{
		batchSize:   DefaultBatchSize,
		backoff:     retry.Config{BaseDelay: DefaultBaseBackoff, MaxDelay: DefaultMaxBackoff},
		retention:   DefaultRetention,
		staleAfter:  DefaultStaleAfter,
		sendTimeout: DefaultSendTimeout,
		nowFunc:     time.Now,
		logger:      slog.New(slog.DiscardHandler),
		guardSize:   defaultGuardSize,
		guardTTL:    defaultGuardTTL,
	}
}

func (o *options) tracer() trace.Tracer {
	return tracing.Tracer(o.tracerProvider, "github.com/Keksclan/hearth/dispatch")
}

// Option configures a [Queue].
type Option func(*options)

// WithBatchSize caps how many due jobs one ProcessBatch call handles.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBackoff sets the retry delay to base * 2^retry, capped at maxDelay when
// maxDelay is positive.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(o *options) {
		o.backoff.BaseDelay = base
		o.backoff.MaxDelay = maxDelay
	}
}

// WithRetention sets how long terminal jobs are kept after creation.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithStaleAfter sets how long a job may stay in sending before the next
// batch returns it to pending. Zero disables reclaiming.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) { o.staleAfter = d }
}

// WithSendTimeout bounds a single Send call. Zero disables the timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.nowFunc = now }
}

// WithLogger sets the logger used for batch and job events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the recorder notified about job outcomes and batches.
func WithMetrics(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTracerProvider sets the provider for batch and send spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithBreaker gates deliveries behind b. While b refuses requests the rest of
// the batch is left pending.
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

// WithRateLimiter paces deliveries.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithDeliveryGuard sizes the set of recently delivered job IDs. A claimed job
// found in the set is marked sent without calling the sender again. A size of
// zero disables the guard.
func WithDeliveryGuard(size int64, ttl time.Duration) Option {
	return func(o *options) {
		o.guardSize = size
		o.guardTTL = ttl
	}
}

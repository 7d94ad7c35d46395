package hearth

import (
	"log/slog"

	"github.com/Keksclan/hearth/admin"
	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/interceptors"
	"github.com/Keksclan/hearth/internal/core"
	"github.com/Keksclan/hearth/ratelimit"
	"github.com/Keksclan/hearth/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// Option configures a Server.
type Option func(*config)

// WithUnaryInterceptor appends a unary server interceptor. User interceptors
// run after every built-in one, in the order they were added.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) {
		c.middlewares.Add(core.OrderUser, i, nil)
	}
}

// WithStreamInterceptor appends a stream server interceptor.
func WithStreamInterceptor(i grpc.StreamServerInterceptor) Option {
	return func(c *config) {
		c.middlewares.Add(core.OrderUser, nil, i)
	}
}

// WithRecovery turns handler panics into codes.Internal instead of crashing
// the process.
func WithRecovery() Option {
	return func(c *config) { c.recovery = true }
}

// WithRequestID stores a request id in every call context and echoes it in
// the x-request-id response header.
func WithRequestID() Option {
	return func(c *config) { c.requestID = true }
}

// WithLogger sets the logger used for panics and enables one access log line
// per call.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuth rejects calls for which fn returns an error.
func WithAuth(fn auth.AuthFunc) Option {
	return func(c *config) { c.auth = fn }
}

// WithRateLimitGlobal limits every method to rps requests per second with
// the given burst.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) {
		c.globalLimit = ratelimit.NewLimiter(rps, burst)
	}
}

// WithMethodRateLimit gives the methods matched by pattern their own limiter.
// pattern is a full method name or a service prefix ending in "/".
func WithMethodRateLimit(pattern string, rps float64, burst int) Option {
	return func(c *config) {
		c.methodLimits = append(c.methodLimits, interceptors.MethodLimit{
			Pattern: pattern,
			Limiter: ratelimit.NewLimiter(rps, burst),
		})
	}
}

// WithOpenTelemetry creates a server span per call.
func WithOpenTelemetry(cfg tracing.TracingConfig) Option {
	return func(c *config) { c.tracing = &cfg }
}

// WithAdmin registers the hearth.Admin service backed by cache and queue.
// Either may be nil; the related methods then report codes.Unimplemented.
func WithAdmin(cache admin.Cache, queue admin.Queue) Option {
	return func(c *config) {
		c.admin = true
		c.adminCache = cache
		c.adminQueue = queue
	}
}

// WithMetricsGatherer sets the registry served by [Server.MetricsHandler].
// The default is prometheus.DefaultGatherer.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(c *config) { c.gatherer = g }
}

// WithServerOption passes opt through to grpc.NewServer.
func WithServerOption(opt grpc.ServerOption) Option {
	return func(c *config) {
		c.serverOptions = append(c.serverOptions, opt)
	}
}

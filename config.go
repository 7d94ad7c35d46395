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

// config holds the settings collected from Option values. Built-in
// interceptors are added to middlewares by build, so the order in which
// options are passed never changes the chain.
type config struct {
	middlewares core.MiddlewareBuilder

	logger    *slog.Logger
	recovery  bool
	requestID bool
	auth      auth.AuthFunc
	tracing   *tracing.TracingConfig

	globalLimit  *ratelimit.Limiter
	methodLimits []interceptors.MethodLimit

	admin      bool
	adminCache admin.Cache
	adminQueue admin.Queue

	gatherer      prometheus.Gatherer
	serverOptions []grpc.ServerOption
}

func (c *config) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

// build registers the enabled built-in interceptors in their fixed slots.
func (c *config) build() {
	if c.recovery {
		c.middlewares.Add(core.OrderRecovery,
			interceptors.RecoveryUnary(c.log()), interceptors.RecoveryStream(c.log()))
	}
	if c.requestID {
		c.middlewares.Add(core.OrderRequestID,
			interceptors.RequestIDUnary(), interceptors.RequestIDStream())
	}
	if c.tracing != nil {
		c.middlewares.Add(core.OrderTracing,
			tracing.UnaryServerInterceptor(c.tracing), tracing.StreamServerInterceptor(c.tracing))
	}
	if c.logger != nil {
		c.middlewares.Add(core.OrderLogging,
			interceptors.LoggingUnary(c.logger), interceptors.LoggingStream(c.logger))
	}
	if c.auth != nil {
		c.middlewares.Add(core.OrderAuth,
			interceptors.AuthUnary(c.auth), interceptors.AuthStream(c.auth))
	}
	if c.globalLimit != nil || len(c.methodLimits) > 0 {
		c.middlewares.Add(core.OrderRateLimit,
			interceptors.RateLimitUnary(c.globalLimit, c.methodLimits...),
			interceptors.RateLimitStream(c.globalLimit, c.methodLimits...))
	}
}

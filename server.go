// Package hearth wires the cache and dispatch components of a hearth daemon
// into a gRPC server with a fixed interceptor chain and an optional
// hearth.Admin service.
package hearth

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/Keksclan/hearth/admin"
	"github.com/Keksclan/hearth/interceptors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// Server wraps a [grpc.Server]. Interceptor order is fixed by slot, not by
// the order options are passed:
//
//	recovery, request id, tracing, access log, auth, rate limit, user
//
// Further services can be registered on [Server.GRPC] before serving.
type Server struct {
	grpcServer *grpc.Server
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewServer builds a Server from opts.
//
//	srv := hearth.NewServer(
//		hearth.WithRecovery(),
//		hearth.WithAuth(auth.StaticToken(token, contextx.Actor{Subject: "ops"})),
//		hearth.WithAdmin(tiered, queue),
//	)
func NewServer(opts ...Option) *Server {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	cfg.build()

	serverOpts := cfg.middlewares.ServerOptions(interceptors.ChainUnary, interceptors.ChainStream, cfg.serverOptions...)
	s := &Server{
		grpcServer: grpc.NewServer(serverOpts...),
		gatherer:   cfg.gatherer,
		logger:     cfg.log(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if cfg.admin {
		admin.Register(s.grpcServer, admin.NewService(cfg.adminCache, cfg.adminQueue))
	}
	return s
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// MetricsHandler returns an http.Handler serving the configured Prometheus
// registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully. It returns nil after a shutdown triggered by ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()
	s.logger.Info("grpc server listening", slog.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.grpcServer.GracefulStop()
	if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

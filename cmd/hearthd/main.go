// Command hearthd runs the notification dispatch loop and the tiered cache
// behind a gRPC admin service and an operations HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Keksclan/hearth"
	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/config"
	"github.com/Keksclan/hearth/contextx"
	"github.com/Keksclan/hearth/httpapi"
	"github.com/Keksclan/hearth/logger"
	"github.com/Keksclan/hearth/tracing"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using the process environment")
	}

	defaultConfigPath := os.Getenv("HEARTH_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/hearthd.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
		TimeFormat:   cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	appLogger.Info("starting hearthd",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := tracing.NewProvider(tracing.ProviderConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			appLogger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := newComponents(ctx, cfg, appLogger, reg, tp)
	if err != nil {
		return err
	}
	defer c.close()

	var authFn auth.AuthFunc
	if cfg.Server.AdminToken != "" {
		authFn = auth.StaticToken(cfg.Server.AdminToken, contextx.Actor{Subject: "admin", Scopes: []string{"admin"}})
	} else {
		appLogger.Warn("server.admin_token is empty; admin endpoints are unauthenticated")
	}

	opts := append(hearth.DefaultOptions(appLogger),
		hearth.WithOpenTelemetry(tracing.TracingConfig{TracerProvider: tp}),
		hearth.WithAdmin(c.cache, c.queue),
		hearth.WithMetricsGatherer(reg),
	)
	if authFn != nil {
		opts = append(opts, hearth.WithAuth(authFn))
	}
	if cfg.Server.RateLimit > 0 {
		opts = append(opts, hearth.WithRateLimitGlobal(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	grpcServer := hearth.NewServer(opts...)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Dependencies{
			Logger:  appLogger,
			Cache:   c.cache,
			Queue:   c.queue,
			Metrics: grpcServer.MetricsHandler(),
			Auth:    authFn,
			Checks:  c.checks,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.queue.Run(gctx, cfg.Dispatch.Interval)
	})
	g.Go(func() error {
		return grpcServer.Serve(gctx, lis)
	})
	g.Go(func() error {
		appLogger.Info("http server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	appLogger.Info("shutdown complete")
	return nil
}

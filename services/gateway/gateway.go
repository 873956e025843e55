// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the public entry point of the platform: a
// reverse proxy in front of the user service plus health probes and
// Prometheus metrics.
//
// The gateway holds no state of its own. Its job is correlation id
// handling, request accounting, and translating upstream failures
// into stable error bodies.
//
// # Usage
//
//	cfg := gateway.Config{Port: 8080, UserServiceURL: "http://users:8081"}
//	svc, err := gateway.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/gateway/handlers"
	"github.com/AleutianAI/userplane/services/gateway/observability"
)

// Service defines the contract for the gateway service.
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal
	// or a fatal server error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Config holds gateway configuration options. Zero values use
// defaults.
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// UserServiceURL is the base URL of the user service.
	// Default: "http://localhost:8081"
	UserServiceURL string

	// UpstreamTimeout bounds each upstream call. Default: 2s
	UpstreamTimeout time.Duration

	// ShutdownGrace is how long in-flight requests may drain after a
	// shutdown signal. Default: 10s
	ShutdownGrace time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// If empty, tracing is disabled.
	OTelEndpoint string

	// OTelExporter selects the trace exporter.
	// Valid values: "grpc", "stdout". Default: "grpc"
	OTelExporter string

	// GinMode sets the Gin framework mode. Default: "release"
	GinMode string
}

// Options carries injected dependencies. Nil fields fall back to
// defaults.
type Options struct {
	// Logger receives all gateway logs. Default: logging.Default()
	Logger *logging.Logger

	// Registry collects the gateway metrics and backs the /metrics
	// endpoint. Default: a fresh private registry.
	Registry *prometheus.Registry

	// Client performs upstream calls. Default: a plain http.Client.
	// Tests substitute a scripted transport here.
	Client handlers.HTTPClient
}

type service struct {
	config        Config
	logger        *logging.Logger
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	client        handlers.HTTPClient
	upstreamURL   *url.URL
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New creates a gateway service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Resolves injected dependencies (logger, registry, client)
//  3. Initializes OpenTelemetry tracing if configured
//  4. Validates the upstream URL
//  5. Sets up the HTTP router and middleware chain
//
// # Inputs
//
//   - cfg: Gateway configuration. Zero values use defaults.
//   - opts: Injected dependencies. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run gateway
//   - error: Non-nil if initialization fails
func New(cfg Config, opts *Options) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	var o Options
	if opts != nil {
		o = *opts
	}
	s.logger = o.Logger
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.registry = o.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.client = o.Client
	if s.client == nil {
		s.client = &http.Client{}
	}
	s.metrics = observability.NewMetrics(s.registry)

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	upstreamURL, err := url.Parse(s.config.UserServiceURL)
	if err != nil || upstreamURL.Scheme == "" || upstreamURL.Host == "" {
		s.cleanup()
		return nil, fmt.Errorf("invalid user service URL: %s", s.config.UserServiceURL)
	}
	s.upstreamURL = upstreamURL

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("gateway started",
		"port", s.config.Port,
		"user_service_url", s.config.UserServiceURL,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown expired, forcing close", "error", err)
		_ = srv.Close()
		return err
	}

	s.logger.Info("gateway stopped")
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.UserServiceURL == "" {
		cfg.UserServiceURL = "http://localhost:8081"
	}
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = 2 * time.Second
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.OTelExporter == "" {
		cfg.OTelExporter = "grpc"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing. Tracing
// is opt-in; without an endpoint the gateway runs untraced.
func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" && s.config.OTelExporter != "stdout" {
		return nil, nil
	}

	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.OTelExporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown trace provider", "error", err)
		}
	}

	return cleanup, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)

	router := gin.New()
	router.Use(httpware.RequestID())
	if s.tracerCleanup != nil {
		router.Use(otelgin.Middleware("gateway"))
	}
	router.Use(
		httpware.Observe(s.metrics, s.logger),
		httpware.Recover(s.logger),
	)

	deps := &handlers.Deps{
		Client:      s.client,
		UpstreamURL: s.upstreamURL,
		Logger:      s.logger,
		Metrics:     s.metrics,
		Timeout:     s.config.UpstreamTimeout,
	}
	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	SetupRoutes(router, deps, metricsHandler)

	s.router = router
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

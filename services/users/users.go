// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package users provides the user service: CRUD over a keyed record
// store, health probes, and Prometheus metrics.
//
// The package wires together the storage driver (Redis or Badger),
// the HTTP handlers, and the middleware chain. All cross-cutting
// dependencies are injected: the service never touches a global
// logger or the default metrics registry.
//
// # Usage
//
//	cfg := users.Config{Port: 8081, RedisURL: "redis://localhost:6379"}
//	svc, err := users.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package users

import (
	"context"
	"errors"
	"fmt"
	"net/http"
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
	"github.com/AleutianAI/userplane/services/users/handlers"
	"github.com/AleutianAI/userplane/services/users/observability"
	"github.com/AleutianAI/userplane/services/users/storage"
	"github.com/AleutianAI/userplane/services/users/storage/badgerstore"
	"github.com/AleutianAI/userplane/services/users/storage/redisstore"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the user service.
//
// # Description
//
// Service abstracts the user service lifecycle, enabling testing and
// alternative implementations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal
	// or a fatal server error. On SIGINT/SIGTERM the server drains
	// in-flight requests for the configured grace period before the
	// store and tracer are released.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds user service configuration options.
//
// Values can be populated from environment variables, a YAML config
// file, or programmatically for testing. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 8081
	Port int

	// StoreDriver selects the storage backend.
	// Valid values: "redis", "badger". Default: "redis"
	StoreDriver string

	// RedisURL is the Redis connection URL for the redis driver.
	// Default: "redis://localhost:6379"
	RedisURL string

	// BadgerPath is the database directory for the badger driver.
	// Default: "./data/users"
	BadgerPath string

	// StoreTimeout bounds each store operation. Default: 2s
	StoreTimeout time.Duration

	// StoreConnectRetries is the number of connection attempts before
	// startup fails. Default: 10
	StoreConnectRetries int

	// StorePingInterval is how often the store connection is probed
	// in the background. Default: 5s
	StorePingInterval time.Duration

	// ShutdownGrace is how long in-flight requests may drain after a
	// shutdown signal. Default: 10s
	ShutdownGrace time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// If empty, tracing is disabled.
	OTelEndpoint string

	// OTelExporter selects the trace exporter.
	// Valid values: "grpc", "stdout". Default: "grpc"
	OTelExporter string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test". Default: "release"
	GinMode string
}

// Options carries injected dependencies.
//
// All fields are optional; nil fields fall back to defaults. Tests
// inject a quiet logger, an isolated registry, and an in-memory
// store.
type Options struct {
	// Logger receives all service logs. Default: logging.Default()
	Logger *logging.Logger

	// Registry collects the service metrics and backs the /metrics
	// endpoint. Default: a fresh private registry.
	Registry *prometheus.Registry

	// Store overrides the configured storage driver. When set, the
	// service skips driver construction and takes ownership of the
	// given store, closing it on shutdown.
	Store storage.UserStore
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction. All fields are read-only after
// New() returns.
type service struct {
	config        Config
	logger        *logging.Logger
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	store         storage.UserStore
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a user service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Resolves injected dependencies (logger, registry, store)
//  3. Initializes OpenTelemetry tracing if configured
//  4. Opens the storage driver, retrying per the connect budget
//  5. Sets up the HTTP router and middleware chain
//
// Store construction is fatal when the connect budget is exhausted:
// a service that never reached its store refuses to start rather
// than serve requests it cannot honor.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Injected dependencies. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run user service
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
	s.metrics = observability.NewMetrics(s.registry)

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.store = o.Store
	if s.store == nil {
		if err := s.initStore(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("initialize store: %w", err)
		}
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

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

	s.logger.Info("user service started",
		"port", s.config.Port,
		"store_driver", s.config.StoreDriver,
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

	s.logger.Info("user service stopped")
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "redis"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./data/users"
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.StoreConnectRetries == 0 {
		cfg.StoreConnectRetries = 10
	}
	if cfg.StorePingInterval == 0 {
		cfg.StorePingInterval = 5 * time.Second
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

// initTracer initializes OpenTelemetry distributed tracing.
//
// Tracing is opt-in: with no endpoint configured and the default
// exporter, the service runs untraced and the returned cleanup is
// nil.
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
		resource.WithAttributes(semconv.ServiceNameKey.String("user-service")))
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

// initStore opens the configured storage driver.
func (s *service) initStore() error {
	switch s.config.StoreDriver {
	case "redis":
		store, err := redisstore.Open(redisstore.Config{
			URL:               s.config.RedisURL,
			OpTimeout:         s.config.StoreTimeout,
			MaxConnectRetries: s.config.StoreConnectRetries,
			PingInterval:      s.config.StorePingInterval,
		}, s.logger, s.metrics)
		if err != nil {
			return err
		}
		s.store = store
	case "badger":
		store, err := badgerstore.Open(badgerstore.Config{
			Path:       s.config.BadgerPath,
			SyncWrites: true,
		}, s.logger, s.metrics)
		if err != nil {
			return err
		}
		s.store = store
	default:
		return fmt.Errorf("unknown store driver %q", s.config.StoreDriver)
	}
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)

	router := gin.New()
	router.Use(httpware.RequestID())
	if s.tracerCleanup != nil {
		router.Use(otelgin.Middleware("user-service"))
	}
	router.Use(
		httpware.Observe(s.metrics, s.logger),
		httpware.Recover(s.logger),
	)

	deps := &handlers.Deps{
		Store:   s.store,
		Logger:  s.logger,
		Metrics: s.metrics,
		Timeout: s.config.StoreTimeout,
	}
	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	SetupRoutes(router, deps, metricsHandler)

	s.router = router
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway assembles the streaming chat gateway service: the
// WebSocket endpoint, connection registry, room router, streaming session
// controller, and embedding engine, behind a single Config/New/Run surface.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/streamgate/services/gateway/embeddings"
	"github.com/AleutianAI/streamgate/services/gateway/handlers"
	"github.com/AleutianAI/streamgate/services/gateway/middleware"
	"github.com/AleutianAI/streamgate/services/gateway/observability"
	"github.com/AleutianAI/streamgate/services/gateway/registry"
	"github.com/AleutianAI/streamgate/services/gateway/rooms"
	"github.com/AleutianAI/streamgate/services/gateway/routes"
	"github.com/AleutianAI/streamgate/services/gateway/session"
	"github.com/AleutianAI/streamgate/services/gateway/transport"
	"github.com/AleutianAI/streamgate/services/llm"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the runnable gateway.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the underlying Gin engine for integration testing.
	// Callers must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration. All fields have defaults applied by
// New(); populate them from environment variables, or programmatically in
// tests.
type Config struct {
	// Port is the HTTP server port. Default: 12220
	Port int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "streamgate-otel-collector:4317"
	OTelEndpoint string

	// AuthSecret signs connection tokens. Empty selects the nop provider,
	// which accepts any non-empty token (local development).
	AuthSecret string

	// EnableMetrics registers the Prometheus gateway metrics with the
	// default registerer. Off by default so tests can build services
	// without touching global metric state.
	EnableMetrics bool

	// SweepInterval is how often stale connections are swept.
	// Default: 1 hour
	SweepInterval time.Duration

	// ConnectionMaxAge is the staleness threshold for the sweep.
	// Default: 24 hours
	ConnectionMaxAge time.Duration

	// Embeddings tunes the embedding cache engine. Zero values fall back
	// to embeddings.DefaultConfig().
	Embeddings embeddings.Config
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12220
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "streamgate-otel-collector:4317"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = registry.DefaultSweepInterval
	}
	if cfg.ConnectionMaxAge <= 0 {
		cfg.ConnectionMaxAge = registry.DefaultMaxAge
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	llmClient     *llm.OpenAIClient
	tracerCleanup func(context.Context)
	stopSweeper   context.CancelFunc
}

// New builds the gateway service. Fails if the tracer or the LLM client
// cannot be initialized; everything else has working defaults.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.llmClient, err = llm.NewOpenAIClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var metrics *observability.GatewayMetrics
	if s.config.EnableMetrics {
		metrics = observability.NewGatewayMetrics(prometheus.DefaultRegisterer)
		slog.Info("Initialized Prometheus metrics for the gateway")
	}

	engine := embeddings.NewEngine(s.llmClient, s.config.Embeddings)

	// Core components. The registry and router reference each other, so the
	// departure notifier binds after construction; same for the session
	// controller's room-empty hook.
	wsTransport := transport.NewWebSocketTransport()
	reg := registry.New()
	router := rooms.NewRouter(wsTransport, reg)
	router.SetMetrics(metrics)
	reg.SetNotifier(router)
	sessions := session.NewController(s.llmClient, router, metrics)
	router.SetEmptyHandler(sessions)

	var auth middleware.AuthProvider
	if s.config.AuthSecret != "" {
		auth = middleware.NewSharedSecretProvider(s.config.AuthSecret)
	} else {
		auth = middleware.ProviderFromEnv()
	}

	gw := handlers.NewGateway(wsTransport, reg, router, sessions,
		handlers.NewRoomMemory(engine), auth, metrics)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	s.stopSweeper = stopSweeper
	go registry.NewSweeper(reg, s.config.SweepInterval, s.config.ConnectionMaxAge).Run(sweepCtx)

	s.initRouter(gw)
	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
//
// SIGINT or SIGTERM triggers a graceful shutdown: the listener closes, and
// in-flight requests get a bounded drain window. Cleanup is automatic on
// return.
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting gateway server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down gateway", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) initRouter(gw *handlers.Gateway) {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("gateway-service"))
	routes.SetupRoutes(engine, gw)
	s.router = engine
}

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func (s *service) cleanup() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Package main provides the entrypoint for the OceanFeed API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api"
	"github.com/oceanfeed/oceanfeed/internal/api/handler"
	"github.com/oceanfeed/oceanfeed/internal/api/middleware"
	"github.com/oceanfeed/oceanfeed/internal/auth"
	"github.com/oceanfeed/oceanfeed/internal/database"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/provider/resilience"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
	"github.com/oceanfeed/oceanfeed/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "oceanfeed-api"

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting OceanFeed API")

	port := getEnvOrDefault("APP_PORT", "8080")
	otlpEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	env := getEnvOrDefault("APP_ENV", "development")

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}
	sourceMetrics, err := middleware.NewCacheMetrics("sources")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize source cache metrics")
	}
	catalogMetrics, err := middleware.NewCacheMetrics("catalog")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize catalog cache metrics")
	}

	// Snapshot store: PostgreSQL when enabled, in memory otherwise
	var repo framestore.Repository = framestore.NewInMemoryRepository()
	var checks []handler.DependencyCheck
	if database.Enabled() {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure database schema")
		}
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		repo = framestore.NewPostgresRepository(pool)
		checks = append(checks, handler.DependencyCheck{Name: "database", Check: pool.Ping})
	} else {
		log.Warn().Msg("database disabled - snapshots are kept in memory")
	}
	snapshots := framestore.NewService(framestore.ServiceConfig{
		Repository: repo,
		Logger:     log,
	})

	// Upstream sensor service
	registry := resilience.NewRegistry()
	client := axds.NewClient(axds.ClientConfig{
		SensorsURL:        os.Getenv("AXDS_SENSORS_URL"),
		SearchURL:         os.Getenv("AXDS_SEARCH_URL"),
		RequestsPerSecond: getEnvFloat("AXDS_REQUESTS_PER_SECOND", 5),
		Registry:          registry,
	})

	sources, err := handler.NewSourceCache(getEnvInt("SOURCE_CACHE_SIZE", handler.DefaultSourceCacheSize),
		func(ref handler.StationRef, opts sensor.Options) (*sensor.Source, error) {
			return sensor.NewSource(sensor.SourceConfig{
				Fetcher:    client,
				Logger:     log,
				Metrics:    pipelineMetrics,
				InternalID: ref.InternalID,
				DatasetID:  ref.DatasetID,
				Options:    opts,
			})
		}, sourceMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create source cache")
	}

	catalogHandler, err := handler.NewCatalogHandler(handler.CatalogConfig{
		Backend:   client,
		SearchURL: getEnvOrDefault("AXDS_SEARCH_URL", axds.DefaultSearchURL),
		Logger:    log,
		Metrics:   catalogMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create catalog handler")
	}

	routerConfig := api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		RequireTLS:  env == "production",
		Registry:    registry,
		Checks:      checks,
		Sources:     sources,
		Snapshots:   snapshots,
		Resolver:    client,
		Catalog:     catalogHandler,
	}

	// Bearer auth is only enforced when a signing key is configured
	if signingKey := os.Getenv("JWT_SIGNING_KEY"); signingKey != "" {
		tokens, err := auth.NewTokenService(auth.Config{
			SigningKey: signingKey,
			Issuer:     os.Getenv("JWT_ISSUER"),
			Audience:   getEnvOrDefault("JWT_AUDIENCE", serviceName),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize token service")
		}
		routerConfig.Tokens = tokens
		log.Info().Msg("bearer token auth enabled")
	} else {
		log.Warn().Msg("JWT_SIGNING_KEY not set - station routes are public")
	}

	router := api.NewRouter(routerConfig)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

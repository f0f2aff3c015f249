// Package main provides the entrypoint for the OceanFeed refresh worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api/response"
	"github.com/oceanfeed/oceanfeed/internal/database"
	"github.com/oceanfeed/oceanfeed/internal/export"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/provider/resilience"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
	"github.com/oceanfeed/oceanfeed/internal/telemetry"
	"github.com/oceanfeed/oceanfeed/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "oceanfeed-worker"

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting OceanFeed worker")

	// Worker also exposes health endpoint for Cloud Run
	port := getEnvOrDefault("APP_PORT", "8080")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otlpEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    getEnvOrDefault("APP_ENV", "development"),
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
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

	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}

	configPath := getEnvOrDefault("WORKER_CONFIG", "stations.yaml")
	refreshConfig, err := worker.LoadRefreshConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load refresh config")
	}
	log.Info().
		Str("path", configPath).
		Int("stations", len(refreshConfig.Stations)).
		Msg("refresh config loaded")

	// Snapshot store
	var snapshots worker.SnapshotStore
	if database.Enabled() {
		pool, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure database schema")
		}
		snapshots = framestore.NewService(framestore.ServiceConfig{
			Repository: framestore.NewPostgresRepository(pool),
			Logger:     log,
		})
		log.Info().Msg("snapshot persistence enabled")
	} else {
		log.Warn().Msg("database disabled - snapshots are not persisted")
	}

	// Export sink: GCS bucket when configured, local directory otherwise
	var sink export.Sink
	if bucket := os.Getenv("EXPORT_BUCKET"); bucket != "" {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create storage client")
		}
		defer gcs.Close()
		sink = export.NewGCSSink(gcs, bucket, os.Getenv("EXPORT_PREFIX"))
		log.Info().Str("bucket", bucket).Msg("exporting to GCS")
	} else {
		local, err := export.NewLocalSink(getEnvOrDefault("EXPORT_DIR", "exports"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create export directory")
		}
		sink = local
	}

	registry := resilience.NewRegistry()
	client := axds.NewClient(axds.ClientConfig{
		SensorsURL:        os.Getenv("AXDS_SENSORS_URL"),
		SearchURL:         os.Getenv("AXDS_SEARCH_URL"),
		RequestsPerSecond: getEnvFloat("AXDS_REQUESTS_PER_SECOND", 5),
		Registry:          registry,
	})

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: refreshConfig,
		Logger: log,
		NewSource: func(target worker.StationTarget, opts sensor.Options) (*sensor.Source, error) {
			return sensor.NewSource(sensor.SourceConfig{
				Fetcher:    client,
				Logger:     log,
				Metrics:    pipelineMetrics,
				InternalID: target.InternalID,
				DatasetID:  target.DatasetID,
				Options:    opts,
				Metadata:   map[string]any{"station": target.Label()},
			})
		},
		Snapshots: snapshots,
		Exporter:  export.NewExporter(sink, log),
	})
	dispatcher := worker.NewDispatcher(job, log)

	// Health endpoint reports job metrics and upstream health
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		circuits := make(map[string]string)
		for _, ph := range registry.GetAllHealth() {
			circuits[ph.Name] = ph.CircuitState.String()
		}
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":   "healthy",
			"version":  Version,
			"metrics":  job.MetricsSnapshot(),
			"circuits": circuits,
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Pub/Sub when configured, otherwise a fixed interval
	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        projectID,
			SubscriptionName: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "station-refresh"),
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer handler.Close()

		go func() {
			if err := handler.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		go runInterval(ctx, job, refreshConfig.Interval, log)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// runInterval refreshes every station at start and then on each tick.
func runInterval(ctx context.Context, job *worker.RefreshJob, interval time.Duration, log zerolog.Logger) {
	log.Info().Dur("interval", interval).Msg("worker started on interval")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if result := job.Run(ctx); result.Err != nil {
			log.Warn().Err(result.Err).Msg("refresh run had failures")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("worker context cancelled")
			return
		case <-ticker.C:
		}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

// Package api provides the HTTP API for OceanFeed.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api/handler"
	"github.com/oceanfeed/oceanfeed/internal/api/middleware"
	"github.com/oceanfeed/oceanfeed/internal/api/response"
	"github.com/oceanfeed/oceanfeed/internal/auth"
	"github.com/oceanfeed/oceanfeed/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Tokens validates bearer tokens. When nil the station routes are public.
	Tokens middleware.TokenValidator

	// RequireTLS rejects requests not forwarded over https.
	RequireTLS bool

	Registry *resilience.Registry
	Checks   []handler.DependencyCheck

	Sources   *handler.SourceCache
	Snapshots handler.SnapshotStore
	Resolver  handler.DatasetResolver

	// Catalog serves dataset discovery. Optional.
	Catalog *handler.CatalogHandler
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "oceanfeed-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Checks:    cfg.Checks,
		Sources:   cfg.Sources,
	})
	stationsHandler := handler.NewStationsHandler(handler.StationsConfig{
		Sources:   cfg.Sources,
		Snapshots: cfg.Snapshots,
		Resolver:  cfg.Resolver,
		Logger:    cfg.Logger,
	})

	// Without a validator every scope check passes through.
	authenticate := passThrough
	requireRead := passThrough
	requireAdmin := passThrough
	if cfg.Tokens != nil {
		authenticate = middleware.Auth(cfg.Tokens)
		requireRead = middleware.RequireScope(auth.ScopeRead)
		requireAdmin = middleware.RequireScope(auth.ScopeAdmin)
	}

	dataRateLimit := middleware.RateLimitByClient(middleware.DataRateLimit)         // 30 req/min
	standardRateLimit := middleware.RateLimitByClient(middleware.StandardRateLimit) // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status exposes upstream state, so it requires authentication
			r.With(authenticate, requireRead).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/stations/{key}", func(r chi.Router) {
			r.Use(authenticate)

			// Schema and data may load a station from the sensor service
			r.Group(func(r chi.Router) {
				r.Use(requireRead, dataRateLimit)
				r.Get("/schema", stationsHandler.Schema)
				r.Get("/data", stationsHandler.Data)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRead, standardRateLimit)
				r.Get("/snapshot", stationsHandler.Snapshot)
				r.Get("/snapshots", stationsHandler.Snapshots)
			})

			r.With(requireAdmin, standardRateLimit).Delete("/cache", stationsHandler.EvictCache)
		})

		if cfg.Catalog != nil {
			r.Route("/catalog", func(r chi.Router) {
				r.Use(authenticate, requireRead, standardRateLimit)
				r.Get("/search", cfg.Catalog.Search)
			})
		}
	})

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}

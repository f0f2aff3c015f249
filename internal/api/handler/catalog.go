package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api/middleware"
	"github.com/oceanfeed/oceanfeed/internal/api/models"
	"github.com/oceanfeed/oceanfeed/internal/api/response"
	"github.com/oceanfeed/oceanfeed/internal/catalog"
)

const (
	defaultCatalogCacheSize = 32
	defaultCatalogTTL       = 10 * time.Minute
)

// catalogParams are the query parameters that select a catalog. Anything else in
// the query is ignored and does not affect caching.
var catalogParams = []string{
	"data_type", "out_type", "page_size",
	"min_lon", "max_lon", "min_lat", "max_lat",
	"min_time", "max_time",
	"keys_to_match", "parameter_group",
}

// CatalogConfig holds the dependencies of CatalogHandler.
type CatalogConfig struct {
	Backend   catalog.Backend
	SearchURL string
	Logger    zerolog.Logger

	// TTL keeps search results per query. Defaults to ten minutes.
	TTL time.Duration

	// CacheSize bounds the number of distinct queries kept.
	CacheSize int

	Metrics *middleware.CacheMetrics
}

// CatalogHandler serves dataset discovery.
type CatalogHandler struct {
	backend   catalog.Backend
	searchURL string
	logger    zerolog.Logger
	ttl       time.Duration
	metrics   *middleware.CacheMetrics

	mu       sync.Mutex
	catalogs *lru.Cache
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(cfg CatalogConfig) (*CatalogHandler, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCatalogCacheSize
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultCatalogTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create catalog cache: %w", err)
	}
	return &CatalogHandler{
		backend:   cfg.Backend,
		searchURL: cfg.SearchURL,
		logger:    cfg.Logger,
		ttl:       ttl,
		metrics:   cfg.Metrics,
		catalogs:  cache,
	}, nil
}

// Search handles GET /v1/catalog/search.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, fieldErrs := ParseSearchParams(q)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}

	cat, err := h.catalog(r, q, params)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entries, err := cat.Search(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pg, err := cat.ParameterGroup(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.CatalogSearch{
		ParameterGroup: pg,
		Count:          len(entries),
		Entries:        entries,
	})
}

// catalog returns the cached catalog for a query, creating it on a miss. Invalid
// params are rejected before anything is cached.
func (h *CatalogHandler) catalog(r *http.Request, q url.Values, params catalog.SearchParams) (*catalog.Catalog, error) {
	key := catalogKey(q)

	h.mu.Lock()
	defer h.mu.Unlock()

	if v, ok := h.catalogs.Get(key); ok {
		h.metrics.RecordHit(r.Context())
		return v.(*catalog.Catalog), nil
	}
	h.metrics.RecordMiss(r.Context())

	cat, err := catalog.New(catalog.Config{
		Backend:   h.backend,
		SearchURL: h.searchURL,
		Params:    params,
		Logger:    h.logger,
		TTL:       h.ttl,
	})
	if err != nil {
		return nil, err
	}
	if h.catalogs.Add(key, cat) {
		h.metrics.RecordEviction(r.Context(), 1)
	}
	return cat, nil
}

// catalogKey normalizes the selecting parameters of a query.
func catalogKey(q url.Values) string {
	keep := url.Values{}
	for _, name := range catalogParams {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			keep.Set(name, v)
		}
	}
	return keep.Encode()
}

// ParseSearchParams reads catalog search params from a query. parameter_group is
// accepted as an alias of keys_to_match.
func ParseSearchParams(q url.Values) (catalog.SearchParams, []models.FieldError) {
	var errs queryErrors
	p := catalog.SearchParams{
		DataType:    strings.TrimSpace(q.Get("data_type")),
		OutType:     strings.TrimSpace(q.Get("out_type")),
		PageSize:    parseIntParam(q, "page_size", 0, &errs),
		MinLon:      parseFloatParam(q, "min_lon", &errs),
		MaxLon:      parseFloatParam(q, "max_lon", &errs),
		MinLat:      parseFloatParam(q, "min_lat", &errs),
		MaxLat:      parseFloatParam(q, "max_lat", &errs),
		MinTime:     parseTimeParam(q, "min_time", &errs),
		MaxTime:     parseTimeParam(q, "max_time", &errs),
		KeysToMatch: strings.TrimSpace(q.Get("keys_to_match")),
	}
	if p.KeysToMatch == "" {
		p.KeysToMatch = strings.TrimSpace(q.Get("parameter_group"))
	}
	return p, errs
}

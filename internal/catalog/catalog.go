package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
)

// Backend is the remote search service.
type Backend interface {
	FetchSearch(ctx context.Context, searchURL string) ([]axds.SearchDoc, error)
	FetchParameterGroups(ctx context.Context) ([]axds.ParameterGroup, error)
}

// Entry describes one discovered dataset.
type Entry struct {
	DatasetID        string         `json:"datasetID"`
	Title            string         `json:"title"`
	Summary          string         `json:"summary"`
	Type             string         `json:"type"`
	MinTime          time.Time      `json:"minTime"`
	MaxTime          time.Time      `json:"maxTime"`
	Institution      string         `json:"institution"`
	GeospatialBounds string         `json:"geospatial_bounds"`
	Bounds           *sensor.Bounds `json:"bounds,omitempty"`
	Variables        []string       `json:"variables"`
	Description      string         `json:"description"`
	URLPath          string         `json:"urlpath,omitempty"`
	Driver           string         `json:"driver"`
}

// Config holds configuration for a catalog.
type Config struct {
	Backend   Backend
	SearchURL string
	Params    SearchParams
	Logger    zerolog.Logger

	// TTL keeps search results this long. Zero disables caching.
	TTL time.Duration
}

// Catalog lists the datasets matching one set of search params.
type Catalog struct {
	backend   Backend
	searchURL string
	params    SearchParams
	logger    zerolog.Logger
	ttl       time.Duration

	mu       sync.Mutex
	pgLabel  string
	resolved bool
	entries  []Entry
	loadedAt time.Time
}

// New validates the search params. It performs no network activity.
func New(cfg Config) (*Catalog, error) {
	if cfg.Backend == nil {
		return nil, errors.New("catalog requires a backend")
	}
	params := cfg.Params
	if err := params.Validate(); err != nil {
		return nil, err
	}
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = axds.DefaultSearchURL
	}
	return &Catalog{
		backend:   cfg.Backend,
		searchURL: searchURL,
		params:    params,
		logger:    cfg.Logger,
		ttl:       cfg.TTL,
	}, nil
}

// Params returns the validated search params.
func (c *Catalog) Params() SearchParams {
	return c.params
}

// Search returns the entries matching the catalog's params.
func (c *Catalog) Search(ctx context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries != nil && c.ttl > 0 && time.Since(c.loadedAt) < c.ttl {
		return c.entries, nil
	}

	if err := c.resolveParameterGroup(ctx); err != nil {
		return nil, err
	}

	u := SearchURL(c.searchURL, c.params, c.pgLabel)
	c.logger.Debug().Str("url", u).Msg("searching datasets")

	docs, err := c.backend.FetchSearch(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("search datasets: %w", err)
	}
	c.logger.Info().
		Int("results", len(docs)).
		Int("page_size", c.params.PageSize).
		Str("type", c.params.DataType).
		Msg("dataset search complete")

	entries := make([]Entry, 0, len(docs))
	for i := range docs {
		entry, err := c.entry(&docs[i])
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", docs[i].UUID, err)
		}
		entries = append(entries, entry)
	}

	c.entries = entries
	c.loadedAt = time.Now()
	return entries, nil
}

// ParameterGroup returns the parameter group label resolved from KeysToMatch.
func (c *Catalog) ParameterGroup(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.resolveParameterGroup(ctx); err != nil {
		return "", err
	}
	return c.pgLabel, nil
}

func (c *Catalog) resolveParameterGroup(ctx context.Context) error {
	if c.resolved || c.params.KeysToMatch == "" {
		return nil
	}
	groups, err := c.backend.FetchParameterGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetch parameter groups: %w", err)
	}
	matches := MatchParameterGroup(groups, c.params.KeysToMatch)
	if len(matches) == 0 {
		return fmt.Errorf("%w: %q", ErrNoParameterMatch, c.params.KeysToMatch)
	}
	if len(matches) > 1 {
		c.logger.Warn().
			Str("key", c.params.KeysToMatch).
			Strs("matches", matches).
			Msg("several parameter groups match, using the first")
	}
	c.pgLabel = matches[0]
	c.resolved = true
	return nil
}

func (c *Catalog) entry(doc *axds.SearchDoc) (Entry, error) {
	e := Entry{
		DatasetID:        doc.UUID,
		Title:            doc.Label,
		Summary:          doc.Description,
		Type:             doc.Type,
		Institution:      doc.Source.Meta.Attributes.Institution,
		GeospatialBounds: doc.Source.Meta.Attributes.GeospatialBounds,
		Variables:        doc.VariableNames(),
		Description:      fmt.Sprintf("AXDS dataset_id %s of datatype %s", doc.UUID, c.params.DataType),
	}

	var err error
	if doc.StartDateTime != "" {
		if e.MinTime, err = sensor.ParseTime(doc.StartDateTime); err != nil {
			return e, err
		}
	}
	if doc.EndDateTime != "" {
		if e.MaxTime, err = sensor.ParseTime(doc.EndDateTime); err != nil {
			return e, err
		}
	}
	if e.GeospatialBounds != "" {
		if e.Bounds, err = axds.ParseBounds(e.GeospatialBounds); err != nil {
			return e, err
		}
	}

	switch c.params.OutType {
	case OutTypeDataframe:
		e.URLPath = doc.FileURL("data.csv.gz")
		e.Driver = "csv"
	case OutTypeXarray:
		e.URLPath = doc.FileURL("deployment.nc")
		e.Driver = "netcdf"
	}
	return e, nil
}

// MatchParameterGroup returns the labels of the groups matching key, in listing order.
// Exact matches on label or parameter name come first, then substring matches.
// Underscores in key are treated as spaces.
func MatchParameterGroup(groups []axds.ParameterGroup, key string) []string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	}
	k := norm(key)
	if k == "" {
		return nil
	}

	var exact, partial []string
	for _, g := range groups {
		label, name := norm(g.Label), norm(g.ParameterName)
		switch {
		case label == k || name == k:
			exact = append(exact, g.Label)
		case strings.Contains(label, k) || strings.Contains(name, k):
			partial = append(partial, g.Label)
		}
	}
	return append(exact, partial...)
}

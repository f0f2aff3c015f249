package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/oceanfeed/oceanfeed/internal/api/middleware"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// DefaultSourceCacheSize is the number of station sources kept when no size is configured.
const DefaultSourceCacheSize = 64

// SourceFactory builds an unloaded source for a station reference and read options.
type SourceFactory func(ref StationRef, opts sensor.Options) (*sensor.Source, error)

// SourceCache keeps recently used station sources, keyed by station key and options.
// A cached source holds its assembled table, so repeated reads skip the remote fetch.
type SourceCache struct {
	mu      sync.Mutex
	cache   *lru.Cache
	factory SourceFactory
	metrics *middleware.CacheMetrics
}

// NewSourceCache creates a cache of at most size sources. A size <= 0 uses
// DefaultSourceCacheSize. Metrics are optional.
func NewSourceCache(size int, factory SourceFactory, metrics *middleware.CacheMetrics) (*SourceCache, error) {
	if size <= 0 {
		size = DefaultSourceCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	return &SourceCache{cache: cache, factory: factory, metrics: metrics}, nil
}

func cacheKey(ref StationRef, opts sensor.Options) string {
	return ref.Key + "|" + opts.Key()
}

// Get returns the cached source for ref and opts, building one on a miss. Options are
// validated and normalized before keying. The station is not loaded.
func (c *SourceCache) Get(ctx context.Context, ref StationRef, opts sensor.Options) (*sensor.Source, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	key := cacheKey(ref, opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache.Get(key); ok {
		c.metrics.RecordHit(ctx)
		return v.(*sensor.Source), nil
	}
	c.metrics.RecordMiss(ctx)

	src, err := c.factory(ref, opts)
	if err != nil {
		return nil, err
	}
	if c.cache.Add(key, src) {
		c.metrics.RecordEviction(ctx, 1)
	}
	return src, nil
}

// Invalidate drops and closes every cached source of a station key and returns how
// many were dropped. Internal-id and dataset-id keys of the same station are distinct.
func (c *SourceCache) Invalidate(ctx context.Context, stationKey string) int {
	prefix := stationKey + "|"

	c.mu.Lock()
	var dropped []*sensor.Source
	for _, k := range c.cache.Keys() {
		key, ok := k.(string)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if v, ok := c.cache.Peek(key); ok {
			dropped = append(dropped, v.(*sensor.Source))
		}
		c.cache.Remove(key)
	}
	c.mu.Unlock()

	// Close waits for an in-flight load, so it runs outside the cache lock.
	for _, src := range dropped {
		src.Close()
	}
	c.metrics.RecordEviction(ctx, len(dropped))
	return len(dropped)
}

// Len returns the number of cached sources.
func (c *SourceCache) Len() int {
	return c.cache.Len()
}

func formatCount(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

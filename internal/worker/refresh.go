package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/export"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

// SourceFactory builds a fresh, unloaded source for one target.
type SourceFactory func(target StationTarget, opts sensor.Options) (*sensor.Source, error)

// SnapshotStore persists refreshed tables.
type SnapshotStore interface {
	Capture(ctx context.Context, datasetID string, opts sensor.Options, table *sensor.Table) (*framestore.Snapshot, error)
}

// TableExporter uploads refreshed tables.
type TableExporter interface {
	Export(ctx context.Context, datasetID string, t *sensor.Table, f export.Format) (string, error)
}

// RefreshJob loads configured stations and persists their tables.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger

	newSource SourceFactory
	snapshots SnapshotStore
	exporter  TableExporter

	now func() time.Time

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRuns         int64
	StationsRefreshed int64
	StationsEmpty     int64
	StationsFailed    int64
	RowsCaptured      int64
	Exports           int64

	// Timings
	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config    RefreshConfig
	Logger    zerolog.Logger
	NewSource SourceFactory

	// Snapshots and Exporter are optional.
	Snapshots SnapshotStore
	Exporter  TableExporter

	// Now is the clock for lookback windows. Defaults to time.Now.
	Now func() time.Time
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	def := DefaultRefreshConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RefreshJob{
		config:    config,
		logger:    cfg.Logger,
		newSource: cfg.NewSource,
		snapshots: cfg.Snapshots,
		exporter:  cfg.Exporter,
		now:       now,
		metrics:   &RefreshMetrics{},
	}
}

// Config returns the job configuration.
func (j *RefreshJob) Config() RefreshConfig {
	return j.config
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Total      int
	Successful int
	Empty      int
	Failed     int
	Stations   []StationResult

	// Err aggregates the station failures, nil when none failed.
	Err error
}

// StationResult is the outcome of refreshing one station.
type StationResult struct {
	Station    string
	DatasetID  string
	Rows       int
	SnapshotID string
	Object     string

	// NoData is set when the station had nothing in its window. It is not a failure.
	NoData bool
	Err    error
}

// Run refreshes every configured station.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.RunStations(ctx, j.config.Stations)
}

// RunStations refreshes the given targets with bounded concurrency. Every target gets
// its own source, so different stations never share loaded state.
func (j *RefreshJob) RunStations(ctx context.Context, targets []StationTarget) *RefreshResult {
	startTime := time.Now()
	result := &RefreshResult{
		StartTime: startTime,
		Total:     len(targets),
	}

	j.logger.Info().
		Int("stations", len(targets)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting station refresh job")

	// Create work channels
	targetsChan := make(chan StationTarget, len(targets))
	resultsChan := make(chan StationResult, len(targets))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, targetsChan, resultsChan)
		}()
	}

	for _, t := range targets {
		targetsChan <- t
	}
	close(targetsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var errs *multierror.Error
	for sr := range resultsChan {
		switch {
		case sr.Err != nil:
			result.Failed++
			errs = multierror.Append(errs, fmt.Errorf("station %s: %w", sr.Station, sr.Err))
		case sr.NoData:
			result.Empty++
		default:
			result.Successful++
		}
		result.Stations = append(result.Stations, sr)
	}

	// Stations never started because the context ended count as failed.
	if missing := result.Total - len(result.Stations); missing > 0 {
		result.Failed += missing
		errs = multierror.Append(errs, fmt.Errorf("%d stations not refreshed: %w", missing, ctx.Err()))
	}
	result.Err = errs.ErrorOrNil()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("empty", result.Empty).
		Int("failed", result.Failed).
		Msg("station refresh job completed")

	return result
}

func (j *RefreshJob) refreshWorker(ctx context.Context, targets <-chan StationTarget, results chan<- StationResult) {
	for target := range targets {
		select {
		case <-ctx.Done():
			return
		default:
			results <- j.refreshStation(ctx, target)
		}
	}
}

func (j *RefreshJob) refreshStation(ctx context.Context, target StationTarget) StationResult {
	result := StationResult{Station: target.Label(), DatasetID: target.DatasetID}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	logger := j.logger.With().Str("station", target.Label()).Logger()

	opts, err := target.Options(j.now())
	if err != nil {
		result.Err = err
		return result
	}

	src, err := j.newSource(target, opts)
	if err != nil {
		result.Err = fmt.Errorf("create source: %w", err)
		return result
	}
	defer src.Close()

	table, err := src.Read(ctx)
	if errors.Is(err, sensor.ErrNoData) {
		logger.Warn().Msg("no data in refresh window")
		result.NoData = true
		return result
	}
	if err != nil {
		logger.Error().Err(err).Msg("station refresh failed")
		result.Err = err
		return result
	}

	if id, ok := src.Metadata()["dataset_id"].(string); ok {
		result.DatasetID = id
	}
	result.Rows = len(table.Rows)

	if j.snapshots != nil {
		snap, err := j.snapshots.Capture(ctx, result.DatasetID, opts, table)
		if err != nil {
			result.Err = fmt.Errorf("capture snapshot: %w", err)
			return result
		}
		result.SnapshotID = snap.ID.String()
	}

	if j.exporter != nil && j.config.Export {
		object, err := j.exporter.Export(ctx, result.DatasetID, table, export.FormatParquet)
		if err != nil {
			result.Err = fmt.Errorf("export table: %w", err)
			return result
		}
		result.Object = object
	}

	logger.Info().
		Str("dataset_id", result.DatasetID).
		Int("rows", result.Rows).
		Str("snapshot_id", result.SnapshotID).
		Str("object", result.Object).
		Msg("station refreshed")
	return result
}

// HealthCheck loads the schema of the first configured station to verify the sensor
// service is reachable. Nothing is persisted.
func (j *RefreshJob) HealthCheck(ctx context.Context) error {
	if len(j.config.Stations) == 0 {
		return ErrNoStations
	}
	target := j.config.Stations[0]

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	opts, err := target.Options(j.now())
	if err != nil {
		return err
	}
	src, err := j.newSource(target, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := src.Schema(ctx); err != nil && !errors.Is(err, sensor.ErrNoData) {
		return fmt.Errorf("health check %s: %w", target.Label(), err)
	}
	return nil
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.StationsRefreshed += int64(result.Successful)
	j.metrics.StationsEmpty += int64(result.Empty)
	j.metrics.StationsFailed += int64(result.Failed)
	for _, s := range result.Stations {
		j.metrics.RowsCaptured += int64(s.Rows)
		if s.Object != "" {
			j.metrics.Exports++
		}
	}
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:         j.metrics.TotalRuns,
		StationsRefreshed: j.metrics.StationsRefreshed,
		StationsEmpty:     j.metrics.StationsEmpty,
		StationsFailed:    j.metrics.StationsFailed,
		RowsCaptured:      j.metrics.RowsCaptured,
		Exports:           j.metrics.Exports,
		LastRunAt:         j.metrics.LastRunAt,
		LastRunDuration:   j.metrics.LastRunDuration,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	return map[string]any{
		"total_runs":         m.TotalRuns,
		"stations_refreshed": m.StationsRefreshed,
		"stations_empty":     m.StationsEmpty,
		"stations_failed":    m.StationsFailed,
		"rows_captured":      m.RowsCaptured,
		"exports":            m.Exports,
		"last_run_at":        m.LastRunAt,
		"last_run_duration":  m.LastRunDuration.String(),
		"total_duration":     m.TotalDuration.String(),
	}
}

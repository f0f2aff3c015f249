package sensor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanfeed/oceanfeed/internal/telemetry"
)

const tracerName = "github.com/oceanfeed/oceanfeed/internal/sensor"

// Fetcher is the remote sensor service as seen by a Source.
type Fetcher interface {
	// FetchDatasetID resolves a station's dataset id from its internal id.
	FetchDatasetID(ctx context.Context, internalID int) (string, error)

	// FetchStationMetadata returns the full metadata record of a station.
	FetchStationMetadata(ctx context.Context, datasetID string) (*StationMetadata, error)

	// FetchFeeds fetches the feed payload selected by a filter.
	FetchFeeds(ctx context.Context, req FeedRequest) (*FeedPayload, error)
}

// BinIntervals lists the accepted binning intervals.
var BinIntervals = []string{"hourly", "daily", "weekly", "monthly", "yearly"}

// State is the lifecycle state of a Source.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	default:
		return "unloaded"
	}
}

// Options are the user-facing read options of a station source.
type Options struct {
	Start       *time.Time
	End         *time.Time
	QC          QCMode
	UseUnits    bool
	Binned      bool
	BinInterval string
}

// DefaultOptions returns options with units in column names and no quality flags.
func DefaultOptions() Options {
	return Options{UseUnits: true}
}

// Validate checks the options and normalizes the bin interval.
func (o *Options) Validate() error {
	if o.BinInterval != "" {
		interval := strings.ToLower(o.BinInterval)
		valid := false
		for _, b := range BinIntervals {
			if interval == b {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: %q (want one of %s)", ErrInvalidBinInterval, o.BinInterval, strings.Join(BinIntervals, ", "))
		}
		o.BinInterval = interval
		o.Binned = true
	}
	if o.Start != nil && o.End != nil && o.Start.After(*o.End) {
		return ErrInvalidTimeRange
	}
	return nil
}

// Key returns a stable string form of the options, usable as a cache key.
func (o Options) Key() string {
	var b strings.Builder
	if o.Start != nil {
		b.WriteString(o.Start.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if o.End != nil {
		b.WriteString(o.End.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "|qc=%s|units=%t|binned=%t|bin=%s", o.QC, o.UseUnits, o.Binned, o.BinInterval)
	return b.String()
}

// SourceConfig holds configuration for a station source.
type SourceConfig struct {
	// Fetcher talks to the remote sensor service.
	Fetcher Fetcher

	// Logger for load operations.
	Logger zerolog.Logger

	// Metrics records load statistics. Optional.
	Metrics *telemetry.PipelineMetrics

	// InternalID and DatasetID identify the station; at least one is required.
	InternalID int
	DatasetID  string

	Options Options

	// Metadata is passed through to Schema and Metadata.
	Metadata map[string]any
}

// ColumnSchema describes one column of the assembled table.
type ColumnSchema struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Role  string `json:"role"`
}

// Schema describes the assembled table without its rows.
type Schema struct {
	Columns     []ColumnSchema `json:"columns"`
	Rows        int            `json:"rows"`
	Cols        int            `json:"cols"`
	NPartitions int            `json:"npartitions"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Source assembles one station's feeds into a single table, loaded on first use.
type Source struct {
	fetcher Fetcher
	logger  zerolog.Logger
	metrics *telemetry.PipelineMetrics
	tracer  trace.Tracer
	opts    Options

	mu         sync.Mutex
	internalID int
	datasetID  string
	metadata   map[string]any
	station    *StationMetadata
	frame      *Table
	state      State
}

// NewSource validates the configuration. It performs no network activity.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.InternalID == 0 && cfg.DatasetID == "" {
		return nil, ErrMissingIdentifier
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("sensor source requires a fetcher")
	}
	opts := cfg.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	md := make(map[string]any, len(cfg.Metadata)+1)
	maps.Copy(md, cfg.Metadata)

	return &Source{
		fetcher:    cfg.Fetcher,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer(tracerName),
		opts:       opts,
		internalID: cfg.InternalID,
		datasetID:  cfg.DatasetID,
		metadata:   md,
	}, nil
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Options returns the validated read options.
func (s *Source) Options() Options {
	return s.opts
}

// Schema returns the shape and dtypes of the assembled table, loading it if needed.
func (s *Source) Schema(ctx context.Context) (*Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	rows, cols := s.frame.Shape()
	return &Schema{
		Columns:     s.frame.DTypes(),
		Rows:        rows,
		Cols:        cols,
		NPartitions: 1,
		Metadata:    s.metadataLocked(),
	}, nil
}

// Read returns the assembled table, loading it if needed. The single partition is
// always produced whole; the table is shared and must not be modified.
func (s *Source) Read(ctx context.Context) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.frame, nil
}

// Metadata returns pass-through metadata plus what is known about the station.
func (s *Source) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked()
}

// Close drops the assembled table. A later Schema or Read reloads from scratch.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
	s.station = nil
	s.state = StateClosed
}

func (s *Source) metadataLocked() map[string]any {
	md := maps.Clone(s.metadata)
	if s.datasetID != "" {
		md["dataset_id"] = s.datasetID
	}
	if s.internalID != 0 {
		md["internal_id"] = s.internalID
	}
	if st := s.station; st != nil {
		md["title"] = st.Title
		md["summary"] = st.Summary
		md["institution"] = st.Institution
		md["version"] = st.Version
		md["minTime"] = st.MinTime
		md["maxTime"] = st.MaxTime
		names := make([]string, 0, st.Variables.Len())
		for _, v := range st.Variables.Variables() {
			names = append(names, v.Name)
		}
		md["variables"] = names
	}
	return md
}

func (s *Source) ensureLoaded(ctx context.Context) error {
	if s.state == StateLoaded && s.frame != nil {
		return nil
	}

	frame, station, err := s.load(ctx)
	if err != nil {
		s.frame = nil
		s.station = nil
		s.state = StateUnloaded
		return err
	}

	s.frame = frame
	s.station = station
	s.state = StateLoaded
	return nil
}

// load rebuilds the assembled table from the remote service.
func (s *Source) load(ctx context.Context) (_ *Table, _ *StationMetadata, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "sensor.load")
	defer span.End()

	feeds := 0
	var frame *Table
	defer func() {
		rows := 0
		if frame != nil {
			rows = len(frame.Rows)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if s.metrics != nil {
			s.metrics.RecordLoad(ctx, time.Since(start), feeds, rows, err)
		}
	}()

	station, err := s.resolveIdentifiers(ctx)
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.Int("sensor.internal_id", s.internalID),
		attribute.String("sensor.dataset_id", s.datasetID),
	)

	logger := s.logger.With().
		Int("internal_id", s.internalID).
		Str("dataset_id", s.datasetID).
		Logger()

	if station == nil {
		if station, err = s.fetcher.FetchStationMetadata(ctx, s.datasetID); err != nil {
			return nil, nil, fmt.Errorf("fetch station metadata: %w", err)
		}
	}

	startTime, endTime := station.MinTime, station.MaxTime
	if s.opts.Start != nil {
		startTime = *s.opts.Start
	}
	if s.opts.End != nil {
		endTime = *s.opts.End
	}

	filters := BuildFilters(s.internalID, station)
	logger.Info().
		Int("filters", len(filters)).
		Int("version", station.Version).
		Time("start", startTime).
		Time("end", endTime).
		Msg("loading sensor station")

	parseOpts := ParseOptions{UseUnits: s.opts.UseUnits, Binned: s.opts.Binned, QC: s.opts.QC}
	tables := make([]*Table, 0, len(filters))
	for _, f := range filters {
		t, n, err := s.loadFilter(ctx, f, station, parseOpts, startTime, endTime)
		feeds += n
		if errors.Is(err, ErrNoData) {
			logger.Warn().Str("filter", f.String()).Msg("no data for filter")
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", f, err)
		}
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		return nil, nil, fmt.Errorf("%w %s", ErrNoData, s.datasetID)
	}

	frame, err = Merge(tables...)
	if err != nil {
		return nil, nil, err
	}

	rows, cols := frame.Shape()
	logger.Info().
		Int("rows", rows).
		Int("cols", cols).
		Dur("duration", time.Since(start)).
		Msg("sensor station loaded")

	return frame, station, nil
}

func (s *Source) loadFilter(ctx context.Context, f Filter, station *StationMetadata, opts ParseOptions, start, end time.Time) (*Table, int, error) {
	ctx, span := s.tracer.Start(ctx, "sensor.fetch_filter",
		trace.WithAttributes(attribute.String("sensor.filter", f.String())),
	)
	defer span.End()

	s.logger.Debug().Str("filter", f.String()).Msg("fetching feeds")

	payload, err := s.fetcher.FetchFeeds(ctx, FeedRequest{
		Filter:      f,
		Start:       start,
		End:         end,
		Binned:      s.opts.Binned,
		BinInterval: s.opts.BinInterval,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch feeds: %w", err)
	}

	n := len(payload.Feeds())
	span.SetAttributes(attribute.Int("sensor.feeds", n))

	t, err := ParsePayload(payload, station.Variables, opts)
	return t, n, err
}

// resolveIdentifiers fills in the missing station id. The metadata record is returned
// when it had to be fetched for that.
func (s *Source) resolveIdentifiers(ctx context.Context) (*StationMetadata, error) {
	switch {
	case s.datasetID == "":
		id, err := s.fetcher.FetchDatasetID(ctx, s.internalID)
		if err != nil {
			return nil, fmt.Errorf("resolve dataset id: %w", err)
		}
		s.datasetID = id
	case s.internalID == 0:
		station, err := s.fetcher.FetchStationMetadata(ctx, s.datasetID)
		if err != nil {
			return nil, fmt.Errorf("resolve internal id: %w", err)
		}
		s.internalID = station.InternalID
		return station, nil
	}
	return nil, nil
}

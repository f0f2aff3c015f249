package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/oceanfeed/oceanfeed/internal/api/models"
	"github.com/oceanfeed/oceanfeed/internal/api/response"
	"github.com/oceanfeed/oceanfeed/internal/export"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
)

// SnapshotStore reads persisted station tables.
type SnapshotStore interface {
	Latest(ctx context.Context, datasetID string, opts sensor.Options) (*framestore.Snapshot, error)
	List(ctx context.Context, datasetID string, limit int) ([]*framestore.Snapshot, error)
}

// DatasetResolver resolves a station's dataset id from its internal id.
type DatasetResolver interface {
	FetchDatasetID(ctx context.Context, internalID int) (string, error)
}

// StationsConfig holds the dependencies of StationsHandler.
type StationsConfig struct {
	Sources *SourceCache

	// Snapshots and Resolver serve the snapshot routes. Both are optional; without a
	// store the snapshot routes answer 503.
	Snapshots SnapshotStore
	Resolver  DatasetResolver

	Logger zerolog.Logger
}

// StationsHandler serves station schemas, data and snapshots.
type StationsHandler struct {
	sources   *SourceCache
	snapshots SnapshotStore
	resolver  DatasetResolver
	logger    zerolog.Logger
}

// NewStationsHandler creates a new stations handler.
func NewStationsHandler(cfg StationsConfig) *StationsHandler {
	return &StationsHandler{
		sources:   cfg.Sources,
		snapshots: cfg.Snapshots,
		resolver:  cfg.Resolver,
		logger:    cfg.Logger,
	}
}

// Schema handles GET /v1/stations/{key}/schema.
func (h *StationsHandler) Schema(w http.ResponseWriter, r *http.Request) {
	ref, src, ok := h.source(w, r)
	if !ok {
		return
	}

	schema, err := src.Schema(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.StationSchema{Station: ref.Key, Schema: schema})
}

// Data handles GET /v1/stations/{key}/data.
func (h *StationsHandler) Data(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
			{Field: "format", Message: err.Error(), Code: "INVALID_FORMAT"},
		})
		return
	}

	ref, src, ok := h.source(w, r)
	if !ok {
		return
	}

	table, err := src.Read(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, table, format); err != nil {
		h.logger.Error().Err(err).Str("station", ref.Key).Str("format", string(format)).Msg("failed to encode station table")
		response.InternalError(w, r, "failed to encode station table")
		return
	}

	filename := ""
	if format != export.FormatJSON {
		filename = ref.Key + "." + format.Extension()
	}
	response.Bytes(w, r, format.ContentType(), filename, buf.Bytes())
}

// EvictCache handles DELETE /v1/stations/{key}/cache.
func (h *StationsHandler) EvictCache(w http.ResponseWriter, r *http.Request) {
	ref := ParseStationRef(chi.URLParam(r, "key"))
	n := h.sources.Invalidate(r.Context(), ref.Key)

	h.logger.Info().Str("station", ref.Key).Int("evicted", n).Msg("station cache evicted")
	response.JSON(w, r, http.StatusOK, models.CacheEviction{Station: ref.Key, Evicted: n})
}

// Snapshot handles GET /v1/stations/{key}/snapshot.
func (h *StationsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		response.ServiceUnavailable(w, r, "snapshot store is not configured")
		return
	}

	opts, fieldErrs := ParseSourceOptions(r.URL.Query())
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return
	}
	if err := opts.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	datasetID, err := h.datasetID(r.Context(), ParseStationRef(chi.URLParam(r, "key")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	snap, err := h.snapshots.Latest(r.Context(), datasetID, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.Snapshot{
		SnapshotSummary: snapshotSummary(snap),
		Table:           snap.Table,
	})
}

// Snapshots handles GET /v1/stations/{key}/snapshots.
func (h *StationsHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		response.ServiceUnavailable(w, r, "snapshot store is not configured")
		return
	}

	var errs queryErrors
	limit := parseIntParam(r.URL.Query(), "limit", defaultSnapshotLimit, &errs)
	if len(errs) == 0 && (limit < 1 || limit > maxSnapshotLimit) {
		errs.add("limit", "OUT_OF_RANGE", errors.New("limit must be between 1 and 100"))
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", errs)
		return
	}

	datasetID, err := h.datasetID(r.Context(), ParseStationRef(chi.URLParam(r, "key")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	snaps, err := h.snapshots.List(r.Context(), datasetID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := make([]models.SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		items = append(items, snapshotSummary(s))
	}
	response.JSON(w, r, http.StatusOK, models.SnapshotList{Items: items})
}

// source parses the station key and read options and returns the cached source.
// On failure the problem has already been written.
func (h *StationsHandler) source(w http.ResponseWriter, r *http.Request) (StationRef, *sensor.Source, bool) {
	ref := ParseStationRef(chi.URLParam(r, "key"))

	opts, fieldErrs := ParseSourceOptions(r.URL.Query())
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid query parameters", fieldErrs)
		return ref, nil, false
	}
	if err := opts.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return ref, nil, false
	}

	src, err := h.sources.Get(r.Context(), ref, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return ref, nil, false
	}
	return ref, src, true
}

func (h *StationsHandler) datasetID(ctx context.Context, ref StationRef) (string, error) {
	if ref.DatasetID != "" {
		return ref.DatasetID, nil
	}
	if h.resolver == nil {
		return "", sensor.ErrMissingIdentifier
	}
	return h.resolver.FetchDatasetID(ctx, ref.InternalID)
}

func snapshotSummary(s *framestore.Snapshot) models.SnapshotSummary {
	return models.SnapshotSummary{
		ID:         s.ID.String(),
		DatasetID:  s.DatasetID,
		OptionsKey: s.OptionsKey,
		Rows:       s.Rows,
		Cols:       s.Cols,
		CreatedAt:  models.Timestamp(s.CreatedAt),
	}
}

package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/oceanfeed/oceanfeed/internal/api/handler"
	"github.com/oceanfeed/oceanfeed/internal/api/models"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
)

const stationFeed = `{
	"data": {
		"groupedFeeds": [{
			"metadata": {
				"time": {"index": 0, "label": "time"},
				"values": [{"index": 1, "deviceId": 1, "units": "degC"}],
				"qcAgg": [{"index": 2, "deviceId": 1}]
			},
			"data": [
				["2024-01-01T00:00:00Z", 10.5, 1],
				["2024-01-01T01:00:00Z", 11.0, 4]
			]
		}]
	}
}`

// fakeFetcher serves one current-schema station: internal id 42, dataset station-uuid.
type fakeFetcher struct {
	mu       sync.Mutex
	payload  *sensor.FeedPayload
	feedErr  error
	requests int
}

func newFakeFetcher(t *testing.T) *fakeFetcher {
	t.Helper()
	var payload sensor.FeedPayload
	require.NoError(t, json.Unmarshal([]byte(stationFeed), &payload))
	return &fakeFetcher{payload: &payload}
}

func (f *fakeFetcher) station() *sensor.StationMetadata {
	return &sensor.StationMetadata{
		InternalID: 42,
		DatasetID:  "station-uuid",
		Title:      "Harbor Buoy",
		Version:    2,
		MinTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxTime:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Variables: sensor.NewVariableMetadata([]sensor.Variable{
			{Name: "temp", DeviceID: 1, ParameterGroupID: 10},
		}),
	}
}

func (f *fakeFetcher) FetchDatasetID(_ context.Context, internalID int) (string, error) {
	if internalID != 42 {
		return "", axds.ErrStationNotFound
	}
	return "station-uuid", nil
}

func (f *fakeFetcher) FetchStationMetadata(_ context.Context, datasetID string) (*sensor.StationMetadata, error) {
	if datasetID != "station-uuid" {
		return nil, axds.ErrStationNotFound
	}
	return f.station(), nil
}

func (f *fakeFetcher) FetchFeeds(context.Context, sensor.FeedRequest) (*sensor.FeedPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	return f.payload, nil
}

func (f *fakeFetcher) feedRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

var errUpstream = errors.New("connection reset by peer")

func newTestSources(t *testing.T, f sensor.Fetcher) *handler.SourceCache {
	t.Helper()
	cache, err := handler.NewSourceCache(8, func(ref handler.StationRef, opts sensor.Options) (*sensor.Source, error) {
		return sensor.NewSource(sensor.SourceConfig{
			Fetcher:    f,
			Logger:     zerolog.Nop(),
			InternalID: ref.InternalID,
			DatasetID:  ref.DatasetID,
			Options:    opts,
		})
	}, nil)
	require.NoError(t, err)
	return cache
}

func stationsRouter(h *handler.StationsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/stations/{key}/schema", h.Schema)
	r.Get("/v1/stations/{key}/data", h.Data)
	r.Delete("/v1/stations/{key}/cache", h.EvictCache)
	r.Get("/v1/stations/{key}/snapshot", h.Snapshot)
	r.Get("/v1/stations/{key}/snapshots", h.Snapshots)
	return r
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

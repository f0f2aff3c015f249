package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfeed/oceanfeed/internal/api"
	"github.com/oceanfeed/oceanfeed/internal/api/handler"
	"github.com/oceanfeed/oceanfeed/internal/api/models"
	"github.com/oceanfeed/oceanfeed/internal/auth"
	"github.com/oceanfeed/oceanfeed/internal/framestore"
	"github.com/oceanfeed/oceanfeed/internal/sensor"
	"github.com/oceanfeed/oceanfeed/internal/sensor/axds"
)

const buoyFeed = `{"data": {"groupedFeeds": [{
	"metadata": {
		"time": {"index": 0, "label": "time"},
		"values": [{"index": 1, "deviceId": 1, "units": "degC"}]
	},
	"data": [["2024-01-01T00:00:00Z", 10.5]]
}]}}`

// stubFetcher serves station 42, dataset buoy-1, with a single temperature feed.
type stubFetcher struct {
	payload sensor.FeedPayload
}

func (s *stubFetcher) FetchDatasetID(_ context.Context, internalID int) (string, error) {
	if internalID != 42 {
		return "", axds.ErrStationNotFound
	}
	return "buoy-1", nil
}

func (s *stubFetcher) FetchStationMetadata(_ context.Context, datasetID string) (*sensor.StationMetadata, error) {
	if datasetID != "buoy-1" {
		return nil, axds.ErrStationNotFound
	}
	return &sensor.StationMetadata{
		InternalID: 42,
		DatasetID:  "buoy-1",
		Version:    2,
		MinTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxTime:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Variables:  sensor.NewVariableMetadata([]sensor.Variable{{Name: "temp", DeviceID: 1}}),
	}, nil
}

func (s *stubFetcher) FetchFeeds(context.Context, sensor.FeedRequest) (*sensor.FeedPayload, error) {
	return &s.payload, nil
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	svc, err := auth.NewTokenService(auth.Config{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.oceanfeed.io",
		Audience:   "oceanfeed-api",
	})
	require.NoError(t, err)
	return svc
}

func newTestRouter(t *testing.T, tokens *auth.TokenService) http.Handler {
	t.Helper()

	fetcher := &stubFetcher{}
	require.NoError(t, json.Unmarshal([]byte(buoyFeed), &fetcher.payload))

	sources, err := handler.NewSourceCache(4, func(ref handler.StationRef, opts sensor.Options) (*sensor.Source, error) {
		return sensor.NewSource(sensor.SourceConfig{
			Fetcher:    fetcher,
			Logger:     zerolog.Nop(),
			InternalID: ref.InternalID,
			DatasetID:  ref.DatasetID,
			Options:    opts,
		})
	}, nil)
	require.NoError(t, err)

	cfg := api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Sources:   sources,
		Resolver:  fetcher,
		Snapshots: framestore.NewService(framestore.ServiceConfig{
			Repository: framestore.NewInMemoryRepository(),
			Logger:     zerolog.Nop(),
		}),
	}
	if tokens != nil {
		cfg.Tokens = tokens
	}
	return api.NewRouter(cfg)
}

func do(router http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/ops/ready", "")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_StationRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/stations/42/schema", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))

	var schema models.StationSchema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &schema))
	assert.Equal(t, 1, schema.Rows)

	w = do(router, http.MethodGet, "/v1/stations/42/data?format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "time,temp [degC]\n2024-01-01T00:00:00Z,10.5\n", w.Body.String())

	w = do(router, http.MethodDelete, "/v1/stations/42/cache", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/v1/stations/buoy-1/snapshot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CatalogNotMounted(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/catalog/search", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_Scopes(t *testing.T) {
	tokens := newTestTokens(t)
	router := newTestRouter(t, tokens)

	reader, _, err := tokens.Issue("client_reader", auth.ScopeRead)
	require.NoError(t, err)
	admin, _, err := tokens.Issue("client_admin", auth.ScopeAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{"health is public", http.MethodGet, "/v1/ops/health", "", http.StatusOK},
		{"status needs a token", http.MethodGet, "/v1/ops/status", "", http.StatusUnauthorized},
		{"status with read scope", http.MethodGet, "/v1/ops/status", reader, http.StatusOK},
		{"schema needs a token", http.MethodGet, "/v1/stations/42/schema", "", http.StatusUnauthorized},
		{"schema with read scope", http.MethodGet, "/v1/stations/42/schema", reader, http.StatusOK},
		{"schema with admin scope", http.MethodGet, "/v1/stations/42/schema", admin, http.StatusOK},
		{"evict with read scope", http.MethodDelete, "/v1/stations/42/cache", reader, http.StatusForbidden},
		{"evict with admin scope", http.MethodDelete, "/v1/stations/42/cache", admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.target, tt.token)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRouter_RequestID_Generated(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/ops/health", "")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/v1/nonexistent", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

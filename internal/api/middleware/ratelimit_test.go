package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanfeed/oceanfeed/internal/api/middleware"
)

func serveFrom(handler http.Handler, remoteAddr, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/stations/1/data", http.NoBody)
	req.RemoteAddr = remoteAddr
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute}
	handler := middleware.RequestID(middleware.RateLimitByIP(cfg)(okHandler()))

	ip1, ip2 := "172.16.0.1:12345", "172.16.0.2:12345"
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, ip1, "").Code, "request %d", i+1)
	}

	rec := serveFrom(handler, ip1, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "too-many-requests")
	assert.Contains(t, rec.Body.String(), "/v1/stations/1/data")

	assert.Equal(t, http.StatusOK, serveFrom(handler, ip2, "").Code)
}

func TestRateLimitByClient_KeysOnSubject(t *testing.T) {
	tokens := newTestTokens(t)
	cfg := middleware.RateLimitConfig{RequestLimit: 2, WindowLength: 30 * time.Second}
	handler := middleware.Auth(tokens)(middleware.RateLimitByClient(cfg)(okHandler()))

	pipeline := "Bearer " + issueToken(t, tokens, "pipeline")
	dashboard := "Bearer " + issueToken(t, tokens, "dashboard")

	// One client spread over two addresses shares a budget.
	assert.Equal(t, http.StatusOK, serveFrom(handler, "10.0.0.1:1", pipeline).Code)
	assert.Equal(t, http.StatusOK, serveFrom(handler, "10.0.0.2:1", pipeline).Code)
	rec := serveFrom(handler, "10.0.0.3:1", pipeline)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// Another client on the same address is unaffected.
	assert.Equal(t, http.StatusOK, serveFrom(handler, "10.0.0.1:1", dashboard).Code)
}

func TestRateLimitByClient_FallsBackToIP(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	handler := middleware.RateLimitByClient(cfg)(okHandler())

	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "192.168.1.1:1", "").Code)
	assert.Equal(t, http.StatusOK, serveFrom(handler, "192.168.1.2:1", "").Code)
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.DataRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.DataRateLimit.WindowLength)
	assert.Equal(t, 100, middleware.StandardRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.StandardRateLimit.WindowLength)
}

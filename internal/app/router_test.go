package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "icstore/internal/jwt_token"
	platformmetrics "icstore/internal/platform/metrics"
)

func newTestServer(t *testing.T) (http.Handler, *jwttoken.Service) {
	t.Helper()
	reg := prometheus.NewRegistry()
	a, err := New(context.Background(), testConfig(t, "memory"), testLogger(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	tokens := jwttoken.New("test-key")
	return a.Router(tokens, reg, platformmetrics.NewWith(reg)), tokens
}

func TestRouterHealthAndMetricsAreOpen(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "icstore_http_requests_total")
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router, jwt := newTestServer(t)
	body := `{"entity_type":"person","entities":[{"kind":"name_entry","entity":{"original":"Twain, Mark"}}]}`

	req := httptest.NewRequest(http.MethodPost, "/constellations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.Issue("alice", false, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/constellations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterRejectsNonJSONBodies(t *testing.T) {
	router, jwt := newTestServer(t)
	token, err := jwt.Issue("alice", false, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/constellations", strings.NewReader("entity_type=person"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

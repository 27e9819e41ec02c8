package adminhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/metrics"
)

func TestServer_HealthzReturnsOK(t *testing.T) {
	e, err := engine.Open(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	s := New("127.0.0.1:0", e, metrics.NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_MetricsEndpointExposesEngineGauges(t *testing.T) {
	e, err := engine.Open(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Put([]byte("k"), []byte("v")))

	s := New("127.0.0.1:0", e, metrics.NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kvengine_total_keys 1")
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benengr/bbb-programmer/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Greeting, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	require.Equal(t, http.StatusOK, s.upload(t, "m.zip", testutil.ZipBytes(t, map[string]string{"m": "m"})).Code)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `firmware_uploads_total{outcome="extracted"} 1`)
}

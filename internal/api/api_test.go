package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loomgen/internal/api"
	"github.com/loomworks/loomgen/internal/scheduler"
)

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	router := api.NewRouter(func() scheduler.Snapshot { return scheduler.Snapshot{} })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestRunEndpointReportsSnapshot(t *testing.T) {
	t.Parallel()

	want := scheduler.Snapshot{
		RunID:     "9f2c1c54-1b0a-4f7e-8f55-1df0f6f7a001",
		Total:     40,
		Succeeded: 25,
		Failed:    3,
		Skipped:   10,
		Done:      false,
	}
	router := api.NewRouter(func() scheduler.Snapshot { return want })

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, want, got)
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	t.Parallel()

	router := api.NewRouter(func() scheduler.Snapshot { return scheduler.Snapshot{} })

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

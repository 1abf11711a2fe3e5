// Package api exposes a small HTTP surface for observing a running batch.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/loomworks/loomgen/internal/scheduler"
)

// SnapshotFunc returns the current run's progress counters.
type SnapshotFunc func() scheduler.Snapshot

// HealthResponse is the body returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewRouter builds the status router. The snapshot function is called on
// every request to /run, so it must be safe for concurrent use.
func NewRouter(snapshot SnapshotFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Get("/run", handleRun(snapshot))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleRun(snapshot SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondWithJSON(w, r, http.StatusOK, snapshot())
	}
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err, "path", r.URL.Path)
	}
}

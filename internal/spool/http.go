package spool

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type appendRequest struct {
	Samples []Sample `json:"samples"`
}

type appendResponse struct {
	Accepted int64 `json:"accepted"`
}

type statusResponse struct {
	BytesOnDisk         int64 `json:"bytes_on_disk"`
	OldestUnackedOffset int64 `json:"oldest_unacked_offset"`
	NewestOffset        int64 `json:"newest_offset"`
	Segments            int   `json:"segments"`
}

// Router builds the chi router producers append samples through and
// operators poll status from.
func Router(store *Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := store.Status()
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			BytesOnDisk:         status.BytesOnDisk,
			OldestUnackedOffset: status.OldestUnackedOffset,
			NewestOffset:        status.NewestOffset,
			Segments:            status.Segments,
		})
	})

	r.Post("/v1/samples", func(w http.ResponseWriter, r *http.Request) {
		var req appendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		accepted, err := store.Append(req.Samples)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, appendResponse{Accepted: accepted})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

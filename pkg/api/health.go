package api

import (
	"net/http"
	"time"

	"github.com/truthtag/truthtag/pkg/ledger"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	LedgerMode ledger.Mode `json:"ledgerMode"`
}

// Health reports liveness and the ledger mode chosen at startup.
func Health(mode ledger.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:     "healthy",
			Timestamp:  time.Now().UTC(),
			LedgerMode: mode,
		})
	}
}

// Ping answers POST /ping.
func Ping(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func writeHealth(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    body,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "healthy")
}

// ReadyCheck reports ready once gnatsd has been staged.
func ReadyCheck(staged func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if staged != nil && !staged() {
			writeHealth(w, http.StatusServiceUnavailable, "not staged")
			return
		}
		writeHealth(w, http.StatusOK, "ready")
	}
}

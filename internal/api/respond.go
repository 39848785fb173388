package api

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/floatbase/internal/monitoring"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("[api] failed to encode json response: %v", err)
	}
}

func writeJSONOK(w http.ResponseWriter, data interface{}) { writeJSON(w, http.StatusOK, data) }

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func badRequest(w http.ResponseWriter, msg string) { writeJSONError(w, http.StatusBadRequest, msg) }

func notFound(w http.ResponseWriter, msg string) { writeJSONError(w, http.StatusNotFound, msg) }

package handler

import (
	"encoding/json"
	"net/http"

	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code and writes {"error": msg}.
// Server side failures are logged, client mistakes are not.
func writeError(w http.ResponseWriter, logger *logger.Logger, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

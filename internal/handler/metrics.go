package handler

import (
	"net/http"

	"crowdcounter/internal/service"
)

// MetricsHandler handles GET /api/metrics.
func MetricsHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Metrics().Snapshot())
	}
}

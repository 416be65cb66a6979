package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/service"
)

// AnalysesHandler handles GET /api/analyses: the session user's history with
// pagination and optional kind and date filters.
func AnalysesHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		q := r.URL.Query()
		user, _ := middleware.UserFromContext(r.Context())

		filters := dto.AnalysisFilters{
			User:       user,
			Kind:       strings.ToLower(q.Get("kind")),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      atoiDefault(q.Get("limit"), 20),
		}
		if !filters.DateBefore.IsZero() {
			filters.DateBefore = filters.DateBefore.Add(24*time.Hour - time.Nanosecond)
		}

		data, err := manager.ListAnalyses(filters, atoiDefault(q.Get("page"), 1))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// DeleteAnalysisHandler handles DELETE /api/analyses/delete?id= for records
// owned by the session user.
func DeleteAnalysisHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, logger, errs.Validation("id required"))
			return
		}
		user, _ := middleware.UserFromContext(r.Context())

		if err := manager.DeleteAnalysis(id, user); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "id": id})
	}
}

// AnalysisDetectionsHandler handles GET /api/analyses/detections?id= and
// returns the boxes behind a stored count.
func AnalysisDetectionsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, logger, errs.Validation("id required"))
			return
		}
		user, _ := middleware.UserFromContext(r.Context())

		detections, err := manager.AnalysisDetections(id, user)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "detections": detections})
	}
}

// ResultHandler serves GET /results/{name} from the results directory.
func ResultHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/results/")
		path, err := manager.Store().Open(name)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ActivityHandler handles activity log endpoints
type ActivityHandler struct {
	svc     *services.ActivityLogService
	reports services.ReportRepository
	logger  *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(svc *services.ActivityLogService, rs services.ReportRepository, logger *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{svc: svc, reports: rs, logger: logger}
}

// ByReport handles GET /api/reports/{id}/activity
func (h *ActivityHandler) ByReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.reports.Get(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err, "fetch activity")
		return
	}

	logs := h.svc.FetchByReport(r.Context(), id, limitParam(r, 50))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"activity": logs,
	})
}

// Recent handles GET /api/activity/recent
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	logs := h.svc.FetchRecent(r.Context(), limitParam(r, 100))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"activity": logs,
	})
}

// limitParam reads ?limit=, clamped to [1, fallback].
func limitParam(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > fallback {
		return fallback
	}
	return n
}

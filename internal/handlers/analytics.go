package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/services"
	"go.uber.org/zap"
)

const maxTrendDays = 90

// AnalyticsHandler serves aggregate report statistics
type AnalyticsHandler struct {
	reports services.ReportRepository
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(rs services.ReportRepository, logger *zap.SugaredLogger) *AnalyticsHandler {
	return &AnalyticsHandler{reports: rs, now: time.Now, logger: logger}
}

// Summary handles GET /api/analytics/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	all, err := h.reports.All(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "summary")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": services.Summarize(all, h.now()),
	})
}

// Categories handles GET /api/analytics/categories
func (h *AnalyticsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	all, err := h.reports.All(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "categories")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"categories": services.CategoryDistribution(all),
	})
}

// Trends handles GET /api/analytics/trends?days=N
func (h *AnalyticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTrendDays {
			respondError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	all, err := h.reports.All(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "trends")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trends":  services.Trends(all, days, h.now()),
	})
}

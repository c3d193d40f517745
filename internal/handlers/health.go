package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
	"go.uber.org/zap"
)

var startTime = time.Now()

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints
type HealthHandler struct {
	state   Pinger
	version string
	logger  *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(state Pinger, version string, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{state: state, version: version, logger: logger}
}

// Check handles GET /api/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "OK",
		Message: "Civic Pulse API is running",
		Version: h.version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
	})
}

// Ready handles GET /api/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.state.Ping(ctx); err != nil {
		h.logger.Warnw("State backend unreachable", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:  "not ready",
			Version: h.version,
			State:   "disconnected",
		})
		return
	}

	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ready",
		Version: h.version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		State:   "connected",
	})
}

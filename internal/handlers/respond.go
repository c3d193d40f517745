// Package handlers contains HTTP request handlers for the Civic Pulse API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/services"
	"go.uber.org/zap"
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// respondServiceError maps service sentinels to status codes. Anything
// unrecognised is logged and reported as a 500 without detail.
func respondServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, action string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, "Report not found")
	case errors.Is(err, services.ErrInvalidCode):
		respondError(w, http.StatusBadRequest, "Invalid OTP")
	case errors.Is(err, services.ErrValidationFailed), errors.Is(err, services.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, "Upload too large")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Infow("Request abandoned", "action", action, "error", err)
		respondError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		logger.Errorw("Request failed", "action", action, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// simulateLatency waits d, returning early with the context error if the
// request goes away first.
func simulateLatency(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

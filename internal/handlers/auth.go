package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/middleware"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"go.uber.org/zap"
)

// AuthHandler handles the one-time-code login endpoints
type AuthHandler struct {
	sessions *services.SessionService
	latency  time.Duration
	logger   *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(ss *services.SessionService, latency time.Duration, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{sessions: ss, latency: latency, logger: logger}
}

type challengeRequest struct {
	PhoneOrEmail string `json:"phoneOrEmail"`
	OTP          string `json:"otp"`
}

// SendOTP handles POST /api/auth/send-otp
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := simulateLatency(r.Context(), h.latency); err != nil {
		respondServiceError(w, h.logger, err, "send otp")
		return
	}
	if err := h.sessions.RequestChallenge(r.Context(), req.PhoneOrEmail); err != nil {
		respondServiceError(w, h.logger, err, "send otp")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "OTP sent successfully",
	})
}

// VerifyOTP handles POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := simulateLatency(r.Context(), h.latency); err != nil {
		respondServiceError(w, h.logger, err, "verify otp")
		return
	}

	sess, token, err := h.sessions.VerifyChallenge(r.Context(), req.PhoneOrEmail, req.OTP)
	if err != nil {
		respondServiceError(w, h.logger, err, "verify otp")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    sess,
		"token":   token,
	})
}

// Logout handles POST /api/auth/logout. The route requires a session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authorization required")
		return
	}
	h.sessions.Logout(r.Context(), sess.ID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

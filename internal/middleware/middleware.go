// Package middleware provides HTTP middleware for the Civic Pulse API.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
	"go.uber.org/zap"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionAuthenticator resolves bearer tokens to sessions.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
}

// WithSession returns a copy of ctx carrying the session.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*models.Session)
	return sess, ok && sess != nil
}

// StructuredLogger returns a middleware that logs HTTP requests with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", r.Header.Get("X-Request-ID")),
			)
		})
	}
}

// SecurityHeaders sets conservative response headers on every reply.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate attaches the session named by a valid bearer token to the
// request context. Requests without a usable token continue anonymously.
func Authenticate(auth SessionAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireSession rejects requests that Authenticate did not attach a session to.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "Authorization required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit allows requestsPerMinute requests per client IP in a fixed
// one-minute window.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := newRateLimiter(requestsPerMinute, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	rateWindow    = time.Minute
	sweepInterval = 5 * time.Minute
)

type rateClient struct {
	count       int
	windowStart time.Time
}

// rateLimiter drops idle clients while serving requests, at most once per
// sweepInterval, so it needs no background goroutine.
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	clients   map[string]*rateClient
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(limit int, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		limit:     limit,
		clients:   make(map[string]*rateClient),
		lastSweep: now(),
		now:       now,
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepInterval {
		for k, c := range l.clients {
			if now.Sub(c.windowStart) > 2*rateWindow {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok || now.Sub(c.windowStart) > rateWindow {
		l.clients[key] = &rateClient{count: 1, windowStart: now}
		return true
	}
	c.count++
	return c.count <= l.limit
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already
// rewritten when a proxy header is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": message})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

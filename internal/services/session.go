package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sessionClaims is the JWT payload handed to clients after login.
type sessionClaims struct {
	Identifier string `json:"identifier"`
	jwt.RegisteredClaims
}

// SessionService runs the challenge login and tracks live sessions.
// Sessions live in memory only; a restart logs everyone out.
type SessionService struct {
	issuer ChallengeIssuer
	secret []byte
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*models.Session

	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewSessionService creates a session service signing tokens with secret.
func NewSessionService(issuer ChallengeIssuer, secret string, ttl time.Duration, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{
		issuer:   issuer,
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: make(map[string]*models.Session),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source (for testing).
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestChallenge asks the issuer to send a code to identifier.
func (s *SessionService) RequestChallenge(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: phone or email is required", ErrValidationFailed)
	}
	return s.issuer.Issue(ctx, identifier)
}

// VerifyChallenge checks code and, on success, opens a session and returns
// it with a signed bearer token.
func (s *SessionService) VerifyChallenge(ctx context.Context, identifier, code string) (*models.Session, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, "", fmt.Errorf("%w: phone or email is required", ErrValidationFailed)
	}
	if err := s.issuer.Verify(ctx, identifier, strings.TrimSpace(code)); err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	sess := &models.Session{
		ID:         uuid.NewString(),
		Identifier: identifier,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	claims := sessionClaims{
		Identifier: identifier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, "", fmt.Errorf("sign session token: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Infow("Session opened", "session", sess.ID, "identifier", maskIdentifier(identifier))
	out := *sess
	return &out, token, nil
}

// Authenticate resolves a bearer token to its live session.
func (s *SessionService) Authenticate(_ context.Context, token string) (*models.Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	s.mu.RLock()
	sess, ok := s.sessions[claims.Subject]
	s.mu.RUnlock()
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	out := *sess
	return &out, nil
}

// Logout destroys a session. Unknown ids are ignored.
func (s *SessionService) Logout(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	s.logger.Infow("Session closed", "session", sessionID)
}

// PurgeExpired drops sessions past their expiry and returns how many went.
func (s *SessionService) PurgeExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

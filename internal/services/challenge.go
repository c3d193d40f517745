package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultChallengeCode is the code FixedCodeIssuer accepts unless configured otherwise.
const DefaultChallengeCode = "123456"

// ChallengeIssuer sends and checks one-time login codes.
type ChallengeIssuer interface {
	Issue(ctx context.Context, identifier string) error
	// Verify returns ErrInvalidCode when code does not match.
	Verify(ctx context.Context, identifier, code string) error
}

// FixedCodeIssuer accepts one configured code for every identifier and never
// delivers anything. It stands in for an SMS/email provider and must not
// guard real user data. Only a bcrypt hash of the code is held.
type FixedCodeIssuer struct {
	hash   []byte
	logger *zap.SugaredLogger
}

// NewFixedCodeIssuer hashes code with the given bcrypt cost.
func NewFixedCodeIssuer(code string, cost int, logger *zap.SugaredLogger) (*FixedCodeIssuer, error) {
	if code == "" {
		return nil, fmt.Errorf("challenge code is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, fmt.Errorf("hash challenge code: %w", err)
	}
	return &FixedCodeIssuer{hash: hash, logger: logger}, nil
}

func (i *FixedCodeIssuer) Issue(_ context.Context, identifier string) error {
	i.logger.Infow("Challenge issued", "identifier", maskIdentifier(identifier))
	return nil
}

func (i *FixedCodeIssuer) Verify(_ context.Context, identifier, code string) error {
	err := bcrypt.CompareHashAndPassword(i.hash, []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		i.logger.Infow("Challenge rejected", "identifier", maskIdentifier(identifier))
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("compare challenge code: %w", err)
	}
	return nil
}

// maskIdentifier keeps the first two characters and the email domain, if any.
func maskIdentifier(identifier string) string {
	local, domain, isEmail := strings.Cut(identifier, "@")
	if len(local) > 2 {
		local = local[:2] + strings.Repeat("*", len(local)-2)
	}
	if isEmail {
		return local + "@" + domain
	}
	return local
}

// Package csrf issues and verifies per-session anti-forgery tokens.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/schoolworks/admincore/internal/repository"
)

// tokenBytes is the entropy of an issued token (hex-encoded for transport)
const tokenBytes = 32

// Guard errors
var (
	ErrTokenMismatch = errors.New("csrf token mismatch")
)

// Guard binds anti-forgery tokens to session records. A session has at most
// one active token; issuing a new one replaces the previous value.
type Guard struct {
	sessions repository.SessionRepository
}

// NewGuard creates a new Guard instance
func NewGuard(sessions repository.SessionRepository) *Guard {
	return &Guard{sessions: sessions}
}

// IssueToken generates a fresh token for the session and stores it,
// replacing any previous token
func (g *Guard) IssueToken(ctx context.Context, sessionID uuid.UUID) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	if err := g.sessions.SetCSRFToken(ctx, sessionID, token); err != nil {
		return "", err
	}

	return token, nil
}

// Verify compares the supplied token against the session's stored token in
// constant time. Only the most recently issued token for that exact session
// verifies; an empty or foreign token never does.
func (g *Guard) Verify(session *repository.Session, supplied string) bool {
	if session == nil || session.CSRFToken == nil || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*session.CSRFToken), []byte(supplied)) == 1
}

package repository

import (
	"time"

	"github.com/google/uuid"
)

// Account represents an administrative account in the database.
// failed_attempt_count and locked_until are owned by the credential
// verifier; nothing else mutates them.
type Account struct {
	ID                 uuid.UUID  `db:"id"`
	Email              string     `db:"email"`
	PasswordHash       string     `db:"password_hash"`
	Role               string     `db:"role"`
	IsActive           bool       `db:"is_active"`
	FailedAttemptCount int        `db:"failed_attempt_count"`
	LockedUntil        *time.Time `db:"locked_until"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	LastLoginAt        *time.Time `db:"last_login_at"`
}

// Locked reports whether the account is inside an active lockout window.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// Session represents an authenticated session in the database.
// SIDHash is the SHA-256 hash of the current rotating identifier; the
// identifier itself never touches storage.
type Session struct {
	ID             uuid.UUID `db:"id"`
	AccountID      uuid.UUID `db:"account_id"`
	Role           string    `db:"role"`
	SIDHash        string    `db:"sid_hash"`
	CSRFToken      *string   `db:"csrf_token"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	RotatedAt      time.Time `db:"rotated_at"`
}

// SecurityEvent is an append-only audit record. Events are written on every
// security-relevant rejection and on successful logins; they are never
// updated or deleted by this core.
type SecurityEvent struct {
	ID        uuid.UUID  `db:"id"`
	Event     string     `db:"event"`
	AccountID *uuid.UUID `db:"account_id"`
	Email     *string    `db:"email"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
	Path      string     `db:"path"`
	Method    string     `db:"method"`
	Details   map[string]any `db:"details"`
	CreatedAt time.Time  `db:"created_at"`
}

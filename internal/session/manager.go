// Package session manages authenticated session lifecycle: creation on
// login, idle timeout, identifier rotation and destruction. Expiry is
// evaluated lazily against stored timestamps on each validation; there are
// no background timers.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/schoolworks/admincore/internal/repository"
)

// Manager errors
var (
	ErrInvalidHandle  = errors.New("invalid session handle")
	ErrSessionExpired = errors.New("session expired")
)

// Config holds session lifecycle parameters
type Config struct {
	// Timeout is the idle duration after which a session expires
	Timeout time.Duration
	// RotationInterval bounds how long one identifier stays in service
	RotationInterval time.Duration
}

// Manager owns session records exclusively. A fresh identifier is issued on
// every login (session fixation defense) and reissued once the rotation
// interval elapses, bounding the exposure of a leaked identifier.
type Manager struct {
	sessions repository.SessionRepository
	codec    *HandleCodec
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a new Manager instance
func NewManager(sessions repository.SessionRepository, codec *HandleCodec, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: sessions,
		codec:    codec,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Create starts a session for the identity and returns its handle. The
// identifier is always freshly generated here, never carried over from any
// pre-authentication state.
func (m *Manager) Create(ctx context.Context, accountID uuid.UUID, role string) (string, *repository.Session, error) {
	sid, err := newSID()
	if err != nil {
		return "", nil, err
	}

	session := &repository.Session{
		AccountID: accountID,
		Role:      role,
		SIDHash:   hashSID(sid),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return "", nil, err
	}

	handle, err := m.codec.Mint(sid, m.now())
	if err != nil {
		return "", nil, err
	}

	return handle, session, nil
}

// Validate checks a handle against the stored session. On success it
// refreshes the activity timestamp and, when the rotation interval has
// elapsed, reissues the identifier; newHandle is non-empty only when
// rotation happened and the caller must hand the new handle to the client.
func (m *Manager) Validate(ctx context.Context, handle string) (*repository.Session, string, error) {
	sid, err := m.codec.Decode(handle)
	if err != nil {
		return nil, "", ErrInvalidHandle
	}

	session, err := m.sessions.GetBySIDHash(ctx, hashSID(sid))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "", ErrInvalidHandle
		}
		return nil, "", err
	}

	now := m.now()

	if now.Sub(session.LastActivityAt) > m.cfg.Timeout {
		// Idle too long: the record is dead, reclaim it
		if err := m.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			m.logger.Error("failed to delete expired session", "session_id", session.ID, "error", err)
		}
		return nil, "", ErrSessionExpired
	}

	if err := m.sessions.TouchActivity(ctx, session.ID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "", ErrInvalidHandle
		}
		return nil, "", err
	}
	session.LastActivityAt = now

	newHandle := ""
	if now.Sub(session.RotatedAt) > m.cfg.RotationInterval {
		newHandle, err = m.rotate(ctx, session)
		if err != nil {
			return nil, "", err
		}
	}

	return session, newHandle, nil
}

// rotate reissues the session identifier while preserving identity, role and
// activity state. The repository guard makes rotation idempotent within the
// interval: if a concurrent request already rotated, this attempt is a no-op
// and the client keeps the handle the winner issued.
func (m *Manager) rotate(ctx context.Context, session *repository.Session) (string, error) {
	sid, err := newSID()
	if err != nil {
		return "", err
	}

	err = m.sessions.Rotate(ctx, session.ID, hashSID(sid), session.RotatedAt)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost the rotation race; nothing to reissue
			return "", nil
		}
		return "", err
	}

	session.SIDHash = hashSID(sid)
	session.RotatedAt = m.now()

	return m.codec.Mint(sid, m.now())
}

// Destroy immediately invalidates the session behind the handle. Called on
// explicit logout; an unknown handle is not an error worth surfacing.
func (m *Manager) Destroy(ctx context.Context, handle string) error {
	sid, err := m.codec.Decode(handle)
	if err != nil {
		return ErrInvalidHandle
	}

	session, err := m.sessions.GetBySIDHash(ctx, hashSID(sid))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := m.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}

	return nil
}

// DestroyAccount invalidates every session for an account (process-wide
// invalidation for that identity)
func (m *Manager) DestroyAccount(ctx context.Context, accountID uuid.UUID) error {
	return m.sessions.DeleteByAccountID(ctx, accountID)
}

// PruneIdle reclaims session rows idle past the timeout. Invoked explicitly
// by operators or deploy tooling, never by a timer inside the core.
func (m *Manager) PruneIdle(ctx context.Context) (int64, error) {
	return m.sessions.DeleteIdleBefore(ctx, m.now().Add(-m.cfg.Timeout))
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access.
// Sessions are owned by the session manager; no other component mutates them.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetBySIDHash(ctx context.Context, sidHash string) (*Session, error)
	// TouchActivity advances last_activity_at for the sliding idle window
	TouchActivity(ctx context.Context, id uuid.UUID) error
	// Rotate swaps the stored identifier hash, guarded by the previous
	// rotation checkpoint. A concurrent rotation that lost the race
	// matches zero rows and returns ErrSessionNotFound; the caller then
	// keeps serving the winner's identifier.
	Rotate(ctx context.Context, id uuid.UUID, newSIDHash string, prevRotatedAt time.Time) error
	// SetCSRFToken stores the current anti-forgery token, replacing any
	// previous value
	SetCSRFToken(ctx context.Context, id uuid.UUID, token string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error
	// DeleteIdleBefore removes sessions whose last activity predates the
	// cutoff; expiry itself is lazy, this just reclaims dead rows
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

// Create inserts a new session into the database
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (account_id, role, sid_hash, last_activity_at, rotated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, last_activity_at, rotated_at
	`

	err := r.pool.QueryRow(ctx, query,
		session.AccountID,
		session.Role,
		session.SIDHash,
	).Scan(&session.ID, &session.CreatedAt, &session.LastActivityAt, &session.RotatedAt)

	return err
}

// GetBySIDHash retrieves a session by the hash of its current identifier
func (r *sessionRepository) GetBySIDHash(ctx context.Context, sidHash string) (*Session, error) {
	query := `
		SELECT id, account_id, role, sid_hash, csrf_token,
		       created_at, last_activity_at, rotated_at
		FROM sessions
		WHERE sid_hash = $1
	`

	session := &Session{}
	err := r.pool.QueryRow(ctx, query, sidHash).Scan(
		&session.ID,
		&session.AccountID,
		&session.Role,
		&session.SIDHash,
		&session.CSRFToken,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.RotatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// TouchActivity advances the session's last-activity timestamp
func (r *sessionRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET last_activity_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// Rotate replaces the stored identifier hash if no concurrent rotation beat
// this one to the row
func (r *sessionRepository) Rotate(ctx context.Context, id uuid.UUID, newSIDHash string, prevRotatedAt time.Time) error {
	query := `
		UPDATE sessions
		SET sid_hash = $2, rotated_at = NOW()
		WHERE id = $1 AND rotated_at = $3
	`

	result, err := r.pool.Exec(ctx, query, id, newSIDHash, prevRotatedAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// SetCSRFToken stores the session's current anti-forgery token
func (r *sessionRepository) SetCSRFToken(ctx context.Context, id uuid.UUID, token string) error {
	query := `UPDATE sessions SET csrf_token = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, token)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// Delete removes a session by its ID
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByAccountID removes all sessions for an account
func (r *sessionRepository) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error {
	query := `DELETE FROM sessions WHERE account_id = $1`

	_, err := r.pool.Exec(ctx, query, accountID)
	return err
}

// DeleteIdleBefore reclaims sessions idle since before the cutoff
func (r *sessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE last_activity_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

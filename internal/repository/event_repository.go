package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository defines the append-only interface for the security
// event log. There is no update or single-row delete on purpose.
type SecurityEventRepository interface {
	Append(ctx context.Context, event *SecurityEvent) error
	// DeleteBefore trims events older than the retention cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// securityEventRepository implements SecurityEventRepository using PostgreSQL
type securityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository instance
func NewSecurityEventRepository(pool *pgxpool.Pool) SecurityEventRepository {
	return &securityEventRepository{pool: pool}
}

// Append inserts a security event
func (r *securityEventRepository) Append(ctx context.Context, event *SecurityEvent) error {
	query := `
		INSERT INTO security_events (event, account_id, email, ip_address, user_agent, path, method, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	details := event.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}

	return r.pool.QueryRow(ctx, query,
		event.Event,
		event.AccountID,
		event.Email,
		event.IPAddress,
		event.UserAgent,
		event.Path,
		event.Method,
		payload,
	).Scan(&event.ID, &event.CreatedAt)
}

// DeleteBefore trims events older than the cutoff
func (r *securityEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM security_events WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

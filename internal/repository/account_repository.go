package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// GetActiveByEmail only returns active accounts; inactive ones are
	// indistinguishable from missing for login purposes
	GetActiveByEmail(ctx context.Context, email string) (*Account, error)
	// RecordFailedAttempt atomically increments the failed-attempt counter
	// and sets locked_until when the new count reaches maxAttempts.
	// It returns the post-increment count and lockout so concurrent
	// failures cannot lose updates.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockoutFor time.Duration) (count int, lockedUntil *time.Time, err error)
	// ResetLockout clears failed_attempt_count and locked_until and stamps
	// last_login_at; called on every successful verification
	ResetLockout(ctx context.Context, id uuid.UUID) error
	EmailExists(ctx context.Context, email string) (bool, error)
}

// accountRepository implements AccountRepository using PostgreSQL
type accountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

// Create inserts a new account into the database
func (r *accountRepository) Create(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (email, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		strings.ToLower(account.Email),
		account.PasswordHash,
		account.Role,
		account.IsActive,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "idx_accounts_email") {
			return ErrEmailAlreadyExists
		}
		return err
	}

	return nil
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, email, password_hash, role, is_active,
		       failed_attempt_count, locked_until,
		       created_at, updated_at, last_login_at
		FROM accounts
		WHERE id = $1
	`

	account := &Account{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.IsActive,
		&account.FailedAttemptCount,
		&account.LockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.LastLoginAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

// GetActiveByEmail retrieves an active account by email (case-insensitive)
func (r *accountRepository) GetActiveByEmail(ctx context.Context, email string) (*Account, error) {
	query := `
		SELECT id, email, password_hash, role, is_active,
		       failed_attempt_count, locked_until,
		       created_at, updated_at, last_login_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1) AND is_active = TRUE
	`

	account := &Account{}
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.IsActive,
		&account.FailedAttemptCount,
		&account.LockedUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.LastLoginAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

// RecordFailedAttempt increments failed_attempt_count and arms locked_until
// in one statement. The single UPDATE is the atomic read-modify-write the
// lockout budget depends on: racing requests serialize on the row, each
// increment lands, and exactly one of them crosses the threshold.
func (r *accountRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockoutFor time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET failed_attempt_count = failed_attempt_count + 1,
		    locked_until = CASE
		        WHEN failed_attempt_count + 1 >= $2 THEN NOW() + $3
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_attempt_count, locked_until
	`

	var count int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, maxAttempts, lockoutFor).Scan(&count, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrAccountNotFound
		}
		return 0, nil, err
	}

	return count, lockedUntil, nil
}

// ResetLockout clears the lockout state on successful verification
func (r *accountRepository) ResetLockout(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET failed_attempt_count = 0,
		    locked_until = NULL,
		    last_login_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// EmailExists checks if an email address is already registered (case-insensitive)
func (r *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE LOWER(email) = LOWER($1))
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

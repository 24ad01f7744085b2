package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/authz"
	"github.com/schoolworks/admincore/internal/config"
	"github.com/schoolworks/admincore/internal/metrics"
	"github.com/schoolworks/admincore/internal/ratelimit"
	"github.com/schoolworks/admincore/internal/repository"
	"github.com/schoolworks/admincore/internal/session"
)

// Auth service errors. Unknown email and wrong password share
// ErrInvalidCredentials so responses cannot be used to enumerate accounts.
var (
	ErrInvalidInput       = errors.New("invalid login input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrLoginFailed        = errors.New("login failed, try again")
	ErrEmailExists        = errors.New("email already exists")
	ErrUnknownRole        = errors.New("unknown role")
	ErrAccountNotFound    = errors.New("account not found")
)

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeLoginFailed        = "LOGIN_FAILED"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeForbidden          = "FORBIDDEN"
)

// loginKeyPrefix namespaces the rate-limit counter for login attempts by
// client IP
const loginKeyPrefix = "login:"

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// RegisterRequest represents the account registration payload
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	Role            string `json:"role" validate:"required"`
}

// ClientInfo carries request-level context for audit records
type ClientInfo struct {
	IP        string
	UserAgent string
	Path      string
	Method    string
}

// AccountResponse represents account data in responses
type AccountResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// LoginResult is returned to the handler on successful verification
type LoginResult struct {
	Account AccountResponse
	// Handle is the signed session handle for the freshly created session
	Handle string
	// RetryAfter is populated on ErrTooManyAttempts and ErrAccountLocked
	RetryAfter time.Duration
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Service is the credential verifier. It owns the lockout fields on the
// account record: failed_attempt_count and locked_until change nowhere else.
type Service struct {
	accounts repository.AccountRepository
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	recorder *audit.Recorder
	password *PasswordValidator
	checker  *authz.Checker
	validate *validator.Validate
	cfg      config.LoginConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service instance
func NewService(
	accounts repository.AccountRepository,
	sessions *session.Manager,
	limiter *ratelimit.Limiter,
	recorder *audit.Recorder,
	password *PasswordValidator,
	checker *authz.Checker,
	cfg config.LoginConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		limiter:  limiter,
		recorder: recorder,
		password: password,
		checker:  checker,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Login verifies credentials and opens a session.
//
// Order matters: the per-IP budget is spent first, structural validation
// runs before any storage access, a locked account short-circuits before the
// password comparison, and unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest, client ClientInfo) (*LoginResult, error) {
	key := loginKeyPrefix + client.IP
	if !s.limiter.Allow(key, s.cfg.MaxAttempts, s.cfg.LockoutDuration) {
		s.recorder.Record(ctx, audit.Entry{
			Event:     audit.EventLoginRateLimited,
			Email:     req.Email,
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
			Path:      client.Path,
			Method:    client.Method,
		})
		return &LoginResult{RetryAfter: s.limiter.RetryAfter(key, s.cfg.LockoutDuration)}, ErrTooManyAttempts
	}

	if err := s.validate.Struct(req); err != nil {
		// Expected and routine; no security event, no field detail leaked
		return nil, ErrInvalidInput
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	account, err := s.accounts.GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.recorder.Record(ctx, audit.Entry{
				Event:     audit.EventLoginUnknownEmail,
				Email:     email,
				IPAddress: client.IP,
				UserAgent: client.UserAgent,
				Path:      client.Path,
				Method:    client.Method,
			})
			return nil, ErrInvalidCredentials
		}
		return nil, s.storageFailure(ctx, "account lookup", err, email, client)
	}

	now := s.now()
	if account.Locked(now) {
		s.recorder.Record(ctx, audit.Entry{
			Event:     audit.EventLoginLocked,
			AccountID: &account.ID,
			Email:     email,
			IPAddress: client.IP,
			UserAgent: client.UserAgent,
			Path:      client.Path,
			Method:    client.Method,
		})
		return &LoginResult{RetryAfter: account.LockedUntil.Sub(now)}, ErrAccountLocked
	}

	if err := s.password.VerifyPassword(req.Password, account.PasswordHash); err != nil {
		return nil, s.recordFailure(ctx, account, email, client)
	}

	if err := s.accounts.ResetLockout(ctx, account.ID); err != nil {
		return nil, s.storageFailure(ctx, "lockout reset", err, email, client)
	}

	handle, _, err := s.sessions.Create(ctx, account.ID, account.Role)
	if err != nil {
		return nil, s.storageFailure(ctx, "session create", err, email, client)
	}

	s.recorder.Record(ctx, audit.Entry{
		Event:     audit.EventLoginSuccess,
		AccountID: &account.ID,
		Email:     email,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Path:      client.Path,
		Method:    client.Method,
	})

	lastLogin := now
	return &LoginResult{
		Account: AccountResponse{
			ID:        account.ID.String(),
			Email:     account.Email,
			Role:      account.Role,
			CreatedAt: account.CreatedAt,
			LastLogin: &lastLogin,
		},
		Handle: handle,
	}, nil
}

// recordFailure books a failed attempt against the account. The repository
// increment is atomic, so N racing failures yield N increments and exactly
// one lockout transition.
func (s *Service) recordFailure(ctx context.Context, account *repository.Account, email string, client ClientInfo) error {
	count, lockedUntil, err := s.accounts.RecordFailedAttempt(ctx, account.ID, s.cfg.MaxAttempts, s.cfg.LockoutDuration)
	if err != nil {
		return s.storageFailure(ctx, "failed-attempt increment", err, email, client)
	}

	details := map[string]any{"failed_attempt_count": count}
	if lockedUntil != nil {
		details["locked_until"] = lockedUntil.UTC().Format(time.RFC3339)
	}
	if count == s.cfg.MaxAttempts {
		metrics.AccountLockouts.Inc()
	}
	s.recorder.Record(ctx, audit.Entry{
		Event:     audit.EventLoginFailed,
		AccountID: &account.ID,
		Email:     email,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Path:      client.Path,
		Method:    client.Method,
		Details:   details,
	})

	return ErrInvalidCredentials
}

// storageFailure logs infrastructure errors with full detail server-side and
// surfaces only the generic retryable message
func (s *Service) storageFailure(ctx context.Context, op string, err error, email string, client ClientInfo) error {
	s.logger.Error("login storage failure", "op", op, "error", err)
	s.recorder.Record(ctx, audit.Entry{
		Event:     audit.EventStorageFailure,
		Email:     email,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Path:      client.Path,
		Method:    client.Method,
		Details:   map[string]any{"op": op},
	})
	return ErrLoginFailed
}

// Logout destroys the session behind the handle
func (s *Service) Logout(ctx context.Context, handle string, client ClientInfo) error {
	if err := s.sessions.Destroy(ctx, handle); err != nil {
		if errors.Is(err, session.ErrInvalidHandle) {
			return err
		}
		s.logger.Error("logout storage failure", "error", err)
		return ErrLoginFailed
	}

	s.recorder.Record(ctx, audit.Entry{
		Event:     audit.EventLogout,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Path:      client.Path,
		Method:    client.Method,
	})
	return nil
}

// Register creates an account with a validated role and hashed password
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AccountResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	for _, perr := range s.password.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   perr.Field,
			Message: perr.Message,
		})
	}

	if req.Password != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}

	if !s.checker.KnownRole(req.Role) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "role",
			Message: "Unknown role",
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	exists, err := s.accounts.EmailExists(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrEmailExists
	}

	passwordHash, err := s.password.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	account := &repository.Account{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, nil, ErrEmailExists
		}
		return nil, nil, err
	}

	return &AccountResponse{
		ID:        account.ID.String(),
		Email:     account.Email,
		Role:      account.Role,
		CreatedAt: account.CreatedAt,
	}, nil, nil
}

// GetProfile returns the account behind an authenticated identity
func (s *Service) GetProfile(ctx context.Context, accountID string) (*AccountResponse, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return &AccountResponse{
		ID:        account.ID.String(),
		Email:     account.Email,
		Role:      account.Role,
		CreatedAt: account.CreatedAt,
		LastLogin: account.LastLoginAt,
	}, nil
}

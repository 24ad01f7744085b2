package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"

	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/authz"
	"github.com/schoolworks/admincore/internal/config"
	"github.com/schoolworks/admincore/internal/ratelimit"
	"github.com/schoolworks/admincore/internal/repository"
	"github.com/schoolworks/admincore/internal/session"
)

// mockAccountRepository is an in-memory AccountRepository. RecordFailedAttempt
// runs under a mutex so concurrent failures serialize the same way racing
// UPDATEs do on a row.
type mockAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*repository.Account
	now      func() time.Time

	lookupErr error
	recordErr error
	resetErr  error

	// lookupHook, when set, runs after a lookup snapshot is taken and before
	// it is returned. Tests use it to line up concurrent callers on
	// pre-increment state.
	lookupHook func()

	lookupCalls     int
	lockTransitions int
}

func newMockAccountRepository(now func() time.Time) *mockAccountRepository {
	return &mockAccountRepository{
		accounts: make(map[uuid.UUID]*repository.Account),
		now:      now,
	}
}

func (m *mockAccountRepository) Create(ctx context.Context, account *repository.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(account.Email)
	for _, a := range m.accounts {
		if strings.ToLower(a.Email) == email {
			return repository.ErrEmailAlreadyExists
		}
	}

	account.ID = uuid.New()
	account.CreatedAt = m.now()
	account.UpdatedAt = m.now()
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockAccountRepository) GetActiveByEmail(ctx context.Context, email string) (*repository.Account, error) {
	m.mu.Lock()

	m.lookupCalls++
	if m.lookupErr != nil {
		m.mu.Unlock()
		return nil, m.lookupErr
	}

	var found *repository.Account
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) && a.IsActive {
			copied := *a
			found = &copied
			break
		}
	}
	m.mu.Unlock()

	// Outside the lock so a blocking hook cannot deadlock other lookups
	if m.lookupHook != nil {
		m.lookupHook()
	}

	if found == nil {
		return nil, repository.ErrAccountNotFound
	}
	return found, nil
}

func (m *mockAccountRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockoutFor time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordErr != nil {
		return 0, nil, m.recordErr
	}

	a, ok := m.accounts[id]
	if !ok {
		return 0, nil, repository.ErrAccountNotFound
	}

	a.FailedAttemptCount++
	if a.FailedAttemptCount >= maxAttempts {
		until := m.now().Add(lockoutFor)
		a.LockedUntil = &until
	}
	if a.FailedAttemptCount == maxAttempts {
		m.lockTransitions++
	}

	var lockedUntil *time.Time
	if a.LockedUntil != nil {
		u := *a.LockedUntil
		lockedUntil = &u
	}
	return a.FailedAttemptCount, lockedUntil, nil
}

func (m *mockAccountRepository) ResetLockout(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resetErr != nil {
		return m.resetErr
	}

	a, ok := m.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.FailedAttemptCount = 0
	a.LockedUntil = nil
	now := m.now()
	a.LastLoginAt = &now
	return nil
}

func (m *mockAccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if strings.ToLower(a.Email) == strings.ToLower(email) {
			return true, nil
		}
	}
	return false, nil
}

// mockSessionRepository backs the session manager in these tests
type mockSessionRepository struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*repository.Session

	createErr error
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{byID: make(map[uuid.UUID]*repository.Session)}
}

func (m *mockSessionRepository) Create(ctx context.Context, session *repository.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	session.ID = uuid.New()
	session.CreatedAt = time.Now()
	session.LastActivityAt = time.Now()
	session.RotatedAt = time.Now()
	copied := *session
	m.byID[session.ID] = &copied
	return nil
}

func (m *mockSessionRepository) GetBySIDHash(ctx context.Context, sidHash string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.byID {
		if s.SIDHash == sidHash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *mockSessionRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *mockSessionRepository) Rotate(ctx context.Context, id uuid.UUID, newSIDHash string, prevRotatedAt time.Time) error {
	return nil
}

func (m *mockSessionRepository) SetCSRFToken(ctx context.Context, id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.CSRFToken = &token
	return nil
}

func (m *mockSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *mockSessionRepository) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.byID {
		if s.AccountID == accountID {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *mockSessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockEventRepository collects appended security events
type mockEventRepository struct {
	mu     sync.Mutex
	events []*repository.SecurityEvent
}

func (m *mockEventRepository) Append(ctx context.Context, event *repository.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *mockEventRepository) named(event string) []*repository.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.SecurityEvent
	for _, e := range m.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type serviceFixture struct {
	svc      *Service
	accounts *mockAccountRepository
	sessions *mockSessionRepository
	events   *mockEventRepository
	clock    *testClock
	cfg      config.LoginConfig
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	clk := &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	accounts := newMockAccountRepository(clk.Now)
	sessions := newMockSessionRepository()
	events := &mockEventRepository{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec := session.NewHandleCodec("test-secret-at-least-32-bytes-long!!", "admincore-test")
	manager := session.NewManager(sessions, codec, session.Config{
		Timeout:          30 * time.Minute,
		RotationInterval: 15 * time.Minute,
	}, logger)

	cfg := config.LoginConfig{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
	}

	svc := NewService(
		accounts,
		manager,
		ratelimit.NewLimiter(),
		audit.NewRecorder(events, nil, logger),
		NewPasswordValidator(),
		authz.NewChecker(authz.DefaultTable()),
		cfg,
		logger,
	)
	svc.now = clk.Now

	return &serviceFixture{
		svc:      svc,
		accounts: accounts,
		sessions: sessions,
		events:   events,
		clock:    clk,
		cfg:      cfg,
	}
}

// seedAccount registers an account directly in the store. Hashing at MinCost
// keeps the suite fast; VerifyPassword accepts any cost.
func (f *serviceFixture) seedAccount(t *testing.T, email, password, role string) *repository.Account {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	account := &repository.Account{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := f.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	return account
}

func client(ip string) ClientInfo {
	return ClientInfo{IP: ip, UserAgent: "test", Path: "/api/v1/auth/login", Method: "POST"}
}

func TestLogin_Success(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	result, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "Head@School.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Handle == "" {
		t.Error("successful login should carry a session handle")
	}
	if result.Account.Email != "head@school.example" || result.Account.Role != authz.RoleAdmin {
		t.Errorf("unexpected account in result: %+v", result.Account)
	}
	if len(f.sessions.byID) != 1 {
		t.Errorf("expected 1 session, have %d", len(f.sessions.byID))
	}
	if got := f.events.named(audit.EventLoginSuccess); len(got) != 1 {
		t.Errorf("expected 1 login.success event, have %d", len(got))
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "WrongPass9",
	}, client("10.0.0.1"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login = %v, want ErrInvalidCredentials", err)
	}

	stored, _ := f.accounts.GetByID(context.Background(), account.ID)
	if stored.FailedAttemptCount != 1 {
		t.Errorf("failed_attempt_count = %d, want 1", stored.FailedAttemptCount)
	}
	if len(f.sessions.byID) != 0 {
		t.Error("no session should exist after a failed login")
	}
}

func TestLogin_UnknownEmailIndistinguishableFromWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	_, unknownErr := f.svc.Login(context.Background(), LoginRequest{
		Email:    "nobody@school.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	_, wrongErr := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "WrongPass9",
	}, client("10.0.0.2"))

	if unknownErr == nil || wrongErr == nil {
		t.Fatal("both attempts should fail")
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("messages differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLogin_EnumerationResistance(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	i := 0
	rapid.Check(t, func(t *rapid.T) {
		i++
		ip := fmt.Sprintf("10.1.%d.%d", i/250, i%250)

		var req LoginRequest
		if rapid.Bool().Draw(t, "unknown_email") {
			req = LoginRequest{
				Email:    rapid.StringMatching(`[a-z]{3,12}`).Draw(t, "local") + "@school.example",
				Password: "Password1",
			}
			if req.Email == "head@school.example" {
				return
			}
		} else {
			req = LoginRequest{
				Email:    "head@school.example",
				Password: rapid.StringMatching(`[A-Z][a-z]{6,10}[0-9]`).Draw(t, "pw"),
			}
			if req.Password == "Password1" {
				return
			}
		}

		result, err := f.svc.Login(context.Background(), req, client(ip))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login = %v, want ErrInvalidCredentials", err)
		}
		if result != nil {
			t.Fatal("failed login must not return a result")
		}

		// Keep the account clear of lockout so every draw exercises the
		// credential path
		f.accounts.ResetLockout(context.Background(), account.ID)
	})
}

func TestLogin_LockoutAfterMaxAttempts(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	// Distinct source addresses so the per-IP budget stays out of the way
	for i := 0; i < f.cfg.MaxAttempts; i++ {
		_, err := f.svc.Login(context.Background(), LoginRequest{
			Email:    "head@school.example",
			Password: "WrongPass9",
		}, client(fmt.Sprintf("10.0.0.%d", i+1)))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	stored, _ := f.accounts.GetByID(context.Background(), account.ID)
	if stored.FailedAttemptCount != f.cfg.MaxAttempts {
		t.Errorf("failed_attempt_count = %d, want %d", stored.FailedAttemptCount, f.cfg.MaxAttempts)
	}
	if stored.LockedUntil == nil {
		t.Fatal("account should be locked after exhausting the attempt budget")
	}

	// The correct password is rejected for the whole lockout window
	result, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.1.1"))
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("login during lockout = %v, want ErrAccountLocked", err)
	}
	if result == nil || result.RetryAfter <= 0 {
		t.Error("lockout rejection should carry a positive retry hint")
	}
}

func TestLogin_LockoutExpiresAndSuccessResets(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	for i := 0; i < f.cfg.MaxAttempts; i++ {
		f.svc.Login(context.Background(), LoginRequest{
			Email:    "head@school.example",
			Password: "WrongPass9",
		}, client(fmt.Sprintf("10.0.0.%d", i+1)))
	}

	f.clock.Advance(f.cfg.LockoutDuration + time.Minute)

	result, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.1.1"))
	if err != nil {
		t.Fatalf("login after lockout expiry failed: %v", err)
	}
	if result.Handle == "" {
		t.Error("expected a session handle")
	}

	stored, _ := f.accounts.GetByID(context.Background(), account.ID)
	if stored.FailedAttemptCount != 0 || stored.LockedUntil != nil {
		t.Errorf("success should reset lockout state, have count=%d locked_until=%v",
			stored.FailedAttemptCount, stored.LockedUntil)
	}
	if stored.LastLoginAt == nil {
		t.Error("success should stamp last_login_at")
	}
}

func TestLogin_ConcurrentFailuresSingleLockout(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	// More failures than the attempt budget, all racing. The lookup barrier
	// holds every caller on a pre-lockout snapshot so each one reaches the
	// increment, which drives the counter past the threshold under
	// contention: no lost updates, one lockout transition, and the account
	// stays locked while the count keeps growing.
	const n = 8
	if n <= f.cfg.MaxAttempts {
		t.Fatalf("n = %d must exceed the attempt budget %d", n, f.cfg.MaxAttempts)
	}

	var lookups sync.WaitGroup
	lookups.Add(n)
	f.accounts.lookupHook = func() {
		lookups.Done()
		lookups.Wait()
	}

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := f.svc.Login(context.Background(), LoginRequest{
				Email:    "head@school.example",
				Password: "WrongPass9",
			}, client(fmt.Sprintf("10.0.2.%d", i+1)))
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("concurrent attempt = %v, want ErrInvalidCredentials", err)
		}
	}

	stored, _ := f.accounts.GetByID(context.Background(), account.ID)
	if stored.FailedAttemptCount != n {
		t.Errorf("failed_attempt_count = %d, want %d (no lost updates)", stored.FailedAttemptCount, n)
	}
	if stored.LockedUntil == nil {
		t.Error("account should be locked")
	}
	if f.accounts.lockTransitions != 1 {
		t.Errorf("lockout transitions = %d, want exactly 1", f.accounts.lockTransitions)
	}
}

func TestLogin_FailureAfterLockoutExpiryRearmsLockout(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	for i := 0; i < f.cfg.MaxAttempts; i++ {
		f.svc.Login(context.Background(), LoginRequest{
			Email:    "head@school.example",
			Password: "WrongPass9",
		}, client(fmt.Sprintf("10.0.0.%d", i+1)))
	}

	f.clock.Advance(f.cfg.LockoutDuration + time.Minute)

	// The counter only clears on success, so one more wrong password after
	// the window elapses locks the account again for a full window
	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "WrongPass9",
	}, client("10.0.1.1"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("post-expiry failure = %v, want ErrInvalidCredentials", err)
	}

	stored, _ := f.accounts.GetByID(context.Background(), account.ID)
	if stored.FailedAttemptCount != f.cfg.MaxAttempts+1 {
		t.Errorf("failed_attempt_count = %d, want %d", stored.FailedAttemptCount, f.cfg.MaxAttempts+1)
	}
	if stored.LockedUntil == nil {
		t.Fatal("account should be locked again")
	}
	if want := f.clock.Now().Add(f.cfg.LockoutDuration); !stored.LockedUntil.Equal(want) {
		t.Errorf("locked_until = %v, want %v", stored.LockedUntil, want)
	}

	_, err = f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.1.2"))
	if !errors.Is(err, ErrAccountLocked) {
		t.Errorf("login during re-armed lockout = %v, want ErrAccountLocked", err)
	}
}

func TestLogin_PerIPRateLimit(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	for i := 0; i < f.cfg.MaxAttempts; i++ {
		f.svc.Login(context.Background(), LoginRequest{
			Email:    "head@school.example",
			Password: "WrongPass9",
		}, client("10.0.0.1"))
	}

	// Budget spent: even the correct password is throttled from this source
	result, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("throttled login = %v, want ErrTooManyAttempts", err)
	}
	if result == nil || result.RetryAfter <= 0 {
		t.Error("throttled rejection should carry a positive retry hint")
	}
	if got := f.events.named(audit.EventLoginRateLimited); len(got) != 1 {
		t.Errorf("expected 1 login.rate_limited event, have %d", len(got))
	}
}

func TestLogin_InvalidInputBeforeStorage(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"malformed email", LoginRequest{Email: "not-an-email", Password: "Password1"}},
		{"short password", LoginRequest{Email: "head@school.example", Password: "short"}},
		{"empty email", LoginRequest{Email: "", Password: "Password1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.accounts.lookupCalls
			if _, err := f.svc.Login(context.Background(), tt.req, client("10.0.0.1")); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Login = %v, want ErrInvalidInput", err)
			}
			if f.accounts.lookupCalls != before {
				t.Error("structural validation must run before any storage access")
			}
		})
	}
}

func TestLogin_StorageFailureIsGeneric(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)
	f.accounts.lookupErr = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("Login = %v, want ErrLoginFailed", err)
	}
	if strings.Contains(err.Error(), "connection") {
		t.Error("storage detail must not leak to the caller")
	}
	if got := f.events.named(audit.EventStorageFailure); len(got) != 1 {
		t.Errorf("expected 1 storage.failure event, have %d", len(got))
	}
}

func TestLogin_FailureRecordingFailureIsGeneric(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)
	f.accounts.recordErr = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "WrongPass9",
	}, client("10.0.0.1"))
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("Login = %v, want ErrLoginFailed", err)
	}
}

func TestLogin_InactiveAccountIndistinguishable(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "former@school.example", "Password1", authz.RoleAdmin)
	f.accounts.accounts[account.ID].IsActive = false

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "former@school.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("inactive account login = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogout(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	result, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "head@school.example",
		Password: "Password1",
	}, client("10.0.0.1"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := f.svc.Logout(context.Background(), result.Handle, client("10.0.0.1")); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if len(f.sessions.byID) != 0 {
		t.Error("logout should destroy the session")
	}
	if got := f.events.named(audit.EventLogout); len(got) != 1 {
		t.Errorf("expected 1 logout event, have %d", len(got))
	}

	if err := f.svc.Logout(context.Background(), "garbage", client("10.0.0.1")); !errors.Is(err, session.ErrInvalidHandle) {
		t.Errorf("Logout(garbage) = %v, want ErrInvalidHandle", err)
	}
}

func TestRegister(t *testing.T) {
	f := newServiceFixture(t)

	account, verrs, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:           "New.Registrar@School.example",
		Password:        "Sunrise42",
		ConfirmPassword: "Sunrise42",
		Role:            authz.RoleRegistrar,
	})
	if err != nil || len(verrs) != 0 {
		t.Fatalf("Register failed: err=%v verrs=%v", err, verrs)
	}
	if account.Email != "new.registrar@school.example" {
		t.Errorf("email not normalized: %q", account.Email)
	}
	if account.Role != authz.RoleRegistrar {
		t.Errorf("role = %q", account.Role)
	}

	// The stored hash verifies and is not the raw password
	id, _ := uuid.Parse(account.ID)
	stored, _ := f.accounts.GetByID(context.Background(), id)
	if stored.PasswordHash == "Sunrise42" {
		t.Fatal("password stored in the clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Sunrise42")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{
			"weak password",
			RegisterRequest{Email: "a@school.example", Password: "alllower1", ConfirmPassword: "alllower1", Role: authz.RoleAdmin},
			"password",
		},
		{
			"mismatched confirmation",
			RegisterRequest{Email: "a@school.example", Password: "Sunrise42", ConfirmPassword: "Sunset42", Role: authz.RoleAdmin},
			"confirm_password",
		},
		{
			"unknown role",
			RegisterRequest{Email: "a@school.example", Password: "Sunrise42", ConfirmPassword: "Sunrise42", Role: "janitor"},
			"role",
		},
		{
			"malformed email",
			RegisterRequest{Email: "not-an-email", Password: "Sunrise42", ConfirmPassword: "Sunrise42", Role: authz.RoleAdmin},
			"email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, verrs, err := f.svc.Register(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Register errored: %v", err)
			}
			if account != nil {
				t.Fatal("invalid registration must not create an account")
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a %q validation error, have %v", tt.field, verrs)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	_, verrs, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:           "HEAD@school.example",
		Password:        "Sunrise42",
		ConfirmPassword: "Sunrise42",
		Role:            authz.RoleAdmin,
	})
	if len(verrs) != 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("Register = %v, want ErrEmailExists", err)
	}
}

func TestGetProfile(t *testing.T) {
	f := newServiceFixture(t)
	account := f.seedAccount(t, "head@school.example", "Password1", authz.RoleAdmin)

	got, err := f.svc.GetProfile(context.Background(), account.ID.String())
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.Email != "head@school.example" || got.Role != authz.RoleAdmin {
		t.Errorf("unexpected profile: %+v", got)
	}

	if _, err := f.svc.GetProfile(context.Background(), uuid.NewString()); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account = %v, want ErrAccountNotFound", err)
	}
	if _, err := f.svc.GetProfile(context.Background(), "not-a-uuid"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("malformed id = %v, want ErrAccountNotFound", err)
	}
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appctx "github.com/schoolworks/admincore/internal/context"
	"github.com/schoolworks/admincore/internal/csrf"
	"github.com/schoolworks/admincore/internal/metrics"
	"github.com/schoolworks/admincore/internal/session"
)

// SessionCookieName is the cookie carrying the signed session handle
const SessionCookieName = "admincore_session"

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// Handler handles HTTP requests for authentication endpoints
type Handler struct {
	service *Service
	guard   *csrf.Guard
	secure  bool
}

// NewHandler creates a new Handler instance. secure controls the Secure flag
// on session cookies and should only be false in local development.
func NewHandler(service *Service, guard *csrf.Guard, secure bool) *Handler {
	return &Handler{service: service, guard: guard, secure: secure}
}

// Login handles credential verification
// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	client := ClientInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}

	result, err := h.service.Login(r.Context(), req, client)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid email or password format", nil)
		case errors.Is(err, ErrInvalidCredentials):
			metrics.LoginAttempts.WithLabelValues("failed").Inc()
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
		case errors.Is(err, ErrAccountLocked):
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			h.writeError(w, http.StatusUnauthorized, CodeAccountLocked, "Account temporarily locked. Please try again later.", retryDetails(result))
		case errors.Is(err, ErrTooManyAttempts):
			metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
			h.writeError(w, http.StatusTooManyRequests, CodeTooManyAttempts, "Too many failed login attempts. Please try again later.", retryDetails(result))
		default:
			h.writeError(w, http.StatusInternalServerError, CodeLoginFailed, "Login failed, try again", nil)
		}
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	h.setSessionCookie(w, result.Handle)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account": result.Account,
	})
}

// Logout destroys the current session
// POST /api/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "No active session", nil)
		return
	}

	client := ClientInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Method:    r.Method,
	}

	if err := h.service.Logout(r.Context(), cookie.Value, client); err != nil {
		if errors.Is(err, session.ErrInvalidHandle) {
			h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "Invalid session", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, CodeLoginFailed, "An unexpected error occurred", nil)
		return
	}

	h.clearSessionCookie(w)
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// Register creates a new account
// POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	account, validationErrors, err := h.service.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			h.writeError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"account": account,
	})
}

// GetMe returns the authenticated account's profile
// GET /api/v1/auth/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "Authentication required", nil)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), identity.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account": profile,
	})
}

// IssueCSRF issues the anti-forgery token for the current session
// GET /api/v1/auth/csrf
func (h *Handler) IssueCSRF(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok || identity.SessionID == "" {
		h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "Authentication required", nil)
		return
	}

	sessionID, err := parseUUID(identity.SessionID)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "Authentication required", nil)
		return
	}

	token, err := h.guard.IssueToken(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"csrf_token": token,
	})
}

// setSessionCookie attaches the session handle to the response
func (h *Handler) setSessionCookie(w http.ResponseWriter, handle string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    handle,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// retryDetails renders a time-to-retry hint in seconds
func retryDetails(result *LoginResult) map[string][]string {
	if result == nil || result.RetryAfter <= 0 {
		return nil
	}
	seconds := int(result.RetryAfter.Round(time.Second).Seconds())
	return map[string][]string{
		"retry_after": {strconv.Itoa(seconds)},
	}
}

// parseUUID wraps uuid parsing for identity fields
func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// clientIP extracts the client IP address from the request
func clientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

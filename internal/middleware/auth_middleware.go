// Package middleware provides the request-level security gates: session
// validation, permission checks, CSRF protection and threat inspection.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/auth"
	"github.com/schoolworks/admincore/internal/authz"
	appctx "github.com/schoolworks/admincore/internal/context"
	"github.com/schoolworks/admincore/internal/metrics"
	"github.com/schoolworks/admincore/internal/repository"
	"github.com/schoolworks/admincore/internal/session"
)

// sessionKey is the middleware-private context key for the validated session
// record, so the CSRF gate can verify without a second storage lookup
type sessionKeyType struct{}

var sessionKey sessionKeyType

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionMiddleware validates session handles on authenticated routes
type SessionMiddleware struct {
	manager  *session.Manager
	checker  *authz.Checker
	recorder *audit.Recorder
	logger   *slog.Logger
	secure   bool
}

// NewSessionMiddleware creates a new SessionMiddleware instance
func NewSessionMiddleware(manager *session.Manager, checker *authz.Checker, recorder *audit.Recorder, logger *slog.Logger, secure bool) *SessionMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionMiddleware{manager: manager, checker: checker, recorder: recorder, logger: logger, secure: secure}
}

// RequireSession validates the session cookie, refreshes activity, applies
// identifier rotation, and injects the identity into the request context.
// An expired or invalid session yields 401 and the caller must treat the
// identity as logged out.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Authentication required")
			return
		}

		record, newHandle, err := m.manager.Validate(r.Context(), cookie.Value)
		if err != nil {
			m.clearCookie(w)
			switch {
			case errors.Is(err, session.ErrSessionExpired):
				metrics.SessionExpirations.Inc()
				m.recorder.Record(r.Context(), audit.Entry{
					Event:     audit.EventSessionExpired,
					IPAddress: clientIP(r),
					UserAgent: r.UserAgent(),
					Path:      r.URL.Path,
					Method:    r.Method,
				})
				writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Session expired, please log in again")
			case errors.Is(err, session.ErrInvalidHandle):
				writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Authentication required")
			default:
				// Storage failure degrades to authentication failure
				m.logger.Error("session validation storage failure", "error", err)
				writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Authentication required")
			}
			return
		}

		if newHandle != "" {
			metrics.SessionRotations.Inc()
			http.SetCookie(w, &http.Cookie{
				Name:     auth.SessionCookieName,
				Value:    newHandle,
				Path:     "/",
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := appctx.WithIdentity(r.Context(), appctx.Identity{
			AccountID: record.AccountID.String(),
			Role:      record.Role,
			SessionID: record.ID.String(),
		})
		ctx = context.WithValue(ctx, sessionKey, record)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission gates a route on the authorization model. Default is
// deny: no identity, unknown role or missing grant all yield 403.
func (m *SessionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := appctx.ExtractIdentity(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Authentication required")
				return
			}

			if !m.checker.HasPermission(identity.Role, permission) {
				metrics.PermissionDenials.Inc()
				writeError(w, http.StatusForbidden, auth.CodeForbidden, "You do not have permission to perform this action")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext returns the validated session record injected by
// RequireSession
func SessionFromContext(ctx context.Context) (*repository.Session, bool) {
	record, ok := ctx.Value(sessionKey).(*repository.Session)
	return record, ok
}

// clearCookie expires the session cookie
func (m *SessionMiddleware) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// clientIP extracts the client IP address from the request
func clientIP(r *http.Request) string {
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

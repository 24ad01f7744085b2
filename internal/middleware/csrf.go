package middleware

import (
	"net/http"

	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/auth"
	"github.com/schoolworks/admincore/internal/csrf"
	"github.com/schoolworks/admincore/internal/metrics"
)

// CSRFHeaderName carries the anti-forgery token on state-changing requests
const CSRFHeaderName = "X-CSRF-Token"

// csrfFormField is the fallback for classic form posts
const csrfFormField = "csrf_token"

// CSRFMiddleware enforces anti-forgery tokens on state-changing requests.
// It must run inside RequireSession, which provides the session record.
type CSRFMiddleware struct {
	guard    *csrf.Guard
	recorder *audit.Recorder
}

// NewCSRFMiddleware creates a new CSRFMiddleware instance
func NewCSRFMiddleware(guard *csrf.Guard, recorder *audit.Recorder) *CSRFMiddleware {
	return &CSRFMiddleware{guard: guard, recorder: recorder}
}

// Protect rejects any non-idempotent request whose supplied token does not
// match the session's current token. The rejection is fatal to the request:
// a security event is written and no retry guidance is given.
func (m *CSRFMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isIdempotent(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		record, ok := SessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, auth.CodeSessionInvalid, "Authentication required")
			return
		}

		supplied := r.Header.Get(CSRFHeaderName)
		if supplied == "" {
			supplied = r.PostFormValue(csrfFormField)
		}

		if !m.guard.Verify(record, supplied) {
			metrics.CSRFRejections.Inc()
			m.recorder.Record(r.Context(), audit.Entry{
				Event:     audit.EventCSRFRejected,
				AccountID: &record.AccountID,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
				Method:    r.Method,
			})
			writeError(w, http.StatusForbidden, auth.CodeForbidden, "Request could not be verified")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isIdempotent reports whether the method never changes state
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

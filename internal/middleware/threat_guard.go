package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/schoolworks/admincore/internal/audit"
	"github.com/schoolworks/admincore/internal/metrics"
	"github.com/schoolworks/admincore/internal/ratelimit"
	"github.com/schoolworks/admincore/internal/threat"
)

// suspiciousKeyPrefix namespaces the rate-limit counter for clients that
// triggered a detection
const suspiciousKeyPrefix = "ip:"

// maxInspectBody caps how much request body the detector reads
const maxInspectBody = 64 << 10

// ThreatGuard inspects inbound request data before any handler runs. A
// suspicious request is logged and budgeted: clients that keep sending
// attack-shaped payloads are cut off with 429 and no further processing.
type ThreatGuard struct {
	detector    *threat.Detector
	limiter     *ratelimit.Limiter
	recorder    *audit.Recorder
	maxAttempts int
	window      time.Duration
}

// NewThreatGuard creates a new ThreatGuard instance
func NewThreatGuard(detector *threat.Detector, limiter *ratelimit.Limiter, recorder *audit.Recorder, maxAttempts int, window time.Duration) *ThreatGuard {
	return &ThreatGuard{
		detector:    detector,
		limiter:     limiter,
		recorder:    recorder,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Handler inspects query, body and user agent. On a positive match the
// event is recorded and the strict per-IP budget is spent; once exhausted
// the request is rejected outright.
func (g *ThreatGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := threat.Payload{
			Values:    collectValues(r),
			UserAgent: r.UserAgent(),
		}

		result := g.detector.Inspect(payload)
		if !result.Suspicious {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		metrics.ThreatDetections.Inc()
		g.recorder.Record(r.Context(), audit.Entry{
			Event:     audit.EventThreatDetected,
			IPAddress: ip,
			UserAgent: r.UserAgent(),
			Path:      r.URL.Path,
			Method:    r.Method,
			Details:   map[string]any{"reasons": result.Reasons},
		})

		key := suspiciousKeyPrefix + ip
		if !g.limiter.Allow(key, g.maxAttempts, g.window) {
			metrics.ThreatRejections.Inc()
			g.recorder.Record(r.Context(), audit.Entry{
				Event:     audit.EventThreatRateLimited,
				IPAddress: ip,
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
				Method:    r.Method,
			})
			retry := int(g.limiter.RetryAfter(key, g.window) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many requests")
			return
		}

		// Flagged but still within budget: serve the request and surface how
		// much budget is left
		w.Header().Set("X-RateLimit-Remaining",
			strconv.Itoa(g.limiter.Remaining(key, g.maxAttempts, g.window)))
		next.ServeHTTP(w, r)
	})
}

// collectValues flattens everything the client supplied: path, query keys
// and values, and the request body. The body is restored for downstream
// handlers.
func collectValues(r *http.Request) []string {
	values := []string{r.URL.Path, r.URL.RawQuery}

	for key, vals := range r.URL.Query() {
		values = append(values, key)
		values = append(values, vals...)
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectBody))
		if err == nil && len(body) > 0 {
			values = append(values, string(body))
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		}
	}

	return values
}

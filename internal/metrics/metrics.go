// Package metrics provides Prometheus metrics for the security core.
package metrics

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttempts counts login outcomes by result
	// (success, failed, locked, rate_limited)
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AccountLockouts counts lockout transitions
	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Total number of account lockout transitions",
		},
	)

	// SessionExpirations counts sessions rejected for idling past the timeout
	SessionExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "session",
			Name:      "expirations_total",
			Help:      "Total number of sessions invalidated by idle timeout",
		},
	)

	// SessionRotations counts session identifier rotations
	SessionRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Total number of session identifier rotations",
		},
	)

	// CSRFRejections counts requests rejected by the anti-forgery gate
	CSRFRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "security",
			Name:      "csrf_rejections_total",
			Help:      "Total number of requests rejected by CSRF verification",
		},
	)

	// ThreatDetections counts suspicious requests flagged by the detector
	ThreatDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "security",
			Name:      "threat_detections_total",
			Help:      "Total number of requests flagged by the threat detector",
		},
	)

	// ThreatRejections counts suspicious requests cut off by the strict budget
	ThreatRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "security",
			Name:      "threat_rejections_total",
			Help:      "Total number of suspicious requests rejected by rate limiting",
		},
	)

	// PermissionDenials counts authorization refusals
	PermissionDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "admincore",
			Subsystem: "security",
			Name:      "permission_denials_total",
			Help:      "Total number of requests denied by the authorization model",
		},
	)
)

// RegisterRoutes mounts the Prometheus metrics endpoint
func RegisterRoutes(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}

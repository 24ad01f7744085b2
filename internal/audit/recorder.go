// Package audit records security events. Events are append-only: written on
// every security-relevant rejection and on successful logins, never mutated.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/schoolworks/admincore/internal/alerts"
	"github.com/schoolworks/admincore/internal/repository"
)

// Event names
const (
	EventLoginSuccess      = "login.success"
	EventLoginFailed       = "login.failed"
	EventLoginLocked       = "login.locked"
	EventLoginRateLimited  = "login.rate_limited"
	EventLoginUnknownEmail = "login.unknown_email"
	EventLogout            = "logout"
	EventSessionExpired    = "session.expired"
	EventCSRFRejected      = "csrf.rejected"
	EventThreatDetected    = "threat.detected"
	EventThreatRateLimited = "threat.rate_limited"
	EventStorageFailure    = "storage.failure"
)

// Entry describes one security event before persistence
type Entry struct {
	Event     string
	AccountID *uuid.UUID
	Email     string
	IPAddress string
	UserAgent string
	Path      string
	Method    string
	Details   map[string]any
}

// Recorder persists security events and mirrors them to the structured log
// and, when a feed is attached, to in-process alert subscribers. A storage
// failure while recording is itself logged but never fails the request being
// audited.
type Recorder struct {
	events repository.SecurityEventRepository
	feed   *alerts.Feed
	logger *slog.Logger
}

// NewRecorder creates a new Recorder instance. feed may be nil when no
// in-process subscribers exist.
func NewRecorder(events repository.SecurityEventRepository, feed *alerts.Feed, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{events: events, feed: feed, logger: logger}
}

// Record writes the entry to the event store and the log
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	event := &repository.SecurityEvent{
		Event:     entry.Event,
		AccountID: entry.AccountID,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Path:      entry.Path,
		Method:    entry.Method,
		Details:   entry.Details,
	}
	if entry.Email != "" {
		email := entry.Email
		event.Email = &email
	}

	if r.feed != nil {
		alert := alerts.Alert{
			Event:     entry.Event,
			Email:     entry.Email,
			IPAddress: entry.IPAddress,
			At:        time.Now(),
			Details:   entry.Details,
		}
		if entry.AccountID != nil {
			alert.AccountID = entry.AccountID.String()
		}
		r.feed.Publish(alert)
	}

	if r.events != nil {
		if err := r.events.Append(ctx, event); err != nil {
			r.logger.Error("failed to persist security event",
				"event", entry.Event,
				"error", err,
			)
		}
	}

	attrs := []any{
		"event", entry.Event,
		"ip", entry.IPAddress,
		"path", entry.Path,
		"method", entry.Method,
	}
	if entry.Email != "" {
		attrs = append(attrs, "email", entry.Email)
	}
	if entry.AccountID != nil {
		attrs = append(attrs, "account_id", entry.AccountID.String())
	}
	for k, v := range entry.Details {
		attrs = append(attrs, k, v)
	}

	switch entry.Event {
	case EventLoginSuccess, EventLogout:
		r.logger.Info("security event", attrs...)
	default:
		r.logger.Warn("security event", attrs...)
	}
}

// Package context carries the authenticated identity through request scope.
// Core operations receive identity explicitly; nothing in this module reads
// ambient globals.
package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID
	AccountIDKey ContextKey = "account_id"
	// EmailKey is the context key for the account email
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the account role
	RoleKey ContextKey = "role"
	// SessionIDKey is the context key for the session record ID
	SessionIDKey ContextKey = "session_id"
)

// Identity is the authenticated principal attached to a request
type Identity struct {
	AccountID string
	Email     string
	Role      string
	SessionID string
}

// WithIdentity attaches the authenticated identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, AccountIDKey, id.AccountID)
	ctx = context.WithValue(ctx, EmailKey, id.Email)
	ctx = context.WithValue(ctx, RoleKey, id.Role)
	return context.WithValue(ctx, SessionIDKey, id.SessionID)
}

// ExtractIdentity extracts the full identity from the request context
func ExtractIdentity(ctx context.Context) (Identity, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(string)
	if !ok || accountID == "" {
		return Identity{}, false
	}
	email, _ := ctx.Value(EmailKey).(string)
	role, _ := ctx.Value(RoleKey).(string)
	sessionID, _ := ctx.Value(SessionIDKey).(string)
	return Identity{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		SessionID: sessionID,
	}, true
}

// ExtractAccountID extracts the account ID from the request context
func ExtractAccountID(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(string)
	return accountID, ok
}

// ExtractRole extracts the role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

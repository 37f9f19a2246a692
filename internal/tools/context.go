package tools

import "context"

type contextKey string

const scopeKey contextKey = "turn_scope"

// Scope identifies the user and session a tool call executes for.
type Scope struct {
	UserID    string
	SessionID string
}

// WithScope attaches the turn's user/session scope to the context so
// handlers can address per-user storage.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext extracts the turn scope. Returns the zero Scope if
// none was set.
func ScopeFromContext(ctx context.Context) Scope {
	if s, ok := ctx.Value(scopeKey).(Scope); ok {
		return s
	}
	return Scope{}
}

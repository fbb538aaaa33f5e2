// Package middleware provides the request-context helpers shared by the HTTP
// layer and anything embedding DevopsMate: the authenticated identity and
// the scope a request targets.
package middleware

import "context"

type contextKey string

const scopeKey contextKey = "scope"

// GetScope extracts the requested scope from the context, or "".
func GetScope(ctx context.Context) string {
	if v, ok := ctx.Value(scopeKey).(string); ok {
		return v
	}
	return ""
}

// SetScope stores the requested scope in the context.
func SetScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

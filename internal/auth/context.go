// ABOUTME: Request-context carrier for the authenticated identity
// ABOUTME: Set by the auth middlewares, read by handlers that need the caller

package auth

import "context"

type contextKey struct{}

// WithUser returns a context carrying the authenticated username
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKey{}, username)
}

// UserFromContext returns the authenticated username, or "" if the request
// was authenticated by something other than a user session (API key, webhook
// secret) or not at all.
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(contextKey{}).(string); ok {
		return u
	}
	return ""
}

package auth

import (
	"context"
)

type contextKey int

const authContextKey contextKey = iota

// AuthContext is what a protected operation receives after authorization
// succeeded: the verified claims and the permission that was required.
type AuthContext struct {
	Claims     *Claims
	Permission string
}

// Subject returns the token subject.
func (a *AuthContext) Subject() string {
	if a == nil || a.Claims == nil {
		return ""
	}
	return a.Claims.Subject
}

// WithAuthContext returns a new context carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// AuthContextFromContext retrieves the AuthContext.
// Returns nil if the request was not authorized through a Guard.
func AuthContextFromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey).(*AuthContext)
	return ac
}

// SubjectFromContext returns the authorized subject, or "".
func SubjectFromContext(ctx context.Context) string {
	return AuthContextFromContext(ctx).Subject()
}

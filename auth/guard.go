package auth

import (
	"context"
	"errors"

	"github.com/jonwraymond/gatekeeper/observe"
)

// TokenVerifier turns a raw bearer token into verified claims.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: failures should be *AuthFailure values; anything else is
//     reported as invalid claims.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

// Guard is the single authorization entry point for protected operations.
// It holds no per-request state and is safe for concurrent use.
type Guard struct {
	verifier TokenVerifier
	inst     *observe.Instrumentation
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithInstrumentation records spans, metrics and logs for every decision.
func WithInstrumentation(inst *observe.Instrumentation) GuardOption {
	return func(g *Guard) {
		g.inst = inst.Normalize()
	}
}

// NewGuard creates a guard over verifier.
func NewGuard(verifier TokenVerifier, opts ...GuardOption) *Guard {
	g := &Guard{
		verifier: verifier,
		inst:     observe.NoopInstrumentation(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize extracts the bearer token from headers, verifies it, and checks
// permission. The first failure is returned; a permission is never checked
// against claims that failed verification. An empty permission requires
// authentication only.
func (g *Guard) Authorize(ctx context.Context, headers map[string][]string, permission string) (*AuthContext, error) {
	var ac *AuthContext

	d := g.inst.Decide(ctx, permission, func(ctx context.Context) observe.Decision {
		claims, err := g.verify(ctx, headers)
		if err != nil {
			f := toFailure(err)
			return observe.Decision{
				Outcome: string(f.Code),
				Err:     f,
				Severe:  f.Code == CodeKeySetUnavailable,
			}
		}
		if err := CheckPermission(permission, claims); err != nil {
			f := toFailure(err)
			return observe.Decision{Subject: claims.Subject, Outcome: string(f.Code), Err: f}
		}
		ac = &AuthContext{Claims: claims, Permission: permission}
		return observe.Decision{Subject: ac.Subject(), Outcome: observe.OutcomeAllow}
	})

	if d.Err != nil {
		return nil, d.Err
	}
	return ac, nil
}

func (g *Guard) verify(ctx context.Context, headers map[string][]string) (*Claims, error) {
	raw, err := ExtractBearerToken(headers)
	if err != nil {
		return nil, err
	}
	claims, err := g.verifier.Verify(ctx, raw)
	if err == nil && claims == nil {
		err = ErrInvalidClaims
	}
	return claims, err
}

// toFailure guarantees callers only ever see *AuthFailure values.
func toFailure(err error) *AuthFailure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKeySetUnavailable.WithCause(err)
	}
	return ErrInvalidClaims.WithCause(err)
}

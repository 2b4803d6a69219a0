package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAlgorithms is the accepted signing algorithm list when none is configured.
var DefaultAlgorithms = []string{"RS256"}

// VerifierConfig configures a JWTVerifier.
type VerifierConfig struct {
	// Issuer is the expected iss claim, e.g. "https://tenant.auth0.com/".
	Issuer string

	// Audience is the API identifier that must appear in aud.
	Audience string

	// Algorithms lists accepted signing algorithms. Only asymmetric RSA
	// algorithms can be satisfied by the key set.
	// Default: RS256
	Algorithms []string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// Keys resolves the token's kid.
	Keys KeyProvider
}

// JWTVerifier verifies RSA-signed access tokens against a key provider.
type JWTVerifier struct {
	keys   KeyProvider
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. Issuer, Audience and Keys are required.
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	if cfg.Keys == nil {
		return nil, errors.New("auth: key provider is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("auth: audience is required")
	}
	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	for _, alg := range algs {
		if !isRSAAlgorithm(alg) {
			return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &JWTVerifier{
		keys:   cfg.Keys,
		parser: jwt.NewParser(opts...),
	}, nil
}

func isRSAAlgorithm(alg string) bool {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		return true
	default:
		return false
	}
}

// Verify checks the token and returns its claims.
//
// The header is decoded first to find the kid; the key is then resolved,
// the signature checked, and only then are exp, iss and aud validated.
// Failures are *AuthFailure values; key provider failures pass through
// unchanged.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	unverified, _, err := v.parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, mapTokenError(err)
	}
	if kid, _ := unverified.Header["kid"].(string); kid == "" {
		return nil, ErrMalformedToken.WithDescription("Token header has no key id.")
	}

	mc := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(raw, mc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.GetKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, ErrInvalidSignature.WithDescription("Token algorithm does not match the signing key.")
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, mapTokenError(err)
	}

	claims, err := claimsFromMap(mc)
	if err != nil {
		return nil, ErrInvalidClaims.WithCause(err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidClaims.WithDescription("Token has no subject.")
	}
	return claims, nil
}

// mapTokenError converts jwt errors to failures. Expiry is checked before
// the generic claims bucket so an expired token with a bad audience still
// reports token_expired.
func mapTokenError(err error) error {
	if f, ok := AsFailure(err); ok {
		return f
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken.WithCause(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature.WithCause(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired.WithCause(err)
	default:
		return ErrInvalidClaims.WithCause(err)
	}
}

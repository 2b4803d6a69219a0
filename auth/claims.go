package auth

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified payload of an access token. It is only built by
// JWTVerifier after the signature, expiry, issuer and audience have all
// been checked, and must be treated as read-only.
type Claims struct {
	Issuer          string
	Subject         string
	Audience        []string
	ExpiresAt       time.Time
	IssuedAt        time.Time // zero when the token carries no iat
	AuthorizedParty string
	Scope           string

	// Permissions is nil when the token has no permissions claim at all,
	// and empty when the claim is present but grants nothing.
	Permissions []string
}

// HasPermissionsClaim reports whether the token carried a permissions claim.
func (c *Claims) HasPermissionsClaim() bool {
	return c != nil && c.Permissions != nil
}

// HasPermission reports whether permission is granted. Matching is exact.
func (c *Claims) HasPermission(permission string) bool {
	return c != nil && slices.Contains(c.Permissions, permission)
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(c.Scope)
}

// claimsPayload is the typed view of the token body. Decoding a map that
// jwt has already validated into it turns wrong-typed members into errors.
type claimsPayload struct {
	jwt.RegisteredClaims
	AuthorizedParty string   `json:"azp,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	Permissions     []string `json:"permissions"`
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var p claimsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	c := &Claims{
		Issuer:          p.Issuer,
		Subject:         p.Subject,
		Audience:        []string(p.Audience),
		AuthorizedParty: p.AuthorizedParty,
		Scope:           p.Scope,
		Permissions:     p.Permissions,
	}
	if p.ExpiresAt != nil {
		c.ExpiresAt = p.ExpiresAt.Time
	}
	if p.IssuedAt != nil {
		c.IssuedAt = p.IssuedAt.Time
	}
	return c, nil
}

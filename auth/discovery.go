package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IssuerForDomain returns the issuer URL for a tenant domain such as
// "example.eu.auth0.com". The trailing slash is significant.
func IssuerForDomain(domain string) string {
	return "https://" + strings.TrimSuffix(domain, "/") + "/"
}

// KeySetURLForDomain returns the well-known JWKS URL for a tenant domain.
func KeySetURLForDomain(domain string) string {
	return IssuerForDomain(domain) + ".well-known/jwks.json"
}

// DiscoverKeySetURL reads the issuer's OpenID configuration and returns its
// jwks_uri. The document's issuer must equal issuer exactly.
func DiscoverKeySetURL(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("auth: discover %s: %w", issuer, err)
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("auth: decode discovery document: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", errors.New("auth: discovery document has no jwks_uri")
	}
	return meta.JWKSURL, nil
}

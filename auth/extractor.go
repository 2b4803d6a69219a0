package auth

import (
	"net/http"
	"strings"
)

const headerAuthorization = "Authorization"

// ExtractBearerToken returns the raw token from an "Authorization: Bearer
// <token>" header.
//
// headers may come from net/http (canonical keys) or from any other
// transport; the header name is matched case-insensitively. Only the first
// value of the header is considered.
func ExtractBearerToken(headers map[string][]string) (string, error) {
	value, ok := authorizationValue(headers)
	if !ok {
		return "", ErrHeaderMissing
	}

	parts := strings.Fields(value)
	switch {
	case len(parts) == 0:
		return "", ErrInvalidHeader.WithDescription("Authorization header is empty.")
	case !strings.EqualFold(parts[0], "bearer"):
		return "", ErrInvalidHeader.WithDescription(`Authorization header must start with "Bearer".`)
	case len(parts) == 1:
		return "", ErrInvalidHeader.WithDescription("Token not found.")
	case len(parts) > 2:
		return "", ErrInvalidHeader
	}
	return parts[1], nil
}

func authorizationValue(headers map[string][]string) (string, bool) {
	if v, ok := headers[headerAuthorization]; ok && len(v) > 0 {
		return v[0], true
	}
	for k, v := range headers {
		if strings.EqualFold(k, headerAuthorization) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// BearerTokenFromRequest is ExtractBearerToken for an *http.Request.
func BearerTokenFromRequest(r *http.Request) (string, error) {
	return ExtractBearerToken(r.Header)
}

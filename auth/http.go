package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON body written for a failed authorization.
type ErrorBody struct {
	Code        FailureCode `json:"code"`
	Description string      `json:"description"`
}

// Require returns middleware that authorizes each request for permission
// and passes the AuthContext downstream via the request context. An empty
// permission requires authentication only.
func (g *Guard) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Protect(permission, next)
	}
}

// Protect wraps a single handler.
func (g *Guard) Protect(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := g.Authorize(r.Context(), r.Header, permission)
		if err != nil {
			WriteFailure(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// WriteFailure renders err as {"code","description"} with the failure's
// status. 401 responses carry a Bearer challenge. Causes are never written.
func WriteFailure(w http.ResponseWriter, err error) {
	f := toFailure(err)
	status := f.Status
	if status == 0 {
		status = f.Code.Status()
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", bearerChallenge(f))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: f.Code, Description: f.Description})
}

// bearerChallenge builds an RFC 6750 challenge. A request without
// credentials gets a bare challenge.
func bearerChallenge(f *AuthFailure) string {
	var code string
	switch f.Code {
	case CodeHeaderMissing:
		return "Bearer"
	case CodeInvalidHeader:
		code = "invalid_request"
	case CodePermissionDenied:
		code = "insufficient_scope"
	default:
		code = "invalid_token"
	}
	return "Bearer error=" + strconv.Quote(code) + ", error_description=" + strconv.Quote(f.Description)
}

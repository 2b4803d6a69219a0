package auth

import (
	"errors"
	"net/http"
)

// FailureCode identifies one kind of authentication or authorization failure.
// The set is closed; the string values are part of the HTTP error body.
type FailureCode string

const (
	CodeHeaderMissing           FailureCode = "authorization_header_missing"
	CodeInvalidHeader           FailureCode = "invalid_header"
	CodeMalformedToken          FailureCode = "malformed_token"
	CodeKeyNotFound             FailureCode = "key_not_found"
	CodeKeySetUnavailable       FailureCode = "key_set_unavailable"
	CodeInvalidSignature        FailureCode = "invalid_signature"
	CodeTokenExpired            FailureCode = "token_expired"
	CodeInvalidClaims           FailureCode = "invalid_claims"
	CodePermissionsClaimMissing FailureCode = "permissions_claim_missing"
	CodePermissionDenied        FailureCode = "unauthorized"
)

// Status returns the HTTP status for the code. Only request-shaped problems
// (an undecodable token, a token minted without permissions) are 400.
func (c FailureCode) Status() int {
	switch c {
	case CodeMalformedToken, CodePermissionsClaimMissing:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

// AuthFailure is the error returned by every component in this package.
//
// errors.Is matches on Code, so callers compare against the sentinels:
//
//	if errors.Is(err, auth.ErrTokenExpired) { ... }
type AuthFailure struct {
	Code        FailureCode
	Description string
	Status      int

	// Cause is the underlying error, if any. It is never rendered to clients.
	Cause error
}

func (f *AuthFailure) Error() string {
	msg := "auth: " + string(f.Code) + ": " + f.Description
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *AuthFailure) Unwrap() error { return f.Cause }

// Is reports whether target is an *AuthFailure with the same Code.
func (f *AuthFailure) Is(target error) bool {
	t, ok := target.(*AuthFailure)
	return ok && t.Code == f.Code
}

// WithCause returns a copy of f carrying cause.
func (f *AuthFailure) WithCause(cause error) *AuthFailure {
	out := *f
	out.Cause = cause
	return &out
}

// WithDescription returns a copy of f with a more specific description.
func (f *AuthFailure) WithDescription(desc string) *AuthFailure {
	out := *f
	out.Description = desc
	return &out
}

func newFailure(code FailureCode, desc string) *AuthFailure {
	return &AuthFailure{Code: code, Description: desc, Status: code.Status()}
}

// Sentinel failures. Returned values are copies (see WithCause), so compare
// with errors.Is, never ==.
var (
	ErrHeaderMissing           = newFailure(CodeHeaderMissing, "Authorization header is expected.")
	ErrInvalidHeader           = newFailure(CodeInvalidHeader, "Authorization header must be a bearer token.")
	ErrMalformedToken          = newFailure(CodeMalformedToken, "Unable to parse authentication token.")
	ErrKeyNotFound             = newFailure(CodeKeyNotFound, "Unable to find the appropriate key.")
	ErrKeySetUnavailable       = newFailure(CodeKeySetUnavailable, "Unable to fetch signing keys.")
	ErrInvalidSignature        = newFailure(CodeInvalidSignature, "Token signature is invalid.")
	ErrTokenExpired            = newFailure(CodeTokenExpired, "Token expired.")
	ErrInvalidClaims           = newFailure(CodeInvalidClaims, "Incorrect claims. Please, check the audience and issuer.")
	ErrPermissionsClaimMissing = newFailure(CodePermissionsClaimMissing, "Permissions not included in JWT.")
	ErrPermissionDenied        = newFailure(CodePermissionDenied, "Permission not found.")
)

// AsFailure extracts the *AuthFailure from err's chain.
func AsFailure(err error) (*AuthFailure, bool) {
	var f *AuthFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

package auth

import "fmt"

// CheckPermission gates on a single permission. An empty permission means
// authentication only and always passes. Otherwise a token without a
// permissions claim fails ErrPermissionsClaimMissing, and one whose claim
// lacks permission fails ErrPermissionDenied.
func CheckPermission(permission string, claims *Claims) error {
	if permission == "" {
		return nil
	}
	if !claims.HasPermissionsClaim() {
		return ErrPermissionsClaimMissing
	}
	if !claims.HasPermission(permission) {
		return ErrPermissionDenied.WithCause(fmt.Errorf("missing %q", permission))
	}
	return nil
}

// Package auth authenticates bearer tokens issued by an external identity
// provider and enforces permission-based access control.
//
// The pieces compose as:
//
//	Guard.Authorize
//	  -> ExtractBearerToken   (Authorization header)
//	  -> JWTVerifier.Verify   (kid lookup, signature, exp/iss/aud)
//	       -> KeySetCache.GetKey (cached JWKS, single-flight refresh)
//	  -> CheckPermission      (permissions claim)
//
// Every failure is an *AuthFailure with a stable code and HTTP status;
// compare with errors.Is against the Err* sentinels. Require and Protect
// adapt a Guard to net/http, and WriteFailure renders failures as JSON.
package auth

// Package secret resolves configuration values that must not be written
// into the environment verbatim, such as a Redis URL carrying a password.
//
//	r := secret.DefaultResolver()
//	url, err := r.ResolveValue(ctx, "redis://:secretref:file:/run/secrets/redis_pw@redis:6379/0")
package secret

package cache

import "time"

// Policy bounds the TTLs a cache accepts.
type Policy struct {
	// DefaultTTL is used when Set is called with a non-positive TTL.
	// If zero, such calls store nothing.
	DefaultTTL time.Duration

	// MaxTTL clamps every TTL. If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the policy used for shared key set documents:
// 5 minute default, 1 hour maximum.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// EffectiveTTL returns the TTL to use, applying the default and clamp.
func (p Policy) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

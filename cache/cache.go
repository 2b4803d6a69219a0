package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache stores opaque documents (such as a fetched JWKS body) with a TTL.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: methods should honor cancellation/deadlines where applicable.
//   - Errors: Get never errors; backend failures are reported as a miss.
//   - Ownership: callers must not modify slices passed to Set or returned by Get.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value. Idempotent.
	Delete(ctx context.Context, key string) error
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

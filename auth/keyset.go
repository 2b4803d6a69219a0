package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/gatekeeper/cache"
	"github.com/jonwraymond/gatekeeper/health"
	"github.com/jonwraymond/gatekeeper/observe"
	"github.com/jonwraymond/gatekeeper/resilience"
)

// maxKeySetDocument bounds the JWKS response body.
const maxKeySetDocument = 1 << 20

// KeySetConfig configures a KeySetCache.
type KeySetConfig struct {
	// URL is the JWKS endpoint URL.
	URL string

	// TTL is how long a fetched key set is served before refetching.
	// Default: 5 minutes
	TTL time.Duration

	// FetchTimeout bounds each fetch attempt.
	// Default: 5 seconds
	FetchTimeout time.Duration

	// MaxAttempts is the number of fetch attempts per refresh.
	// Default: 3
	MaxAttempts int

	// RetryDelay is the backoff before the second attempt; it doubles after.
	// Default: 100ms
	RetryDelay time.Duration

	// HTTPClient performs the fetch. Default: a client without an overall
	// timeout (FetchTimeout applies per attempt).
	HTTPClient *http.Client

	// Store is an optional second-tier document cache shared between
	// instances. It is consulted on cold start and TTL expiry only.
	Store cache.Cache

	// MissRefreshLimiter throttles refreshes triggered by an unknown kid.
	// Nil means unlimited.
	MissRefreshLimiter *resilience.RateLimiter

	// CircuitBreaker guards the endpoint across refreshes. Nil disables it.
	CircuitBreaker *resilience.CircuitBreaker

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	Instrumentation *observe.Instrumentation
}

// KeySetStats is a point-in-time view of the cache.
type KeySetStats struct {
	URL        string
	Keys       int
	KeyIDs     []string
	Fetches    int64 // network fetch operations, each possibly several attempts
	Generation uint64
	FetchedAt  time.Time
	ExpiresAt  time.Time
	LastError  error
}

type refreshReason string

const (
	reasonCold    refreshReason = "cold"
	reasonExpired refreshReason = "expired"
	reasonMiss    refreshReason = "unknown_kid"
	reasonForced  refreshReason = "forced"
)

// Key set sources recorded on metrics and spans.
const (
	sourceNetwork = "network"
	sourceStore   = "store"
)

// KeySetCache fetches and caches the provider's JWKS.
//
// The installed *KeySet is swapped wholesale under a write lock, so readers
// see either the old or the new set. All concurrent refreshes share one
// fetch through singleflight. A refresh runs detached from the triggering
// request's cancellation; a caller whose context ends stops waiting but
// does not abort the fetch for the others.
//
// There is no stale fallback: when a refresh fails the caller gets
// ErrKeySetUnavailable even if an expired set is still held.
type KeySetCache struct {
	cfg  KeySetConfig
	inst *observe.Instrumentation

	mu         sync.RWMutex
	keys       *KeySet
	fetchedAt  time.Time
	expiresAt  time.Time
	generation uint64
	fromStore  bool
	lastErr    error

	fetches atomic.Int64
	group   singleflight.Group
}

// NewKeySetCache creates an empty cache. Nothing is fetched until the first
// GetKey or Refresh.
func NewKeySetCache(cfg KeySetConfig) (*KeySetCache, error) {
	if cfg.URL == "" {
		return nil, errors.New("auth: key set URL is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KeySetCache{
		cfg:  cfg,
		inst: cfg.Instrumentation.Normalize(),
	}, nil
}

type keySetSnapshot struct {
	keys       *KeySet
	expiresAt  time.Time
	generation uint64
	fromStore  bool
}

func (c *KeySetCache) snapshot() keySetSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return keySetSnapshot{keys: c.keys, expiresAt: c.expiresAt, generation: c.generation, fromStore: c.fromStore}
}

// GetKey returns the signing key for kid. A cold or expired cache, or an
// unknown kid, triggers a synchronous refresh.
func (c *KeySetCache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	snap := c.snapshot()

	var reason refreshReason
	switch {
	case snap.keys == nil:
		reason = reasonCold
	case !c.cfg.Now().Before(snap.expiresAt):
		reason = reasonExpired
	default:
		if k, ok := snap.keys.Lookup(kid); ok {
			return k, nil
		}
		reason = reasonMiss
	}

	keys, err := c.refresh(ctx, snap.generation, reason)
	if err != nil {
		return SigningKey{}, err
	}
	if k, ok := keys.Lookup(kid); ok {
		return k, nil
	}

	// A stored document may predate a rotation; only the endpoint can
	// answer an unknown kid.
	if after := c.snapshot(); after.fromStore && after.keys == keys {
		keys, err = c.refresh(ctx, after.generation, reasonMiss)
		if err != nil {
			return SigningKey{}, err
		}
		if k, ok := keys.Lookup(kid); ok {
			return k, nil
		}
	}
	return SigningKey{}, ErrKeyNotFound
}

// Refresh fetches the key set now, bypassing the TTL and the store.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, c.snapshot().generation, reasonForced)
	return err
}

// Stats returns a snapshot of the cache state.
func (c *KeySetCache) Stats() KeySetStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return KeySetStats{
		URL:        c.cfg.URL,
		Keys:       c.keys.Len(),
		KeyIDs:     c.keys.KeyIDs(),
		Fetches:    c.fetches.Load(),
		Generation: c.generation,
		FetchedAt:  c.fetchedAt,
		ExpiresAt:  c.expiresAt,
		LastError:  c.lastErr,
	}
}

// refresh joins or starts the shared refresh. observed is the generation
// the caller saw; if a refresh has completed since, its result is reused.
func (c *KeySetCache) refresh(ctx context.Context, observed uint64, reason refreshReason) (*KeySet, error) {
	ch := c.group.DoChan("jwks", func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), observed, reason)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, ErrKeySetUnavailable.WithCause(ctx.Err())
	}
}

func (c *KeySetCache) doRefresh(ctx context.Context, observed uint64, reason refreshReason) (*KeySet, error) {
	snap := c.snapshot()
	if snap.generation != observed && snap.keys != nil {
		return snap.keys, nil
	}

	if reason == reasonMiss && c.cfg.MissRefreshLimiter != nil && !c.cfg.MissRefreshLimiter.Allow() {
		c.inst.Logger.Debug(ctx, "key set refresh throttled",
			observe.F("reason", string(reason)),
		)
		return snap.keys, nil
	}

	if c.cfg.Store != nil && (reason == reasonCold || reason == reasonExpired) {
		if keys, ok := c.loadFromStore(ctx); ok {
			return keys, nil
		}
	}

	return c.fetchAndInstall(ctx, reason)
}

func (c *KeySetCache) fetchAndInstall(ctx context.Context, reason refreshReason) (*KeySet, error) {
	ctx, span := c.inst.Tracer.StartSpan(ctx, observe.SpanKeySetRefresh,
		observe.AttrSource.String(sourceNetwork),
	)
	start := time.Now()
	c.fetches.Add(1)

	raw, keys, err := c.fetch(ctx)
	elapsed := time.Since(start)

	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		c.inst.Tracer.EndSpan(span, "error", err)
		c.inst.Metrics.RecordKeySetRefresh(ctx, sourceNetwork, "error", 0, elapsed)
		c.inst.Logger.Error(ctx, "key set refresh failed",
			observe.F("url", c.cfg.URL),
			observe.F("reason", string(reason)),
			observe.F("error", err),
		)
		return nil, ErrKeySetUnavailable.WithCause(err)
	}

	fetchedAt := c.cfg.Now()
	c.install(keys, fetchedAt, fetchedAt.Add(c.cfg.TTL), false)

	span.SetAttributes(observe.AttrKeyCount.Int(keys.Len()))
	c.inst.Tracer.EndSpan(span, "ok", nil)
	c.inst.Metrics.RecordKeySetRefresh(ctx, sourceNetwork, "ok", keys.Len(), elapsed)
	c.inst.Logger.Info(ctx, "key set refreshed",
		observe.F("url", c.cfg.URL),
		observe.F("reason", string(reason)),
		observe.F("keys", keys.Len()),
	)

	if c.cfg.Store != nil {
		c.saveToStore(ctx, raw, fetchedAt)
	}
	return keys, nil
}

// fetch downloads and parses the document through retry, per-attempt
// timeout, and the optional circuit breaker.
func (c *KeySetCache) fetch(ctx context.Context) ([]byte, *KeySet, error) {
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.RetryDelay,
		Jitter:       true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.inst.Logger.Warn(ctx, "key set fetch attempt failed",
				observe.F("attempt", attempt),
				observe.F("delay_ms", delay.Milliseconds()),
				observe.F("error", err),
			)
		},
	})
	exec := resilience.NewExecutor(
		resilience.WithCircuitBreaker(c.cfg.CircuitBreaker),
		resilience.WithRetry(retry),
		resilience.WithTimeout(c.cfg.FetchTimeout),
	)

	var (
		raw  []byte
		keys *KeySet
	)
	err := exec.Execute(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx)
		if err != nil {
			return err
		}
		parsed, err := ParseKeySet(body)
		if err != nil {
			return err
		}
		raw, keys = body, parsed
		return nil
	})
	return raw, keys, err
}

func (c *KeySetCache) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetDocument))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	return body, nil
}

func (c *KeySetCache) install(keys *KeySet, fetchedAt, expiresAt time.Time, fromStore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = keys
	c.fromStore = fromStore
	c.fetchedAt = fetchedAt
	c.expiresAt = expiresAt
	c.generation++
	c.lastErr = nil
}

// storedKeySet is the document written to the shared store.
type storedKeySet struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Document  json.RawMessage `json:"document"`
}

func (c *KeySetCache) storeKey() string {
	return "jwks:" + c.cfg.URL
}

// loadFromStore installs a still-fresh document from the store. The entry
// keeps its original fetch time so the TTL is not extended by sharing.
func (c *KeySetCache) loadFromStore(ctx context.Context) (*KeySet, bool) {
	data, ok := c.cfg.Store.Get(ctx, c.storeKey())
	if !ok {
		return nil, false
	}

	var stored storedKeySet
	if err := json.Unmarshal(data, &stored); err != nil {
		c.inst.Logger.Warn(ctx, "discarding unreadable stored key set", observe.F("error", err))
		return nil, false
	}

	now := c.cfg.Now()
	age := now.Sub(stored.FetchedAt)
	if age < 0 || age >= c.cfg.TTL {
		return nil, false
	}

	keys, err := ParseKeySet(stored.Document)
	if err != nil {
		c.inst.Logger.Warn(ctx, "discarding invalid stored key set", observe.F("error", err))
		return nil, false
	}

	c.install(keys, stored.FetchedAt, now.Add(c.cfg.TTL-age), true)
	c.inst.Metrics.RecordKeySetRefresh(ctx, sourceStore, "ok", keys.Len(), 0)
	c.inst.Logger.Debug(ctx, "key set loaded from store",
		observe.F("keys", keys.Len()),
		observe.F("age_ms", age.Milliseconds()),
	)
	return keys, true
}

func (c *KeySetCache) saveToStore(ctx context.Context, raw []byte, fetchedAt time.Time) {
	data, err := json.Marshal(storedKeySet{FetchedAt: fetchedAt, Document: raw})
	if err != nil {
		return
	}
	if err := c.cfg.Store.Set(ctx, c.storeKey(), data, c.cfg.TTL); err != nil {
		c.inst.Logger.Warn(ctx, "failed to store key set", observe.F("error", err))
	}
}

// Name implements health.Checker.
func (c *KeySetCache) Name() string { return "jwks" }

// Check implements health.Checker. It reports on cached state only and
// never fetches.
func (c *KeySetCache) Check(_ context.Context) health.Result {
	stats := c.Stats()
	details := map[string]any{
		"url":     stats.URL,
		"keys":    stats.Keys,
		"fetches": stats.Fetches,
	}
	if stats.LastError != nil {
		details["last_error"] = stats.LastError.Error()
	}

	switch {
	case stats.Keys == 0:
		return health.Unhealthy("key set not loaded", stats.LastError).WithDetails(details)
	case stats.LastError != nil:
		return health.Degraded("last key set refresh failed").WithDetails(details)
	case !c.cfg.Now().Before(stats.ExpiresAt):
		return health.Degraded("key set expired").WithDetails(details)
	default:
		details["expires_in"] = stats.ExpiresAt.Sub(c.cfg.Now()).String()
		return health.Healthy("key set loaded").WithDetails(details)
	}
}

var (
	_ KeyProvider    = (*KeySetCache)(nil)
	_ health.Checker = (*KeySetCache)(nil)
)

package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/gatekeeper/cache"
	"github.com/jonwraymond/gatekeeper/health"
	"github.com/jonwraymond/gatekeeper/resilience"
)

func TestNewKeySetCache_RequiresURL(t *testing.T) {
	_, err := NewKeySetCache(KeySetConfig{})
	assert.Error(t, err)
}

func TestKeySetCache_ColdFetchThenHit(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv)
	ctx := context.Background()

	k, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "key-a", k.KeyID)
	assert.EqualValues(t, 1, srv.Hits())

	for range 5 {
		_, err := c.GetKey(ctx, "key-a")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, srv.Hits(), "hits within TTL must not refetch")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Keys)
	assert.EqualValues(t, 1, stats.Fetches)
	assert.EqualValues(t, 1, stats.Generation)
	assert.NoError(t, stats.LastError)
}

func TestKeySetCache_TTLExpiryRefetches(t *testing.T) {
	clock := newTestClock()
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv, func(cfg *KeySetConfig) { cfg.Now = clock.Now })
	ctx := context.Background()

	_, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = c.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.Hits())

	clock.Advance(time.Second)
	_, err = c.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.Hits())
}

func TestKeySetCache_UnknownKidRefreshesOnce(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv)
	ctx := context.Background()

	_, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)

	_, err = c.GetKey(ctx, "rotated-out")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualValues(t, 2, srv.Hits(), "one forced refresh for the unknown kid")

	f, _ := AsFailure(err)
	assert.Equal(t, http.StatusUnauthorized, f.Status)
}

func TestKeySetCache_PicksUpRotatedKey(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv)
	ctx := context.Background()

	_, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)

	srv.respond(http.StatusOK, jwksDocument(t, map[string]*rsa.PrivateKey{"key-b": keyB()}))

	k, err := c.GetKey(ctx, "key-b")
	require.NoError(t, err)
	assert.True(t, keyB().PublicKey.Equal(k.PublicKey))

	_, err = c.GetKey(ctx, "key-a")
	assert.ErrorIs(t, err, ErrKeyNotFound, "the old set is replaced wholesale")
}

func TestKeySetCache_SingleFlightOnColdStart(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	srv.setDelay(50 * time.Millisecond)
	c := newTestCache(t, srv)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.GetKey(context.Background(), "key-a")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, srv.Hits())
}

func TestKeySetCache_FetchFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantHits int64
	}{
		{name: "server error retried", status: http.StatusInternalServerError, body: `oops`, wantHits: 3},
		{name: "throttled retried", status: http.StatusTooManyRequests, body: ``, wantHits: 3},
		{name: "not found is permanent", status: http.StatusNotFound, body: ``, wantHits: 1},
		{name: "malformed json", status: http.StatusOK, body: `{"keys":`, wantHits: 3},
		{name: "empty key set", status: http.StatusOK, body: `{"keys":[]}`, wantHits: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newJWKSServer(t, nil)
			srv.respond(tt.status, []byte(tt.body))
			c := newTestCache(t, srv)

			_, err := c.GetKey(context.Background(), "key-a")
			require.ErrorIs(t, err, ErrKeySetUnavailable)
			assert.Equal(t, tt.wantHits, srv.Hits())

			stats := c.Stats()
			assert.Zero(t, stats.Keys, "failed fetches install nothing")
			assert.Error(t, stats.LastError)
		})
	}
}

func TestKeySetCache_NoStaleFallback(t *testing.T) {
	clock := newTestClock()
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv, func(cfg *KeySetConfig) { cfg.Now = clock.Now })
	ctx := context.Background()

	_, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)

	srv.respond(http.StatusServiceUnavailable, nil)
	clock.Advance(2 * time.Minute)

	_, err = c.GetKey(ctx, "key-a")
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
}

func TestKeySetCache_PerAttemptTimeout(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	srv.setDelay(200 * time.Millisecond)
	c := newTestCache(t, srv, func(cfg *KeySetConfig) {
		cfg.FetchTimeout = 20 * time.Millisecond
		cfg.MaxAttempts = 2
	})

	_, err := c.GetKey(context.Background(), "key-a")
	require.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.ErrorIs(t, err, resilience.ErrTimeout)
}

func TestKeySetCache_CallerCancelDoesNotAbortFetch(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	srv.setDelay(100 * time.Millisecond)
	c := newTestCache(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetKey(ctx, "key-a")
	require.ErrorIs(t, err, ErrKeySetUnavailable)

	require.Eventually(t, func() bool { return c.Stats().Keys == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = c.GetKey(context.Background(), "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.Hits())
}

func TestKeySetCache_MissRefreshLimiter(t *testing.T) {
	clock := newTestClock()
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 1, Burst: 1, Now: clock.Now})
	c := newTestCache(t, srv, func(cfg *KeySetConfig) {
		cfg.Now = clock.Now
		cfg.MissRefreshLimiter = limiter
	})
	ctx := context.Background()

	_, err := c.GetKey(ctx, "key-a")
	require.NoError(t, err)

	for range 5 {
		_, err := c.GetKey(ctx, "bogus")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
	assert.EqualValues(t, 2, srv.Hits(), "only the first miss refreshes")

	clock.Advance(time.Second)
	_, err = c.GetKey(ctx, "bogus")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualValues(t, 3, srv.Hits())
}

func TestKeySetCache_CircuitBreakerOpens(t *testing.T) {
	srv := newJWKSServer(t, nil)
	srv.respond(http.StatusBadGateway, nil)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := newTestCache(t, srv, func(cfg *KeySetConfig) {
		cfg.CircuitBreaker = cb
		cfg.MaxAttempts = 1
	})

	_, err := c.GetKey(context.Background(), "key-a")
	require.ErrorIs(t, err, ErrKeySetUnavailable)

	_, err = c.GetKey(context.Background(), "key-a")
	require.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 1, srv.Hits())
}

func TestKeySetCache_SharedStore(t *testing.T) {
	clock := newTestClock()
	store := cache.NewMemoryCache(cache.DefaultPolicy(), cache.WithClock(clock.Now))
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	withStore := func(cfg *KeySetConfig) {
		cfg.Store = store
		cfg.Now = clock.Now
	}
	ctx := context.Background()

	first := newTestCache(t, srv, withStore)
	_, err := first.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.Hits())

	clock.Advance(40 * time.Second)
	second := newTestCache(t, srv, withStore)
	_, err = second.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.Hits(), "second instance served from the store")
	assert.EqualValues(t, 0, second.Stats().Fetches)

	// The stored entry keeps its fetch time, so it expires with the first.
	clock.Advance(20 * time.Second)
	_, err = second.GetKey(ctx, "key-a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.Hits())
}

func TestKeySetCache_StoredSetMissingKidFetchesFromNetwork(t *testing.T) {
	clock := newTestClock()
	store := cache.NewMemoryCache(cache.DefaultPolicy(), cache.WithClock(clock.Now))
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	withStore := func(cfg *KeySetConfig) {
		cfg.Store = store
		cfg.Now = clock.Now
	}
	ctx := context.Background()

	first := newTestCache(t, srv, withStore)
	_, err := first.GetKey(ctx, "key-a")
	require.NoError(t, err)

	srv.respond(http.StatusOK, jwksDocument(t, map[string]*rsa.PrivateKey{"key-a": keyA(), "key-b": keyB()}))

	second := newTestCache(t, srv, withStore)
	k, err := second.GetKey(ctx, "key-b")
	require.NoError(t, err, "rotated kid must be looked up at the endpoint")
	assert.True(t, keyB().PublicKey.Equal(k.PublicKey))
	assert.EqualValues(t, 2, srv.Hits())
	assert.EqualValues(t, 1, second.Stats().Fetches)

	_, err = second.GetKey(ctx, "key-c")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualValues(t, 3, srv.Hits(), "a network-fetched set gets one refresh per miss")
}

func TestKeySetCache_ForcedRefresh(t *testing.T) {
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Refresh(ctx))
	assert.EqualValues(t, 2, srv.Hits())
	assert.EqualValues(t, 2, c.Stats().Generation)
}

func TestKeySetCache_HealthCheck(t *testing.T) {
	clock := newTestClock()
	srv := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-a": keyA()})
	c := newTestCache(t, srv, func(cfg *KeySetConfig) { cfg.Now = clock.Now })
	ctx := context.Background()

	assert.Equal(t, "jwks", c.Name())
	assert.Equal(t, health.StatusUnhealthy, c.Check(ctx).Status)
	assert.Zero(t, srv.Hits(), "health checks never fetch")

	require.NoError(t, c.Refresh(ctx))
	r := c.Check(ctx)
	assert.Equal(t, health.StatusHealthy, r.Status)
	assert.Equal(t, 1, r.Details["keys"])

	clock.Advance(2 * time.Minute)
	assert.Equal(t, health.StatusDegraded, c.Check(ctx).Status)

	srv.respond(http.StatusInternalServerError, nil)
	require.Error(t, c.Refresh(ctx))
	r = c.Check(ctx)
	assert.Equal(t, health.StatusDegraded, r.Status)
	assert.Contains(t, r.Details, "last_error")
}

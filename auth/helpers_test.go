package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://tenant.example.com/"
	testAudience = "casting-agency"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var testKeys = sync.OnceValue(func() [2]*rsa.PrivateKey {
	var out [2]*rsa.PrivateKey
	for i := range out {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		out[i] = k
	}
	return out
})

func keyA() *rsa.PrivateKey { return testKeys()[0] }
func keyB() *rsa.PrivateKey { return testKeys()[1] }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// jwksDocument renders a JWKS for the given kid -> key pairs.
func jwksDocument(t testing.TB, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for kid, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &k.PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

// jwksServer is a JWKS endpoint that counts requests. Its response can be
// swapped while the test runs.
type jwksServer struct {
	*httptest.Server
	hits atomic.Int64

	mu     sync.Mutex
	status int
	body   []byte
	delay  time.Duration
}

func newJWKSServer(t testing.TB, keys map[string]*rsa.PrivateKey) *jwksServer {
	t.Helper()
	s := &jwksServer{status: http.StatusOK, body: jwksDocument(t, keys)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		status, body, delay := s.status, s.body, s.delay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) respond(status int, body []byte) {
	s.mu.Lock()
	s.status, s.body = status, body
	s.mu.Unlock()
}

func (s *jwksServer) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *jwksServer) Hits() int64 { return s.hits.Load() }

// newTestCache returns a cache over srv with fast retries.
func newTestCache(t testing.TB, srv *jwksServer, mutate ...func(*KeySetConfig)) *KeySetCache {
	t.Helper()
	cfg := KeySetConfig{
		URL:          srv.URL,
		TTL:          time.Minute,
		FetchTimeout: 2 * time.Second,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
		HTTPClient:   srv.Client(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewKeySetCache(cfg)
	require.NoError(t, err)
	return c
}

// validClaims returns a claim set that passes verification at testNow.
func validClaims(permissions ...string) jwt.MapClaims {
	c := jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "auth0|user-1",
		"aud":   []string{testAudience, testIssuer + "userinfo"},
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
		"azp":   "client-1",
		"scope": "openid profile",
	}
	if permissions != nil {
		c["permissions"] = permissions
	}
	return c
}

func signToken(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func bearer(token string) map[string][]string {
	return map[string][]string{"Authorization": {"Bearer " + token}}
}

// newTestVerifier verifies at testNow against keys.
func newTestVerifier(t testing.TB, keys KeyProvider) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(VerifierConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
		Now:      func() time.Time { return testNow },
		Keys:     keys,
	})
	require.NoError(t, err)
	return v
}

func staticKeys() *StaticKeyProvider {
	return NewStaticKeyProvider(SigningKeyFromRSA("key-a", "RS256", &keyA().PublicKey))
}

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/go-jose/go-jose/v4"
)

// SigningKey is one public key published by the identity provider.
// It is immutable once parsed.
type SigningKey struct {
	KeyID     string
	KeyType   string
	Use       string
	Algorithm string // optional; empty means "any RSA algorithm"

	// N and E are the base64url-encoded modulus and exponent as published.
	N string
	E string

	PublicKey *rsa.PublicKey
}

// SigningKeyFromRSA builds a SigningKey for a locally held public key.
func SigningKeyFromRSA(kid, alg string, pub *rsa.PublicKey) SigningKey {
	return SigningKey{
		KeyID:     kid,
		KeyType:   "RSA",
		Use:       "sig",
		Algorithm: alg,
		N:         base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		PublicKey: pub,
	}
}

// JSONWebKey returns the key in go-jose form, e.g. for publishing a JWKS.
func (k SigningKey) JSONWebKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.PublicKey,
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Use:       k.Use,
	}
}

// KeySet is an immutable set of signing keys indexed by key ID. A new
// KeySet is built on every refresh; existing sets are never modified.
type KeySet struct {
	keys map[string]SigningKey
}

// NewKeySet builds a KeySet. Later keys with a duplicate ID are ignored.
func NewKeySet(keys ...SigningKey) *KeySet {
	m := make(map[string]SigningKey, len(keys))
	for _, k := range keys {
		if _, dup := m[k.KeyID]; !dup {
			m[k.KeyID] = k
		}
	}
	return &KeySet{keys: m}
}

// Lookup returns the key with the given ID.
func (s *KeySet) Lookup(kid string) (SigningKey, bool) {
	if s == nil {
		return SigningKey{}, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeyIDs returns the key IDs in sorted order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// errNoUsableKeys is returned by ParseKeySet for a document without any
// RSA signing key; it is treated as a failed fetch.
var errNoUsableKeys = errors.New("jwks contains no usable signing keys")

// jwkFields holds the raw members kept on SigningKey.
type jwkFields struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// ParseKeySet decodes a JWKS document. Entries that are not RSA signature
// keys, lack a kid, or fail go-jose validation are skipped. A document that
// is not JSON, has no "keys" array, or yields no usable key is an error.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New(`decode jwks: missing "keys" array`)
	}

	keys := make([]SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		if k, ok := parseSigningKey(raw); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return NewKeySet(keys...), nil
}

func parseSigningKey(raw json.RawMessage) (SigningKey, bool) {
	var f jwkFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return SigningKey{}, false
	}
	if f.Kty != "RSA" || f.Kid == "" || (f.Use != "" && f.Use != "sig") {
		return SigningKey{}, false
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil || !jwk.Valid() || !jwk.IsPublic() {
		return SigningKey{}, false
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return SigningKey{}, false
	}

	return SigningKey{
		KeyID:     f.Kid,
		KeyType:   f.Kty,
		Use:       f.Use,
		Algorithm: f.Alg,
		N:         f.N,
		E:         f.E,
		PublicKey: pub,
	}, true
}

// KeyProvider resolves a key ID to a signing key.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: failures are *AuthFailure values (ErrKeyNotFound,
//     ErrKeySetUnavailable) that the verifier propagates unchanged.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

// StaticKeyProvider serves a fixed key set. It suits tests and deployments
// that pin keys out of band.
type StaticKeyProvider struct {
	keys *KeySet
}

// NewStaticKeyProvider creates a provider over keys.
func NewStaticKeyProvider(keys ...SigningKey) *StaticKeyProvider {
	return &StaticKeyProvider{keys: NewKeySet(keys...)}
}

// GetKey returns the key or ErrKeyNotFound.
func (p *StaticKeyProvider) GetKey(_ context.Context, kid string) (SigningKey, error) {
	if k, ok := p.keys.Lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, ErrKeyNotFound
}

var _ KeyProvider = (*StaticKeyProvider)(nil)

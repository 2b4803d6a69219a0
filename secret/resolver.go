package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned by providers when a reference does not exist.
	ErrNotFound = errors.New("secret: not found")

	// ErrUnknownProvider is returned for a reference naming an unregistered provider.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrEmptyValue is returned in strict mode when a reference resolves to "".
	ErrEmptyValue = errors.New("secret: empty value")
)

const refPrefix = "secretref:"

// Resolver expands configuration values.
//
// A value is first expanded with ExpandEnvStrict; any
// "secretref:<provider>:<ref>" it then contains is replaced by the
// provider's answer.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver. In strict mode an empty resolution is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider, len(providers)),
		strict:    strict,
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// DefaultResolver is a strict resolver with the env and file providers.
func DefaultResolver() *Resolver {
	return NewResolver(true, EnvProvider{}, FileProvider{})
}

// ResolveValue expands env references and secret refs in value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if !strings.Contains(expanded, refPrefix) {
		return expanded, nil
	}
	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.resolve(ctx, provider, ref)
	}
	return r.resolveInline(ctx, expanded)
}

// ParseSecretRef parses a whole-value reference of the form
// secretref:<provider>:<ref>.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	if !strings.HasPrefix(value, refPrefix) {
		return "", "", false
	}
	provider, ref, found := strings.Cut(strings.TrimPrefix(value, refPrefix), ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) resolve(ctx context.Context, providerName, ref string) (string, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptyValue, providerName, ref)
	}
	return v, nil
}

// inlineRef matches a reference embedded in a larger value; the ref ends at
// whitespace or '@' so credentials inside URLs can be referenced.
var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):([^\s@]+)`)

func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	matches := inlineRef.FindAllStringSubmatchIndex(value, -1)
	out := value
	// Replace from the end so earlier indexes stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, err := r.resolve(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + v + out[m[1]:]
	}
	return out, nil
}

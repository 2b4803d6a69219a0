package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider resolves a reference as an environment variable name.
//
//	secretref:env:REDIS_PASSWORD
type EnvProvider struct{}

func (EnvProvider) Name() string { return "env" }

func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, ref)
	}
	return v, nil
}

// FileProvider resolves a reference as a file path, typically a mounted
// container secret. Trailing newlines are trimmed.
//
//	secretref:file:/run/secrets/redis_url
type FileProvider struct {
	// Root, if set, is joined in front of relative references.
	Root string
}

func (FileProvider) Name() string { return "file" }

func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := ref
	if p.Root != "" && !strings.HasPrefix(ref, "/") {
		path = strings.TrimRight(p.Root, "/") + "/" + ref
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("secret: read %s: %w", path, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

var (
	_ Provider = EnvProvider{}
	_ Provider = FileProvider{}
)

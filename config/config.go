package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/jonwraymond/gatekeeper/auth"
	"github.com/jonwraymond/gatekeeper/observe"
	"github.com/jonwraymond/gatekeeper/secret"
)

// Config is the process configuration. It is built once at startup and
// treated as read-only afterwards.
type Config struct {
	Auth      AuthConfig
	Server    ServerConfig
	Telemetry TelemetryConfig

	// RedisURL enables the shared JWKS document store. It may reference a
	// secret ("secretref:file:redis-url") or other variables ("${REDIS_URL}").
	RedisURL string `env:"JWKS_REDIS_URL"`
}

// AuthConfig configures token verification and the key set cache.
type AuthConfig struct {
	Domain   string `env:"AUTH_DOMAIN,required"`
	Audience string `env:"API_AUDIENCE,required"`

	// Issuer defaults to https://{Domain}/.
	Issuer string `env:"AUTH_ISSUER"`

	// JWKSURL defaults to https://{Domain}/.well-known/jwks.json, or to the
	// discovered jwks_uri when Discovery is set.
	JWKSURL   string `env:"AUTH_JWKS_URL"`
	Discovery bool   `env:"AUTH_DISCOVERY,default=false"`

	// Algorithms is ";"-separated in the environment.
	Algorithms []string      `env:"AUTH_ALGORITHMS,default=RS256"`
	Leeway     time.Duration `env:"AUTH_LEEWAY,default=0s"`

	JWKSTTL         time.Duration `env:"AUTH_JWKS_TTL,default=5m"`
	FetchTimeout    time.Duration `env:"AUTH_JWKS_FETCH_TIMEOUT,default=5s"`
	FetchAttempts   int           `env:"AUTH_JWKS_FETCH_ATTEMPTS,default=3"`
	RetryDelay      time.Duration `env:"AUTH_JWKS_RETRY_DELAY,default=100ms"`
	MissRefreshRate float64       `env:"AUTH_JWKS_MISS_REFRESH_RATE,default=0"`

	CircuitFailures int           `env:"AUTH_JWKS_CIRCUIT_FAILURES,default=5"`
	CircuitReset    time.Duration `env:"AUTH_JWKS_CIRCUIT_RESET,default=30s"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`
}

// TelemetryConfig feeds observe.Config.
type TelemetryConfig struct {
	ServiceName     string  `env:"SERVICE_NAME,default=gatekeeper"`
	Version         string  `env:"SERVICE_VERSION,default=dev"`
	LogLevel        string  `env:"LOG_LEVEL,default=info"`
	TracingExporter string  `env:"TRACING_EXPORTER,default=none"`
	TraceSamplePct  float64 `env:"TRACING_SAMPLE_PCT,default=1"`
	MetricsExporter string  `env:"METRICS_EXPORTER,default=prometheus"`
}

// Configuration errors.
var (
	ErrMissingDomain        = errors.New("config: AUTH_DOMAIN is required")
	ErrMissingAudience      = errors.New("config: API_AUDIENCE is required")
	ErrUnsupportedAlgorithm = errors.New("config: unsupported signing algorithm")
	ErrInvalidDuration      = errors.New("config: duration must be positive")
	ErrInvalidAttempts      = errors.New("config: AUTH_JWKS_FETCH_ATTEMPTS must be at least 1")
)

// SupportedAlgorithms lists the accepted AUTH_ALGORITHMS values. The key
// set only carries RSA keys, so HMAC, EC and "none" are rejected.
var SupportedAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}

// DefaultEnvFile is loaded by Load when present.
const DefaultEnvFile = ".env"

// Load reads DefaultEnvFile (if it exists) and the environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFiles(ctx, DefaultEnvFile)
}

// LoadFiles loads the given dotenv files, then decodes the environment.
// Missing files are skipped; variables already set in the environment win
// over file values.
func LoadFiles(ctx context.Context, files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.RedisURL != "" {
		resolved, err := secret.DefaultResolver().ResolveValue(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("config: JWKS_REDIS_URL: %w", err)
		}
		cfg.RedisURL = resolved
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	a := &c.Auth
	a.Domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(a.Domain), "https://"), "/")
	if a.Issuer == "" && a.Domain != "" {
		a.Issuer = auth.IssuerForDomain(a.Domain)
	}
	if a.JWKSURL == "" && a.Domain != "" && !a.Discovery {
		a.JWKSURL = auth.KeySetURLForDomain(a.Domain)
	}

	algs := a.Algorithms[:0]
	for _, alg := range a.Algorithms {
		if alg = strings.ToUpper(strings.TrimSpace(alg)); alg != "" {
			algs = append(algs, alg)
		}
	}
	a.Algorithms = algs
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	a := c.Auth
	if a.Domain == "" {
		return ErrMissingDomain
	}
	if a.Audience == "" {
		return ErrMissingAudience
	}
	if len(a.Algorithms) == 0 {
		return fmt.Errorf("%w: none configured", ErrUnsupportedAlgorithm)
	}
	for _, alg := range a.Algorithms {
		if !slices.Contains(SupportedAlgorithms, alg) {
			return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
		}
	}

	durations := map[string]time.Duration{
		"AUTH_JWKS_TTL":           a.JWKSTTL,
		"AUTH_JWKS_FETCH_TIMEOUT": a.FetchTimeout,
		"AUTH_JWKS_RETRY_DELAY":   a.RetryDelay,
		"AUTH_JWKS_CIRCUIT_RESET": a.CircuitReset,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidDuration, name, d)
		}
	}
	if a.Leeway < 0 {
		return fmt.Errorf("%w: AUTH_LEEWAY=%s", ErrInvalidDuration, a.Leeway)
	}
	if a.FetchAttempts < 1 {
		return ErrInvalidAttempts
	}

	oc := c.Observe()
	return oc.Validate()
}

// Observe converts the telemetry settings to an observe.Config.
func (c *Config) Observe() observe.Config {
	t := c.Telemetry
	return observe.Config{
		ServiceName: t.ServiceName,
		Version:     t.Version,
		Tracing: observe.TracingConfig{
			Enabled:   t.TracingExporter != "" && t.TracingExporter != "none",
			Exporter:  t.TracingExporter,
			SamplePct: t.TraceSamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  t.MetricsExporter != "" && t.MetricsExporter != "none",
			Exporter: t.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   strings.ToLower(t.LogLevel),
		},
	}
}

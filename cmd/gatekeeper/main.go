// Command gatekeeper serves a small catalogue API behind bearer-token
// authorization.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/gatekeeper/auth"
	"github.com/jonwraymond/gatekeeper/cache"
	"github.com/jonwraymond/gatekeeper/config"
	"github.com/jonwraymond/gatekeeper/health"
	"github.com/jonwraymond/gatekeeper/observe"
	"github.com/jonwraymond/gatekeeper/resilience"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatekeeper:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe())
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	inst, err := observe.NewInstrumentation(obs)
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}
	logger := obs.Logger()
	agg := health.NewAggregator(5 * time.Second)

	jwksURL := cfg.Auth.JWKSURL
	if jwksURL == "" {
		jwksURL, err = auth.DiscoverKeySetURL(ctx, cfg.Auth.Issuer, nil)
		if err != nil {
			return err
		}
		logger.Info(ctx, "discovered key set url", observe.F("url", jwksURL))
	}

	var store cache.Cache
	if cfg.RedisURL != "" {
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn(ctx, "shared key set store unavailable, continuing without it", observe.F("error", err))
		} else {
			defer func() { _ = client.Close() }()
			rc, err := cache.NewRedisCache(client, cache.DefaultPolicy(), cache.WithLogger(logger))
			if err != nil {
				return err
			}
			store = rc
			agg.Register(health.NewPingChecker("redis", true, func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}))
		}
	}

	var limiter *resilience.RateLimiter
	if cfg.Auth.MissRefreshRate > 0 {
		limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: cfg.Auth.MissRefreshRate, Burst: 1})
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Auth.CircuitFailures,
		ResetTimeout: cfg.Auth.CircuitReset,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn(context.Background(), "key set circuit changed state",
				observe.F("from", from.String()),
				observe.F("to", to.String()),
			)
		},
	})

	keys, err := auth.NewKeySetCache(auth.KeySetConfig{
		URL:                jwksURL,
		TTL:                cfg.Auth.JWKSTTL,
		FetchTimeout:       cfg.Auth.FetchTimeout,
		MaxAttempts:        cfg.Auth.FetchAttempts,
		RetryDelay:         cfg.Auth.RetryDelay,
		Store:              store,
		MissRefreshLimiter: limiter,
		CircuitBreaker:     breaker,
		Instrumentation:    inst,
	})
	if err != nil {
		return err
	}
	agg.Register(keys)

	// A cold cache is filled on the first request anyway.
	if err := keys.Refresh(ctx); err != nil {
		logger.Warn(ctx, "initial key set fetch failed", observe.F("error", err))
	}

	verifier, err := auth.NewJWTVerifier(auth.VerifierConfig{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Algorithms: cfg.Auth.Algorithms,
		Leeway:     cfg.Auth.Leeway,
		Keys:       keys,
	})
	if err != nil {
		return err
	}
	guard := auth.NewGuard(verifier, auth.WithInstrumentation(inst))

	var metricsHandler http.Handler
	if cfg.Telemetry.MetricsExporter == "prometheus" {
		metricsHandler = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(guard, agg, metricsHandler, logger),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening",
			observe.F("addr", cfg.Server.Addr),
			observe.F("issuer", cfg.Auth.Issuer),
			observe.F("audience", cfg.Auth.Audience),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// Package health exposes liveness and readiness for a gatekeeper process.
//
// Components such as the key set cache implement Checker; an Aggregator runs
// them concurrently and the HTTP handlers map the worst status to a probe
// response:
//
//	agg := health.NewAggregator(2 * time.Second)
//	agg.Register(keySetCache)
//	router.Handle("/healthz", health.LivenessHandler())
//	router.Handle("/readyz", health.ReadinessHandler(agg))
//	router.Handle("/health", health.DetailedHandler(agg))
package health

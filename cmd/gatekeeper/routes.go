package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jonwraymond/gatekeeper/auth"
	"github.com/jonwraymond/gatekeeper/health"
	"github.com/jonwraymond/gatekeeper/observe"
)

// Permissions required by the catalogue routes.
const (
	permGetActors    = "get:actors"
	permGetMovies    = "get:movies"
	permDeleteActors = "delete:actors"
)

const requestIDHeader = "X-Request-ID"

// newRouter wires the public, protected and operational routes.
// metrics may be nil.
func newRouter(guard *auth.Guard, agg *health.Aggregator, metrics http.Handler, logger observe.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, accessLog(logger))

	r.HandleFunc("/", index).Methods(http.MethodGet)
	r.Handle("/whoami", guard.Protect("", http.HandlerFunc(whoami))).Methods(http.MethodGet)

	r.Handle("/actors", guard.Protect(permGetActors, http.HandlerFunc(listActors))).Methods(http.MethodGet)
	r.Handle("/actors/{id}", guard.Protect(permDeleteActors, http.HandlerFunc(deleteActor))).Methods(http.MethodDelete)
	r.Handle("/movies", guard.Protect(permGetMovies, http.HandlerFunc(listMovies))).Methods(http.MethodGet)

	r.Handle("/healthz", health.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/readyz", health.ReadinessHandler(agg)).Methods(http.MethodGet)
	r.Handle("/health", health.DetailedHandler(agg)).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

func index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "gatekeeper"})
}

func whoami(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthContextFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"subject":     ac.Claims.Subject,
		"permissions": ac.Claims.Permissions,
		"expires_at":  ac.Claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func listActors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "actors": []any{}})
}

func listMovies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "movies": []any{}})
}

func deleteActor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "delete": mux.Vars(r)["id"]})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestID propagates or assigns an X-Request-ID and stores it on the
// context for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observe.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger observe.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info(r.Context(), "request",
				observe.F("method", r.Method),
				observe.F("path", r.URL.Path),
				observe.F("status", rec.status),
				observe.F("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

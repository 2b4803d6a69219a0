package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler answers 200 while the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler answers 200 unless a check is unhealthy. Degraded
// components still accept traffic.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := OverallStatus(agg.CheckAll(r.Context()))

		w.Header().Set("Content-Type", "text/plain")
		switch status {
		case StatusHealthy:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// Response is the JSON body of DetailedHandler.
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is one entry of Response.Checks.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DetailedHandler reports every check as JSON.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := agg.CheckAll(r.Context())
		status := OverallStatus(results)

		resp := Response{
			Status:    status.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(results)),
		}
		for name, result := range results {
			c := CheckResponse{
				Status:   result.Status.String(),
				Message:  result.Message,
				Duration: result.Duration.String(),
				Details:  result.Details,
			}
			if result.Error != nil {
				c.Error = result.Error.Error()
			}
			resp.Checks[name] = c
		}

		w.Header().Set("Content-Type", "application/json")
		if status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Package metrics exposes Prometheus instrumentation for the agent loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tinker/internal/logging"
)

var (
	// TurnsTotal counts completed turns by outcome (success, partial,
	// failure, exhausted, error).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinker",
		Name:      "turns_total",
		Help:      "Completed turns by outcome.",
	}, []string{"outcome"})

	// RetriesTotal counts reflection decisions by strategy (retry, replan).
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinker",
		Name:      "retries_total",
		Help:      "Reflection decisions by strategy.",
	}, []string{"strategy"})

	// PlansTotal counts accepted plans by kind (initial, replan).
	PlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinker",
		Name:      "plans_total",
		Help:      "Accepted plans by kind.",
	}, []string{"kind"})

	// StepsTotal counts executed steps by action and status.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinker",
		Name:      "steps_total",
		Help:      "Executed plan steps by action and status.",
	}, []string{"action", "status"})

	// TurnDuration observes wall-clock turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tinker",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a full turn.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// ObserveStep records one executed step.
func ObserveStep(action string, success bool) {
	status := "ok"
	if !success {
		status = "failed"
	}
	StepsTotal.WithLabelValues(action, status).Inc()
}

// ObserveTurn records one finished turn.
func ObserveTurn(outcome string, started time.Time) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.Observe(time.Since(started).Seconds())
}

// Serve exposes /metrics on addr in a background goroutine. An empty addr
// disables the endpoint.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.ErrorLog("metrics server stopped: %v", err)
		}
	}()
}

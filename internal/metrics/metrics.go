package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests handled by the dispatch API.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// RunsTotal counts update runs by trigger and final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_runs_total",
			Help: "Total number of update runs, by trigger and status.",
		},
		[]string{"trigger", "status"},
	)

	// StepDuration observes wall-clock duration of each pipeline step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "update_step_duration_seconds",
			Help:    "Duration of individual update pipeline steps.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"step", "status"},
	)

	// CommitsTotal counts commits produced by runs. Runs with an empty diff
	// increment the "empty" label instead of creating a commit.
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_commits_total",
			Help: "Commits produced by update runs, or empty-diff no-ops.",
		},
		[]string{"result"}, // committed / empty
	)
)

// Register exists as an explicit registration point for main.go.
// promauto.New... already registers each collector.
func Register() {
}

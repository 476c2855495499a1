// Package metrics exposes run counters for the discovery loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lulan-cc/RICE/internal/logging"
)

var (
	CandidatesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rice_candidates_generated_total",
		Help: "Candidate programs that passed the syntactic sanity check.",
	})
	CandidatesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rice_candidates_executed_total",
		Help: "Candidate programs executed against the toolchain.",
	})
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rice_verdicts_total",
		Help: "Classification outcomes by verdict.",
	}, []string{"verdict"})
	FindingsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rice_findings_total",
		Help: "Novel crash findings persisted.",
	})
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rice_model_calls_total",
		Help: "Language model invocations by purpose.",
	}, []string{"purpose"})
	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rice_execution_seconds",
		Help:    "Wall time of candidate compiler executions.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// Serve exposes /metrics on addr in the background. Listen failures are
// logged, not fatal: metrics are an aid, never a reason to stop discovery.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.New("metrics").Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}

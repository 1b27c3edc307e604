// Package telemetry holds the Prometheus collectors shared by the API and
// the worker.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	CasesScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "segeval",
		Name:      "cases_scored_total",
		Help:      "Number of cases scored.",
	})
	CaseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "segeval",
		Name:      "case_scoring_seconds",
		Help:      "Time spent loading and scoring one case.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	Evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segeval",
		Name:      "evaluations_total",
		Help:      "Finished evaluations by outcome.",
	}, []string{"outcome"})
	ContainerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segeval",
		Name:      "container_runs_total",
		Help:      "Participant container runs by outcome.",
	}, []string{"outcome"})
	ContainerRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "segeval",
		Name:      "container_run_seconds",
		Help:      "Wall time of participant container runs.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
	})
)

func init() {
	Registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		CasesScored,
		CaseDuration,
		Evaluations,
		ContainerRuns,
		ContainerRunDuration,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

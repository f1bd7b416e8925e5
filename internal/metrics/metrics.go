// Package metrics holds the Prometheus collectors shared by the server, relay and reaper.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "regci"

var (
	RunsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_created_total",
		Help:      "Runs created, by the pool they were routed to.",
	}, []string{"pool"})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs that reached the finished state, by pool and reason.",
	}, []string{"pool", "reason"})

	ConsistencyViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consistency_violations_total",
		Help:      "Unfinished runs found in neither queue while completing.",
	})

	TransactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_retries_total",
		Help:      "Transactions retried after a serialization failure or deadlock.",
	})

	ProgressEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_entries_total",
		Help:      "Progress entries appended, by status.",
	}, []string{"status"})

	OutboxRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_relayed_total",
		Help:      "Outbox messages handed to the broker, by sink.",
	}, []string{"sink"})

	WorkerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_rejections_total",
		Help:      "Worker protocol requests answered with the generic rejection.",
	})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

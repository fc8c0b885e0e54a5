// Package metrics holds the Prometheus collectors of the catalog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commit and transaction results.
const (
	ResultCommitted = "committed"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_commits_total",
		Help: "Total number of table commits by result.",
	}, []string{"result"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "commitcatalog_commit_duration_seconds",
		Help:    "Duration of table commits, from load to publish.",
		Buckets: prometheus.DefBuckets,
	})

	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_transactions_total",
		Help: "Total number of multi-table transactions by result.",
	}, []string{"result"})

	NamespaceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_namespace_operations_total",
		Help: "Total number of namespace mutations by operation.",
	}, []string{"op"})

	TablesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commitcatalog_tables_created_total",
		Help: "Total number of tables created or registered.",
	})

	MetricsReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commitcatalog_metrics_reports_total",
		Help: "Total number of scan and commit reports received and discarded.",
	})
)

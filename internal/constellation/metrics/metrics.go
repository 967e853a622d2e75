package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the versioned store and merge engine.
type Metrics struct {
	// Commits by outcome (committed, no_op)
	Commits *prometheus.CounterVec

	// Rows written per committed version
	ChangedRows prometheus.Histogram

	// Status transitions by target status
	StatusChanges *prometheus.CounterVec

	// Lock conflicts by operation (checkout, commit, status)
	LockConflicts *prometheus.CounterVec

	// Stale base versions rejected at commit
	ConcurrentModifications prometheus.Counter

	// Merges by mode (auto, manual) and result (merged, failed)
	Merges *prometheus.CounterVec

	// Batch dedupe groups by result
	BatchGroups *prometheus.CounterVec

	// Indexer notifications by result (sent, failed, skipped)
	IndexerNotifications *prometheus.CounterVec

	// Latency per operation
	OperationLatency *prometheus.HistogramVec
}

// New creates a Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_commits_total",
			Help: "Total commits by outcome",
		}, []string{"outcome"}),

		ChangedRows: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "icstore_commit_changed_rows",
			Help:    "Entity rows written per committed version",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),

		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_status_changes_total",
			Help: "Total status transitions by target status",
		}, []string{"status"}),

		LockConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_lock_conflicts_total",
			Help: "Total operations rejected because another actor holds the lock",
		}, []string{"operation"}),

		ConcurrentModifications: f.NewCounter(prometheus.CounterOpts{
			Name: "icstore_concurrent_modifications_total",
			Help: "Total commits rejected for a stale base version",
		}),

		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_merges_total",
			Help: "Total merges by mode and result",
		}, []string{"mode", "result"}),

		BatchGroups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_batch_groups_total",
			Help: "Total duplicate groups processed by batch dedupe, by result",
		}, []string{"result"}),

		IndexerNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icstore_indexer_notifications_total",
			Help: "Total indexer notifications by result",
		}, []string{"result"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icstore_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

// IncrementCommit records a commit outcome and, for written versions, its row count.
func (m *Metrics) IncrementCommit(outcome string, rows int) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(outcome).Inc()
	if rows > 0 {
		m.ChangedRows.Observe(float64(rows))
	}
}

// IncrementStatusChange records a status transition.
func (m *Metrics) IncrementStatusChange(status string) {
	if m != nil {
		m.StatusChanges.WithLabelValues(status).Inc()
	}
}

// IncrementLockConflict records a lock conflict.
func (m *Metrics) IncrementLockConflict(operation string) {
	if m != nil {
		m.LockConflicts.WithLabelValues(operation).Inc()
	}
}

// IncrementConcurrentModification records a stale commit.
func (m *Metrics) IncrementConcurrentModification() {
	if m != nil {
		m.ConcurrentModifications.Inc()
	}
}

// IncrementMerge records a merge attempt.
func (m *Metrics) IncrementMerge(mode, result string) {
	if m != nil {
		m.Merges.WithLabelValues(mode, result).Inc()
	}
}

// IncrementBatchGroup records one processed dedupe group.
func (m *Metrics) IncrementBatchGroup(result string) {
	if m != nil {
		m.BatchGroups.WithLabelValues(result).Inc()
	}
}

// IncrementIndexerNotification records an indexer notification outcome.
func (m *Metrics) IncrementIndexerNotification(result string) {
	if m != nil {
		m.IndexerNotifications.WithLabelValues(result).Inc()
	}
}

// ObserveOperation records the duration of an operation started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

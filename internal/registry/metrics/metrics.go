// Package metrics exposes Prometheus metrics for the registry write path and
// feed publisher. All methods are nil-safe so tests can run without a metrics
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	PatientsCreated   prometheus.Counter
	PatientsUpdated   prometheus.Counter
	ProposalsQueued   prometheus.Counter
	ApprovalsAccepted prometheus.Counter
	ApprovalsRejected prometheus.Counter
	BatchFailures     prometheus.Counter
	BatchSeconds      prometheus.Histogram
	FeedPublished     prometheus.Counter
	FeedPublishErrors prometheus.Counter
}

// New creates and registers all registry metrics on the default registerer.
func New() *Metrics {
	return &Metrics{
		PatientsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_patients_created_total",
			Help: "Total number of patient records created",
		}),
		PatientsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_patients_updated_total",
			Help: "Total number of accepted patient updates",
		}),
		ProposalsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_pending_proposals_queued_total",
			Help: "Total number of field edits parked for review",
		}),
		ApprovalsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_pending_approvals_accepted_total",
			Help: "Total number of pending approvals accepted",
		}),
		ApprovalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_pending_approvals_rejected_total",
			Help: "Total number of pending approvals rejected",
		}),
		BatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_batch_failures_total",
			Help: "Total number of atomic batch executions that failed",
		}),
		BatchSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mpi_batch_commit_seconds",
			Help:    "Latency of atomic batch commits",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		FeedPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_feed_events_published_total",
			Help: "Total number of update-log entries published to Kafka",
		}),
		FeedPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpi_feed_publish_errors_total",
			Help: "Total number of failed feed publish attempts",
		}),
	}
}

// IncCreated increments the created-patients counter.
func (m *Metrics) IncCreated() {
	if m != nil {
		m.PatientsCreated.Inc()
	}
}

// IncUpdated increments the updated-patients counter.
func (m *Metrics) IncUpdated() {
	if m != nil {
		m.PatientsUpdated.Inc()
	}
}

// AddQueued counts field edits parked for review.
func (m *Metrics) AddQueued(n int) {
	if m != nil && n > 0 {
		m.ProposalsQueued.Add(float64(n))
	}
}

// AddAccepted counts resolved acceptances.
func (m *Metrics) AddAccepted(n int) {
	if m != nil && n > 0 {
		m.ApprovalsAccepted.Add(float64(n))
	}
}

// AddRejected counts resolved rejections.
func (m *Metrics) AddRejected(n int) {
	if m != nil && n > 0 {
		m.ApprovalsRejected.Add(float64(n))
	}
}

// IncBatchFailure counts a failed atomic batch.
func (m *Metrics) IncBatchFailure() {
	if m != nil {
		m.BatchFailures.Inc()
	}
}

// ObserveBatch records one batch commit latency.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m != nil {
		m.BatchSeconds.Observe(d.Seconds())
	}
}

// AddPublished counts published feed entries.
func (m *Metrics) AddPublished(n int) {
	if m != nil && n > 0 {
		m.FeedPublished.Add(float64(n))
	}
}

// IncPublishError counts a failed feed publish attempt.
func (m *Metrics) IncPublishError() {
	if m != nil {
		m.FeedPublishErrors.Inc()
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	CycleCount          prometheus.Counter
	MessagesProcessed   prometheus.Counter
	RequestsCreated     prometheus.Counter
	DuplicateRequests   prometheus.Counter
	ApprovalsRecorded   prometheus.Counter
	RequestsRejected    prometheus.Counter
	RequestsProvisioned prometheus.Counter
	ProvisionFailures   prometheus.Counter
	RemindersSent       prometheus.Counter
	TasksDropped        prometheus.Counter
	QueueDepth          prometheus.Gauge
	InflightMailboxes   prometheus.Gauge
	TaskDuration        prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CycleCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_cycle_count",
			Help: "Total number of scheduler cycles",
		}),
		MessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_messages_processed",
			Help: "Total number of inbound messages consumed",
		}),
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_requests_created",
			Help: "Total number of onboarding requests created",
		}),
		DuplicateRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_duplicate_requests",
			Help: "Total number of duplicate requests merged into an open request",
		}),
		ApprovalsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_approvals_recorded",
			Help: "Total number of approval decisions applied",
		}),
		RequestsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_requests_rejected",
			Help: "Total number of requests rejected",
		}),
		RequestsProvisioned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_requests_provisioned",
			Help: "Total number of requests provisioned",
		}),
		ProvisionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_provision_failures",
			Help: "Total number of failed provisioning attempts",
		}),
		RemindersSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_reminders_sent",
			Help: "Total number of reminder notifications sent",
		}),
		TasksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_tasks_dropped",
			Help: "Total number of mailbox tasks dropped at enqueue",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_queue_depth",
			Help: "Number of mailbox tasks waiting in the dispatch queue",
		}),
		InflightMailboxes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_inflight_mailboxes",
			Help: "Number of mailboxes with a task currently in flight",
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_task_duration_seconds",
			Help:    "Time spent running one mailbox task",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

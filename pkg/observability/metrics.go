package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRunsFinished counts runs reaching a terminal status.
	JobRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_job_runs_finished_total",
		Help: "Total number of job runs reaching a terminal status",
	}, []string{"status", "trigger"})

	// JobRunDuration tracks wall time from start to terminal status.
	JobRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetops_job_run_duration_seconds",
		Help:    "Duration of job runs from start to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"status"})

	HostResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_host_results_total",
		Help: "Total number of per-host results by status and reason",
	}, []string{"status", "reason"})

	// RemoteAttempts counts remote command invocations, retries included.
	RemoteAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_remote_attempts_total",
		Help: "Total number of remote command attempts by outcome",
	}, []string{"outcome"})

	ExecutorPermitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleetops_executor_permits_in_use",
		Help: "Concurrency permits currently held by host executions",
	})

	SchedulerPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetops_scheduler_polls_total",
		Help: "Total number of scheduler poll cycles",
	})

	// SchedulerClaims tracks claim attempts; result is won, lost or recovered.
	SchedulerClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_scheduler_claims_total",
		Help: "Total number of schedule claim attempts by result",
	}, []string{"result"})

	SchedulingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_scheduling_errors_total",
		Help: "Total number of scheduling errors by reason",
	}, []string{"reason"})

	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetops_scheduler_loop_duration_seconds",
		Help:    "Duration of one scheduler poll cycle",
		Buckets: prometheus.DefBuckets,
	})

	// NotificationOutcomes counts log entries written by the dispatcher.
	NotificationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetops_notification_outcomes_total",
		Help: "Total number of notification attempts by channel kind and outcome",
	}, []string{"kind", "outcome"})
)

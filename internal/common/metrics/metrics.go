package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	MatchRecordsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_records_created_total",
			Help: "Match records created by the orchestrator",
		},
	)

	MatchRecordsReused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_records_reused_total",
			Help: "Upserts that returned an existing active record",
		},
	)

	MatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_runs_total",
			Help: "Single-request match runs by outcome",
		},
		[]string{"outcome"},
	)

	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "match_ranking_duration_seconds",
			Help:    "Time spent ranking candidates for one request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"urgency"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_status_transitions_total",
			Help: "Match status transitions applied",
		},
		[]string{"from", "to"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification attempts by kind, channel and outcome",
		},
		[]string{"kind", "channel", "status"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)
)

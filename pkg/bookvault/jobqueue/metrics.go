package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookvault_cover_jobs_running",
		Help: "Number of cover generation jobs currently executing.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookvault_cover_jobs_completed_total",
		Help: "Total cover generation jobs that completed successfully.",
	})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookvault_cover_jobs_failed_total",
		Help: "Total cover generation jobs that failed, by reason.",
	}, []string{"reason"})
	jobsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookvault_cover_jobs_deferred_total",
		Help: "Total admissions rescheduled because the ceiling was reached.",
	})
	jobsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookvault_cover_jobs_deduplicated_total",
		Help: "Total enqueues dropped because a job was already live for the book.",
	})
)

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuestionsGraded counts per-question records by kind and outcome.
	QuestionsGraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_questions_graded_total",
			Help: "Total number of graded questions",
		},
		[]string{"kind", "outcome"}, // outcome: choice/evaluated/no_submission/degraded
	)

	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_collaborator_duration_seconds",
			Help:    "Time spent in collaborator calls, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "status"}, // status: ok/error
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_submissions_total",
			Help: "Total number of submit attempts by result",
		},
		[]string{"result"}, // result: graded/invalid/persistence_error
	)

	CheatingRisk = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_cheating_risk_total",
			Help: "Cheating verdicts computed at submission",
		},
		[]string{"risk"},
	)

	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grader_live_sessions_current",
			Help: "Current number of live exam sessions on this instance",
		},
	)

	RegradeJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_regrade_jobs_total",
			Help: "Regrade jobs handled by the worker",
		},
		[]string{"result"}, // result: done/requeued/discarded/failed
	)
)

// Status is the label value for an error result.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks sessions currently owned by an orchestrator.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "sessions_active",
			Help:      "Number of sessions with a running orchestrator",
		},
	)

	// SessionsFinished counts sessions by terminal stage.
	// Labels: stage (completed, failed, cancelled, expired)
	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions that reached a terminal stage",
		},
		[]string{"stage"},
	)

	// StageDuration tracks how long each stage took, retries included.
	// Labels: stage, result (success, error)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "result"},
	)

	// StageAttempts counts adapter attempts per stage.
	StageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "stage_attempts_total",
			Help:      "Total number of adapter attempts by stage",
		},
		[]string{"stage"},
	)

	// Submissions counts submit outcomes.
	// Labels: result (accepted, unsupported, rate_limited, already_active)
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Total number of video submissions by outcome",
		},
		[]string{"result"},
	)

	// Decisions counts approval decisions by kind and whether they applied.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledgebot",
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Total number of approval decisions",
		},
		[]string{"kind", "applied"},
	)

	// Evictions counts sessions removed by the janitor.
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knowledgebot",
			Subsystem: "janitor",
			Name:      "evictions_total",
			Help:      "Total number of expired sessions evicted",
		},
	)
)

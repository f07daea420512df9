package anchor

import (
	"time"

	"evidencia/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evidencia_anchor_attempts_total",
			Help: "Anchor attempts by outcome.",
		},
		[]string{"status", "code"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evidencia_anchor_duration_seconds",
			Help:    "Time spent per anchor attempt, including confirmation.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"provider"},
	)

	attemptPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evidencia_anchor_attempt_persist_failures_total",
		Help: "Anchor attempts that could not be written to the audit table.",
	})
)

func observe(result domain.AnchorResult, elapsed time.Duration) {
	code := result.ErrorCode
	if code == "" {
		code = "none"
	}
	attemptsTotal.WithLabelValues(result.Status, code).Inc()
	attemptDuration.WithLabelValues(result.Provider).Observe(elapsed.Seconds())
}

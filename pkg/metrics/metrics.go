package metrics

import (
	"time"

	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoundTotal is the total number of completed rounds.
	RoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_round_total",
			Help: "Total number of simulated rounds",
		},
		[]string{"policy"},
	)

	RoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flsim_round_duration_seconds",
			Help:    "Wall-clock duration of a simulated round in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"policy"},
	)

	ParticipantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_participants_total",
			Help: "Total number of device contributions by outcome",
		},
		[]string{"policy", "outcome"},
	)

	// ExcludedTotal counts infeasible devices by reason.
	ExcludedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_excluded_total",
			Help: "Total number of devices excluded as infeasible",
		},
		[]string{"policy", "reason"},
	)

	EnergySpent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_energy_spent_total",
			Help: "Total energy spent by devices",
		},
		[]string{"policy"},
	)

	ExhaustedRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flsim_exhausted_rounds_total",
			Help: "Rounds in which no device was feasible",
		},
		[]string{"policy"},
	)

	Accuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flsim_model_accuracy",
			Help: "Accuracy of the latest global model",
		},
		[]string{"policy"},
	)

	FairnessIndex = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flsim_fairness_index",
			Help: "Jain fairness index of device participations",
		},
		[]string{"policy"},
	)
)

// ObserveRound updates every collector from a finished round.
func ObserveRound(rec telemetry.Record, elapsed time.Duration) {
	RoundTotal.WithLabelValues(rec.Policy).Inc()
	RoundDuration.WithLabelValues(rec.Policy).Observe(elapsed.Seconds())
	ParticipantsTotal.WithLabelValues(rec.Policy, "completed").Add(float64(len(rec.Completed)))
	ParticipantsTotal.WithLabelValues(rec.Policy, "missed").Add(float64(len(rec.Missed)))
	EnergySpent.WithLabelValues(rec.Policy).Add(rec.TotalEnergy)
	FairnessIndex.WithLabelValues(rec.Policy).Set(rec.FairnessIndex)

	for reason, n := range rec.Excluded {
		ExcludedTotal.WithLabelValues(rec.Policy, reason).Add(float64(n))
	}
	if rec.AllExhausted {
		ExhaustedRounds.WithLabelValues(rec.Policy).Inc()
	}
	if rec.Accuracy != nil {
		Accuracy.WithLabelValues(rec.Policy).Set(*rec.Accuracy)
	}
}

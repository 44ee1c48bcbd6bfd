package metrics

import (
	"testing"
	"time"

	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRound(t *testing.T) {
	acc := 0.5
	rec := telemetry.Record{
		Policy:        "metrics_test",
		Completed:     []string{"a", "b"},
		Missed:        []string{"c"},
		TotalEnergy:   7.5,
		Excluded:      map[string]int{"InsufficientTime": 2},
		FairnessIndex: 0.8,
		Accuracy:      &acc,
		AllExhausted:  true,
	}

	ObserveRound(rec, 10*time.Millisecond)
	ObserveRound(rec, 10*time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"rounds", testutil.ToFloat64(RoundTotal.WithLabelValues("metrics_test")), 2},
		{"completed", testutil.ToFloat64(ParticipantsTotal.WithLabelValues("metrics_test", "completed")), 4},
		{"missed", testutil.ToFloat64(ParticipantsTotal.WithLabelValues("metrics_test", "missed")), 2},
		{"energy", testutil.ToFloat64(EnergySpent.WithLabelValues("metrics_test")), 15},
		{"excluded", testutil.ToFloat64(ExcludedTotal.WithLabelValues("metrics_test", "InsufficientTime")), 4},
		{"exhausted", testutil.ToFloat64(ExhaustedRounds.WithLabelValues("metrics_test")), 2},
		{"accuracy", testutil.ToFloat64(Accuracy.WithLabelValues("metrics_test")), 0.5},
		{"fairness", testutil.ToFloat64(FairnessIndex.WithLabelValues("metrics_test")), 0.8},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

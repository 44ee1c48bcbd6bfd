package fl

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestFedAvgAggregate(t *testing.T) {
	tests := []struct {
		name          string
		updates       []Update
		weights       []float64
		expectedError error
		expected      []float64
		samples       int
	}{
		{
			name: "simple weighted average",
			updates: []Update{
				{DeviceID: "p1", NumSamples: 10, Weights: []float64{1, 2, 3}},
				{DeviceID: "p2", NumSamples: 20, Weights: []float64{2, 3, 4}},
			},
			weights:  []float64{10, 20},
			expected: []float64{50.0 / 30, 80.0 / 30, 110.0 / 30},
			samples:  30,
		},
		{
			name: "equal weights",
			updates: []Update{
				{DeviceID: "p1", NumSamples: 5, Weights: []float64{1, 2}},
				{DeviceID: "p2", NumSamples: 5, Weights: []float64{3, 4}},
			},
			weights:  []float64{1, 1},
			expected: []float64{2, 3},
			samples:  10,
		},
		{
			name:          "no updates",
			expectedError: ErrNoUpdates,
		},
		{
			name: "mismatched dimensions",
			updates: []Update{
				{Weights: []float64{1, 2}},
				{Weights: []float64{1}},
			},
			weights:       []float64{1, 1},
			expectedError: ErrDimensionMismatch,
		},
		{
			name:          "zero total weight",
			updates:       []Update{{Weights: []float64{1}}},
			weights:       []float64{0},
			expectedError: ErrZeroWeight,
		},
		{
			name:          "weight count mismatch",
			updates:       []Update{{Weights: []float64{1}}},
			weights:       []float64{1, 2},
			expectedError: ErrWeightCountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewFedAvgAggregator().Aggregate(tt.updates, tt.weights)
			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("Aggregate() error = %v, want %v", err, tt.expectedError)
				}

				return
			}
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			for i := range tt.expected {
				if math.Abs(model.Weights[i]-tt.expected[i]) > 1e-4 {
					t.Errorf("Weights[%d] = %f, want %f", i, model.Weights[i], tt.expected[i])
				}
			}
			if model.Samples != tt.samples {
				t.Errorf("Samples = %d, want %d", model.Samples, tt.samples)
			}
		})
	}
}

func TestSimTrainerIsDeterministic(t *testing.T) {
	trainer := NewSimTrainer(4, 0.5, 0.01, 0)
	job := Job{Round: 3, DeviceID: "device-00001", PartitionSize: 50, Model: InitialModel(4)}

	a, err := trainer.TrainLocal(context.Background(), job)
	if err != nil {
		t.Fatalf("TrainLocal() error = %v", err)
	}
	b, err := trainer.TrainLocal(context.Background(), job)
	if err != nil {
		t.Fatalf("TrainLocal() error = %v", err)
	}
	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			t.Fatalf("Weights[%d] differ: %v vs %v", i, a.Weights[i], b.Weights[i])
		}
	}
	if a.NumSamples != 50 {
		t.Errorf("NumSamples = %d, want 50", a.NumSamples)
	}
}

func TestSimTrainerEpochsAndLoss(t *testing.T) {
	trainer := NewSimTrainer(4, 0.5, 0, 0)
	evaluator := NewDistanceEvaluator(trainer.Optimum, 1)
	job := Job{Round: 1, DeviceID: "device-00002", PartitionSize: 20, Model: InitialModel(4)}

	one, err := trainer.TrainLocal(context.Background(), job)
	if err != nil {
		t.Fatalf("TrainLocal() error = %v", err)
	}
	job.Epochs = 3
	three, err := trainer.TrainLocal(context.Background(), job)
	if err != nil {
		t.Fatalf("TrainLocal() error = %v", err)
	}

	accOne, _ := evaluator.Evaluate(context.Background(), Model{Weights: one.Weights})
	accThree, _ := evaluator.Evaluate(context.Background(), Model{Weights: three.Weights})
	if math.Abs(accOne-0.5) > 1e-9 || math.Abs(accThree-0.875) > 1e-9 {
		t.Errorf("accuracy after 1 and 3 epochs = %v, %v, want 0.5, 0.875", accOne, accThree)
	}

	if one.Loss < 0.5 || one.Loss >= 1.5 {
		t.Errorf("Loss = %v, want in [0.5, 1.5)", one.Loss)
	}
	if one.Loss != three.Loss {
		t.Errorf("Loss depends on epochs: %v vs %v", one.Loss, three.Loss)
	}

	job.Model = Model{Weights: trainer.Optimum}
	converged, err := trainer.TrainLocal(context.Background(), job)
	if err != nil {
		t.Fatalf("TrainLocal() error = %v", err)
	}
	if converged.Loss != 0 {
		t.Errorf("Loss at optimum = %v, want 0", converged.Loss)
	}
}

func TestSimTrainerHonoursContext(t *testing.T) {
	trainer := NewSimTrainer(2, 0.5, 0, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := trainer.TrainLocal(ctx, Job{DeviceID: "a", Model: InitialModel(2)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("TrainLocal() error = %v, want DeadlineExceeded", err)
	}
}

func TestTrainingImprovesAccuracy(t *testing.T) {
	trainer := NewSimTrainer(8, 0.5, 0.001, 0)
	evaluator := NewDistanceEvaluator(trainer.Optimum, 0.9)
	model := InitialModel(8)

	initial, err := evaluator.Evaluate(context.Background(), model)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if initial != 0 {
		t.Errorf("initial accuracy = %v, want 0", initial)
	}

	for round := range 5 {
		var updates []Update
		var weights []float64
		for _, id := range []string{"a", "b", "c"} {
			u, err := trainer.TrainLocal(context.Background(), Job{Round: round, DeviceID: id, PartitionSize: 10, Model: model})
			if err != nil {
				t.Fatalf("TrainLocal() error = %v", err)
			}
			updates = append(updates, u)
			weights = append(weights, 10)
		}
		if model, err = NewFedAvgAggregator().Aggregate(updates, weights); err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}
	}

	final, err := evaluator.Evaluate(context.Background(), model)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if final <= 0.8 || final > 0.9 {
		t.Errorf("accuracy after 5 rounds = %v, want in (0.8, 0.9]", final)
	}
}

package fl

import (
	"context"
	"time"
)

// Job is what the scheduler hands to a trainer for one selected device.
type Job struct {
	Round         int           `json:"round"`
	DeviceID      string        `json:"device_id"`
	PartitionSize int           `json:"partition_size"`
	TimeBudget    time.Duration `json:"time_budget"`
	// Epochs is the number of local epochs to train; zero means one.
	Epochs int   `json:"epochs,omitempty"`
	Model  Model `json:"model"`
}

type Update struct {
	Round      int            `json:"round"`
	DeviceID   string         `json:"device_id"`
	NumSamples int            `json:"num_samples"`
	Weights    []float64      `json:"weights"`
	// Loss is the root mean square training loss over the local samples.
	Loss    float64        `json:"loss"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

type Model struct {
	Version  int            `json:"version"`
	Weights  []float64      `json:"weights"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Samples is the cumulative number of samples aggregated into the model.
	Samples int `json:"samples"`
}

// Trainer performs local training on one device. Calls for different
// devices may run concurrently.
type Trainer interface {
	TrainLocal(ctx context.Context, job Job) (Update, error)
}

type Aggregator interface {
	Aggregate(updates []Update, weights []float64) (Model, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, model Model) (float64, error)
}

package fl

import (
	"errors"
)

var (
	ErrNoUpdates           = errors.New("no updates to aggregate")
	ErrZeroWeight          = errors.New("cannot aggregate: total weight is zero")
	ErrDimensionMismatch   = errors.New("cannot aggregate: mismatched vector dimensions")
	ErrWeightCountMismatch = errors.New("cannot aggregate: weights and updates differ in length")
)

type FedAvg struct{}

func NewFedAvgAggregator() Aggregator {
	return FedAvg{}
}

// Aggregate returns the weighted mean of the update vectors.
func (FedAvg) Aggregate(updates []Update, weights []float64) (Model, error) {
	if len(updates) == 0 {
		return Model{}, ErrNoUpdates
	}
	if len(weights) != len(updates) {
		return Model{}, ErrWeightCountMismatch
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return Model{}, ErrZeroWeight
	}

	dim := len(updates[0].Weights)
	if dim == 0 {
		return Model{}, errors.New("invalid vector: empty")
	}

	sum := make([]float64, dim)
	samples := 0
	for i, u := range updates {
		if len(u.Weights) != dim {
			return Model{}, ErrDimensionMismatch
		}
		for j := range u.Weights {
			sum[j] += u.Weights[j] * weights[i]
		}
		samples += u.NumSamples
	}

	for i := range sum {
		sum[i] /= total
	}

	return Model{
		Weights: sum,
		Samples: samples,
		Metadata: map[string]any{
			"num_clients":   len(updates),
			"total_samples": samples,
			"algorithm":     "fedavg",
		},
	}, nil
}

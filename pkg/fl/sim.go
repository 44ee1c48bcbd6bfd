package fl

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

var errEmptyModel = errors.New("model has no weights")

// SimTrainer stands in for real local training: every epoch moves the model
// towards a fixed optimum with per-device noise. The noise is seeded from the
// device ID and round, so runs are reproducible. The reported loss is the
// distance of the received model to the optimum scaled by a fixed per-device
// data quality factor in [0.5, 1.5).
type SimTrainer struct {
	Optimum      []float64
	LearningRate float64
	Noise        float64
	// Latency is wall-clock time spent per call, to exercise dispatch timeouts.
	Latency time.Duration
}

func NewSimTrainer(dim int, learningRate, noise float64, latency time.Duration) *SimTrainer {
	optimum := make([]float64, dim)
	for i := range optimum {
		optimum[i] = 1
	}

	return &SimTrainer{
		Optimum:      optimum,
		LearningRate: learningRate,
		Noise:        noise,
		Latency:      latency,
	}
}

func InitialModel(dim int) Model {
	return Model{Weights: make([]float64, dim)}
}

func (st *SimTrainer) TrainLocal(ctx context.Context, job Job) (Update, error) {
	if len(job.Model.Weights) != len(st.Optimum) {
		return Update{}, errEmptyModel
	}

	if st.Latency > 0 {
		timer := time.NewTimer(st.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-timer.C:
		}
	}

	seed := xxhash.Sum64String(job.DeviceID + "/" + strconv.Itoa(job.Round))
	rng := rand.New(rand.NewSource(int64(seed)))

	weights := slices.Clone(job.Model.Weights)
	for range max(job.Epochs, 1) {
		for i, w := range weights {
			weights[i] = w + st.LearningRate*(st.Optimum[i]-w) + st.Noise*rng.NormFloat64()
		}
	}

	return Update{
		Round:      job.Round,
		DeviceID:   job.DeviceID,
		NumSamples: job.PartitionSize,
		Weights:    weights,
		Loss:       st.loss(job.DeviceID, job.Model.Weights),
	}, nil
}

func (st *SimTrainer) loss(deviceID string, weights []float64) float64 {
	var sq float64
	for i, w := range weights {
		d := w - st.Optimum[i]
		sq += d * d
	}
	quality := 0.5 + float64(xxhash.Sum64String(deviceID)%1000)/1000

	return quality * math.Sqrt(sq/float64(len(weights)))
}

// DistanceEvaluator scores a model by its distance to the trainer optimum:
// 0 at the initial model and MaxAccuracy at the optimum.
type DistanceEvaluator struct {
	Optimum     []float64
	MaxAccuracy float64
}

func NewDistanceEvaluator(optimum []float64, maxAccuracy float64) *DistanceEvaluator {
	return &DistanceEvaluator{Optimum: optimum, MaxAccuracy: maxAccuracy}
}

func (de *DistanceEvaluator) Evaluate(ctx context.Context, model Model) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(model.Weights) != len(de.Optimum) || len(de.Optimum) == 0 {
		return 0, errEmptyModel
	}

	var dist, norm float64
	for i := range model.Weights {
		d := model.Weights[i] - de.Optimum[i]
		dist += d * d
		norm += de.Optimum[i] * de.Optimum[i]
	}
	if norm == 0 {
		return de.MaxAccuracy, nil
	}

	return de.MaxAccuracy * math.Max(0, 1-math.Sqrt(dist/norm)), nil
}

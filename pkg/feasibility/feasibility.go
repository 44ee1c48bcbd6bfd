package feasibility

import (
	"context"
	"math"
	"time"

	"github.com/absmach/flsim/device"
	"golang.org/x/sync/errgroup"
)

type Reason uint8

const (
	None Reason = iota
	InsufficientEnergy
	InsufficientTime
	DeviceExhausted
)

// Reasons lists the infeasibility reasons in reporting order.
var Reasons = []Reason{InsufficientEnergy, InsufficientTime, DeviceExhausted}

func (r Reason) String() string {
	switch r {
	case None:
		return "None"
	case InsufficientEnergy:
		return "InsufficientEnergy"
	case InsufficientTime:
		return "InsufficientTime"
	case DeviceExhausted:
		return "DeviceExhausted"
	default:
		return "Unknown"
	}
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Workload is the per-round cost model. LocalEpochs is the minimum number of
// epochs a participant trains; MaxLocalEpochs, when larger, lets a policy
// extend a device up to what its deadline and budget allow.
type Workload struct {
	CyclesPerSample float64 `json:"cycles_per_sample"`
	EnergyPerCycle  float64 `json:"energy_per_cycle"`
	LocalEpochs     int     `json:"local_epochs"`
	MaxLocalEpochs  int     `json:"max_local_epochs,omitempty"`
}

func (w Workload) minEpochs() int {
	return max(w.LocalEpochs, 1)
}

func (w Workload) maxEpochs() int {
	return max(w.MaxLocalEpochs, w.minEpochs())
}

func (w Workload) cycles(partitionSize int) float64 {
	return float64(partitionSize) * float64(w.minEpochs()) * w.CyclesPerSample
}

// WithEpochs returns the workload fixed at n epochs. Non-positive n keeps w.
func (w Workload) WithEpochs(n int) Workload {
	if n <= 0 {
		return w
	}
	w.LocalEpochs = n
	w.MaxLocalEpochs = 0

	return w
}

// Result is the outcome for one device. Time is in seconds and is +Inf for a
// device without compute capacity. Time and Energy are the cost at the
// minimum epoch count; MaxTime and MaxEnergy are the cost at Epochs, the
// largest epoch count a feasible device still finishes within both limits.
type Result struct {
	Feasible  bool    `json:"feasible"`
	Reason    Reason  `json:"reason"`
	Time      float64 `json:"time"`
	Energy    float64 `json:"energy"`
	Epochs    int     `json:"epochs"`
	MaxTime   float64 `json:"max_time"`
	MaxEnergy float64 `json:"max_energy"`
}

// Estimate returns the training time and energy cost of the workload on the
// device, regardless of feasibility.
func Estimate(s device.Snapshot, w Workload) (seconds, energy float64) {
	cycles := w.cycles(s.PartitionSize)
	if s.Capacity <= 0 {
		if cycles == 0 {
			return 0, 0
		}

		return math.Inf(1), 0
	}
	seconds = cycles / s.Capacity
	energy = seconds * w.EnergyPerCycle * s.Capacity

	return seconds, energy
}

// Evaluate is a pure function of the snapshot, workload and deadline.
func Evaluate(s device.Snapshot, w Workload, deadline time.Duration) Result {
	seconds, energy := Estimate(s, w)
	res := Result{
		Time:      seconds,
		Energy:    energy,
		Epochs:    w.minEpochs(),
		MaxTime:   seconds,
		MaxEnergy: energy,
	}

	switch {
	case s.Status == device.Exhausted:
		res.Reason = DeviceExhausted
	case seconds > deadline.Seconds():
		res.Reason = InsufficientTime
	case energy > s.Energy:
		res.Reason = InsufficientEnergy
	default:
		res.Feasible = true
		res.Epochs, res.MaxTime, res.MaxEnergy = extend(s, w, deadline, seconds, energy)
	}

	return res
}

// extend finds the largest epoch count in [min, max] whose cost still fits
// the deadline and the remaining budget. The minimum is known to fit.
func extend(s device.Snapshot, w Workload, deadline time.Duration, seconds, energy float64) (int, float64, float64) {
	lo, hi := w.minEpochs(), w.maxEpochs()
	epochTime := seconds / float64(lo)
	epochEnergy := energy / float64(lo)

	for e := hi; e > lo; e-- {
		t, en := epochTime*float64(e), epochEnergy*float64(e)
		if t <= deadline.Seconds() && en <= s.Energy {
			return e, t, en
		}
	}

	return lo, seconds, energy
}

// Attempted is the energy drawn by work performed up to the deadline.
func Attempted(s device.Snapshot, w Workload, deadline time.Duration) float64 {
	seconds, _ := Estimate(s, w)
	if s.Capacity <= 0 {
		return 0
	}
	seconds = math.Min(seconds, deadline.Seconds())

	return seconds * w.EnergyPerCycle * s.Capacity
}

// EvaluateAll evaluates every snapshot concurrently with at most workers
// goroutines (unbounded when workers <= 0). Each goroutine writes only its
// own slot, so no locking is needed.
func EvaluateAll(ctx context.Context, snapshots []device.Snapshot, w Workload, deadline time.Duration, workers int) (map[string]Result, error) {
	results := make([]Result, len(snapshots))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range snapshots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Evaluate(snapshots[i], w, deadline)

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Result, len(snapshots))
	for i, s := range snapshots {
		out[s.ID] = results[i]
	}

	return out, nil
}

package trace

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrOutOfRangeTime = errors.New("time outside trace range")
	ErrUnknownDevice  = errors.New("device has no trace samples")
	ErrMalformedTrace = errors.New("malformed trace")
)

type Interpolation uint8

const (
	StepHold Interpolation = iota
	Linear
)

func (i Interpolation) String() string {
	switch i {
	case StepHold:
		return "step"
	case Linear:
		return "linear"
	default:
		return "unknown"
	}
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "", "step":
		return StepHold, nil
	case "linear":
		return Linear, nil
	default:
		return StepHold, fmt.Errorf("%w: unknown interpolation %q", ErrMalformedTrace, s)
	}
}

// Sample is one trace point. Capacity is the compute rate in cycles per
// second, Supply the harvested energy per second.
type Sample struct {
	Offset   time.Duration `json:"offset"`
	Capacity float64       `json:"capacity"`
	Supply   float64       `json:"supply"`
}

// Trace is the replayed resource timeline of every device. It is never
// mutated after New returns, so concurrent readers need no locking.
type Trace struct {
	start   time.Time
	horizon time.Time
	mode    Interpolation
	samples map[string][]Sample
}

// New copies and sorts samples per device. Samples with negative values or
// negative offsets are rejected.
func New(start time.Time, horizon time.Duration, mode Interpolation, samples map[string][]Sample) (*Trace, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive", ErrMalformedTrace)
	}

	owned := make(map[string][]Sample, len(samples))
	for id, ss := range samples {
		if len(ss) == 0 {
			continue
		}
		cp := make([]Sample, len(ss))
		copy(cp, ss)
		for _, s := range cp {
			if s.Offset < 0 || s.Capacity < 0 || s.Supply < 0 {
				return nil, fmt.Errorf("%w: negative value for device %s", ErrMalformedTrace, id)
			}
			if !finite(s.Capacity) || !finite(s.Supply) {
				return nil, fmt.Errorf("%w: non-finite value for device %s", ErrMalformedTrace, id)
			}
		}
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].Offset < cp[j].Offset })
		owned[id] = cp
	}

	return &Trace{
		start:   start,
		horizon: start.Add(horizon),
		mode:    mode,
		samples: owned,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (tr *Trace) Start() time.Time { return tr.start }

func (tr *Trace) Horizon() time.Time { return tr.horizon }

func (tr *Trace) Mode() Interpolation { return tr.mode }

// Devices returns the IDs that have samples, in ascending order.
func (tr *Trace) Devices() []string {
	ids := make([]string, 0, len(tr.samples))
	for id := range tr.samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (tr *Trace) CapacityAt(deviceID string, t time.Time) (float64, error) {
	s, err := tr.at(deviceID, t)
	if err != nil {
		return 0, err
	}

	return s.Capacity, nil
}

func (tr *Trace) SupplyAt(deviceID string, t time.Time) (float64, error) {
	s, err := tr.at(deviceID, t)
	if err != nil {
		return 0, err
	}

	return s.Supply, nil
}

func (tr *Trace) at(deviceID string, t time.Time) (Sample, error) {
	if t.Before(tr.start) || t.After(tr.horizon) {
		return Sample{}, fmt.Errorf("%w: %s not in [%s, %s]", ErrOutOfRangeTime,
			t.Format(time.RFC3339), tr.start.Format(time.RFC3339), tr.horizon.Format(time.RFC3339))
	}

	ss, ok := tr.samples[deviceID]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	off := t.Sub(tr.start)
	// first sample strictly after off
	i := sort.Search(len(ss), func(i int) bool { return ss[i].Offset > off })
	switch {
	case i == 0:
		return ss[0], nil
	case i == len(ss):
		return ss[len(ss)-1], nil
	}

	prev, next := ss[i-1], ss[i]
	if tr.mode == StepHold || next.Offset == prev.Offset {
		return prev, nil
	}

	frac := float64(off-prev.Offset) / float64(next.Offset-prev.Offset)

	return Sample{
		Offset:   off,
		Capacity: prev.Capacity + (next.Capacity-prev.Capacity)*frac,
		Supply:   prev.Supply + (next.Supply-prev.Supply)*frac,
	}, nil
}

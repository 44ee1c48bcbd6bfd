package device

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/absmach/flsim/pkg/trace"
)

var (
	ErrInsufficientEnergy = errors.New("insufficient energy")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNegativeCost       = errors.New("negative energy cost")
)

type Status uint8

const (
	Idle Status = iota
	Training
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Training:
		return "Training"
	case Exhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var validTransitions = map[Status][]Status{
	Idle:      {Training, Exhausted},
	Training:  {Idle, Exhausted},
	Exhausted: {Idle},
}

func ValidTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

// Resources is the read side of a resource trace.
type Resources interface {
	CapacityAt(deviceID string, t time.Time) (float64, error)
	SupplyAt(deviceID string, t time.Time) (float64, error)
}

// Device is the mutable runtime state of one simulated device. It is owned
// by the round scheduler; nothing else mutates it.
type Device struct {
	ID              string
	Name            string
	PartitionSize   int
	BatteryCapacity float64
	Energy          float64
	Capacity        float64
	Supply          float64
	Status          Status
	Participations  int
	// StatUtility is the statistical utility of the device's last completed
	// update: samples times the root mean square training loss.
	StatUtility float64
	LastRefresh time.Time
}

func New(spec trace.DeviceSpec, at time.Time) *Device {
	energy := min(max(spec.InitialEnergy, 0), spec.BatteryCapacity)

	return &Device{
		ID:              spec.ID,
		Name:            spec.Name,
		PartitionSize:   spec.PartitionSize,
		BatteryCapacity: spec.BatteryCapacity,
		Energy:          energy,
		Status:          Idle,
		LastRefresh:     at,
	}
}

// Refresh reads the trace at t and harvests supply(t)·Δt into the battery.
// Energy above the battery capacity is lost.
func (d *Device) Refresh(res Resources, t time.Time) error {
	capacity, err := res.CapacityAt(d.ID, t)
	if err != nil {
		return err
	}
	supply, err := res.SupplyAt(d.ID, t)
	if err != nil {
		return err
	}

	d.Capacity = capacity
	d.Supply = supply

	if dt := t.Sub(d.LastRefresh).Seconds(); dt > 0 {
		d.Energy = min(d.Energy+supply*dt, d.BatteryCapacity)
	}
	d.LastRefresh = t

	return nil
}

// Charge deducts cost from the budget. The budget is left untouched on error.
func (d *Device) Charge(cost float64) error {
	if cost < 0 {
		return ErrNegativeCost
	}
	if cost > d.Energy {
		return fmt.Errorf("%w: device %s needs %.4f, has %.4f", ErrInsufficientEnergy, d.ID, cost, d.Energy)
	}
	d.Energy -= cost
	if d.Energy < 0 {
		d.Energy = 0
	}

	return nil
}

func (d *Device) CapacityNow() float64 {
	return d.Capacity
}

func (d *Device) Transition(to Status) error {
	if d.Status == to {
		return nil
	}
	if !ValidTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s for device %s", ErrInvalidTransition, d.Status, to, d.ID)
	}
	d.Status = to

	return nil
}

// UpdateExhaustion marks an idle device Exhausted when its budget falls under
// threshold and returns an exhausted device to Idle once it recovers.
// Training devices are left alone until the round completes.
func (d *Device) UpdateExhaustion(threshold float64) {
	switch {
	case d.Status == Idle && d.Energy < threshold:
		d.Status = Exhausted
	case d.Status == Exhausted && d.Energy >= threshold:
		d.Status = Idle
	}
}

// Snapshot is an immutable copy taken at round start. Feasibility and
// selection only ever see snapshots.
type Snapshot struct {
	ID              string  `json:"id"`
	PartitionSize   int     `json:"partition_size"`
	BatteryCapacity float64 `json:"battery_capacity"`
	Energy          float64 `json:"energy"`
	Capacity        float64 `json:"capacity"`
	Status          Status  `json:"status"`
	Participations  int     `json:"participations"`
	StatUtility     float64 `json:"stat_utility"`
}

func (d *Device) Snapshot() Snapshot {
	return Snapshot{
		ID:              d.ID,
		PartitionSize:   d.PartitionSize,
		BatteryCapacity: d.BatteryCapacity,
		Energy:          d.Energy,
		Capacity:        d.Capacity,
		Status:          d.Status,
		Participations:  d.Participations,
		StatUtility:     d.StatUtility,
	}
}

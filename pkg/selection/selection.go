package selection

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/absmach/flsim/device"
	"github.com/absmach/flsim/pkg/feasibility"
)

var ErrUnknownPolicy = errors.New("unknown selection policy")

type Kind string

const (
	KindEnergyAware   Kind = "energy_aware"
	KindRandom        Kind = "random"
	KindUnconstrained Kind = "unconstrained"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindEnergyAware, KindRandom, KindUnconstrained:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Assignment is a device chosen for the round together with the cost it was
// chosen at. Time is in seconds.
type Assignment struct {
	DeviceID string             `json:"device_id"`
	Time     float64            `json:"time"`
	Energy   float64            `json:"energy"`
	Score    float64            `json:"score,omitempty"`
	Reason   feasibility.Reason `json:"reason"`
	// Epochs is the local epoch count to train; zero keeps the workload's.
	Epochs int `json:"epochs,omitempty"`
}

// Outcome is the participant set of one round. Dropped holds devices a
// policy drew but could not use; they are never padded by substitutes.
// Withheld lists devices the policy kept out regardless of feasibility.
type Outcome struct {
	Selected []Assignment `json:"selected"`
	Dropped  []Assignment `json:"dropped,omitempty"`
	Withheld []string     `json:"withheld,omitempty"`
	Score    float64      `json:"score"`
}

func (o Outcome) IDs() []string {
	ids := make([]string, 0, len(o.Selected))
	for _, a := range o.Selected {
		ids = append(ids, a.DeviceID)
	}

	return ids
}

// Policy chooses the round's participants. Candidates are ordered by ID.
// Implementations must not return an infeasible device in Selected unless
// they ignore resource limits by construction.
type Policy interface {
	Name() string
	Select(candidates []device.Snapshot, feas map[string]feasibility.Result, target int) Outcome
	// Constrained reports whether selected devices are charged against
	// their energy budgets.
	Constrained() bool
}

type Options struct {
	Seed             int64
	FairnessWeight   float64
	SlackWeight      float64
	FairnessExponent float64
	Utility          Utility
	// Alpha enables probabilistic exclusion of low utility devices when
	// positive. ExclusionFactor is the utility quantile, in [0, 1], at or
	// below which participants are excluded.
	Alpha           float64
	ExclusionFactor float64
}

func New(kind Kind, opts Options) (Policy, error) {
	switch kind {
	case KindEnergyAware:
		return NewEnergyAware(opts.FairnessWeight, opts.SlackWeight, opts.FairnessExponent,
			WithUtility(opts.Utility),
			WithExclusion(opts.Alpha, opts.ExclusionFactor, rand.New(rand.NewSource(opts.Seed))),
		), nil
	case KindRandom:
		return NewRandom(rand.New(rand.NewSource(opts.Seed))), nil
	case KindUnconstrained:
		return NewUnconstrained(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, kind)
	}
}

func assignment(id string, r feasibility.Result) Assignment {
	return Assignment{
		DeviceID: id,
		Time:     r.Time,
		Energy:   r.Energy,
		Reason:   r.Reason,
	}
}

package scheduler

import (
	"fmt"
	"slices"
)

type Phase uint8

const (
	Idle Phase = iota
	AdvanceTime
	RefreshDevices
	EvaluateFeasibility
	Select
	DispatchAndCharge
	Complete
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case AdvanceTime:
		return "AdvanceTime"
	case RefreshDevices:
		return "RefreshDevices"
	case EvaluateFeasibility:
		return "EvaluateFeasibility"
	case Select:
		return "Select"
	case DispatchAndCharge:
		return "DispatchAndCharge"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var validPhaseTransitions = map[Phase][]Phase{
	Idle:                {AdvanceTime},
	AdvanceTime:         {RefreshDevices, Failed},
	RefreshDevices:      {EvaluateFeasibility, Failed},
	EvaluateFeasibility: {Select, Failed},
	Select:              {DispatchAndCharge, Failed},
	DispatchAndCharge:   {Complete, Failed},
	Complete:            {AdvanceTime},
	Failed:              {}, // Terminal state
}

func validPhaseTransition(from, to Phase) bool {
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

func (s *Scheduler) enter(p Phase) error {
	if !validPhaseTransition(s.phase, p) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, s.phase, p)
	}
	s.phase = p

	return nil
}

package selection

import (
	"math/rand"
	"sort"

	"github.com/absmach/flsim/device"
	"github.com/absmach/flsim/pkg/feasibility"
)

// Random draws target devices uniformly without replacement, blind to
// feasibility, then drops the draws that turn out infeasible. The source is
// advanced on every call, so a fixed seed yields a fixed sequence of rounds.
// Not safe for concurrent use.
type Random struct {
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (p *Random) Name() string { return string(KindRandom) }

func (p *Random) Constrained() bool { return true }

func (p *Random) Select(candidates []device.Snapshot, feas map[string]feasibility.Result, target int) Outcome {
	if target <= 0 || len(candidates) == 0 {
		return Outcome{}
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	sort.Strings(ids)

	n := min(target, len(ids))
	perm := p.rng.Perm(len(ids))[:n]

	var out Outcome
	for _, i := range perm {
		id := ids[i]
		r, ok := feas[id]
		if !ok {
			continue
		}
		a := assignment(id, r)
		if r.Feasible {
			out.Selected = append(out.Selected, a)

			continue
		}
		out.Dropped = append(out.Dropped, a)
	}

	return out
}

// Unconstrained selects every candidate. Costs are carried for accounting
// only; they never block selection and are never charged.
type Unconstrained struct{}

func NewUnconstrained() *Unconstrained {
	return &Unconstrained{}
}

func (p *Unconstrained) Name() string { return string(KindUnconstrained) }

func (p *Unconstrained) Constrained() bool { return false }

func (p *Unconstrained) Select(candidates []device.Snapshot, feas map[string]feasibility.Result, _ int) Outcome {
	out := Outcome{Selected: make([]Assignment, 0, len(candidates))}
	for _, c := range candidates {
		out.Selected = append(out.Selected, assignment(c.ID, feas[c.ID]))
	}
	sort.Slice(out.Selected, func(i, j int) bool {
		return out.Selected[i].DeviceID < out.Selected[j].DeviceID
	})

	return out
}

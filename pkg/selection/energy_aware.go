package selection

import (
	"math"
	"math/rand"
	"sort"

	"github.com/absmach/flsim/device"
	"github.com/absmach/flsim/pkg/feasibility"
)

// EnergyAware ranks feasible devices by a weighted sum of a utility term and
// the energy left after paying for the round. The utility term is the
// participation fairness by default. Selected devices train for the largest
// epoch count their deadline and budget allow.
type EnergyAware struct {
	fairnessWeight   float64
	slackWeight      float64
	fairnessExponent float64
	utility          Utility
	exclusion        *exclusion
}

type EnergyAwareOption func(*EnergyAware)

// WithUtility switches the utility term to the given judge.
func WithUtility(u Utility) EnergyAwareOption {
	return func(p *EnergyAware) {
		p.utility = u
	}
}

// WithExclusion withholds low utility participants, releasing them with a
// probability driven by alpha. A non-positive alpha disables it.
func WithExclusion(alpha, factor float64, rng *rand.Rand) EnergyAwareOption {
	return func(p *EnergyAware) {
		if alpha <= 0 {
			return
		}
		p.exclusion = newExclusion(alpha, factor, rng)
	}
}

func NewEnergyAware(fairnessWeight, slackWeight, fairnessExponent float64, opts ...EnergyAwareOption) *EnergyAware {
	if fairnessWeight == 0 && slackWeight == 0 {
		fairnessWeight, slackWeight = 1, 1
	}
	if fairnessExponent <= 0 {
		fairnessExponent = 1
	}

	p := &EnergyAware{
		fairnessWeight:   fairnessWeight,
		slackWeight:      slackWeight,
		fairnessExponent: fairnessExponent,
		utility:          UtilityParticipation,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *EnergyAware) Name() string { return string(KindEnergyAware) }

func (p *EnergyAware) Constrained() bool { return true }

func (p *EnergyAware) Select(candidates []device.Snapshot, feas map[string]feasibility.Result, target int) Outcome {
	var withheld []string
	if p.exclusion != nil {
		withheld = p.exclusion.update(candidates)
	}
	if target <= 0 {
		return Outcome{Withheld: withheld}
	}

	feasible := make([]device.Snapshot, 0, len(candidates))
	for _, c := range candidates {
		if p.exclusion != nil && p.exclusion.excluded[c.ID] {
			continue
		}
		if r, ok := feas[c.ID]; ok && r.Feasible {
			feasible = append(feasible, c)
		}
	}
	if len(feasible) == 0 {
		return Outcome{Withheld: withheld}
	}

	utility := p.judge(feasible)
	ranked := make([]Assignment, 0, len(feasible))
	for _, c := range feasible {
		r := feas[c.ID]
		a := Assignment{
			DeviceID: c.ID,
			Time:     r.MaxTime,
			Energy:   r.MaxEnergy,
			Epochs:   r.Epochs,
			Reason:   r.Reason,
			Score:    p.fairnessWeight*utility[c.ID] + p.slackWeight*slack(c, r),
		}
		ranked = append(ranked, a)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}

		return ranked[i].DeviceID < ranked[j].DeviceID
	})

	if len(ranked) > target {
		ranked = ranked[:target]
	}

	var total float64
	for _, a := range ranked {
		total += a.Score
	}

	return Outcome{
		Selected: ranked,
		Withheld: withheld,
		Score:    total / float64(len(ranked)),
	}
}

func (p *EnergyAware) judge(snapshots []device.Snapshot) map[string]float64 {
	if p.utility == UtilityStat {
		return StatUtility(snapshots)
	}

	return Fairness(snapshots, p.fairnessExponent)
}

// Fairness weights devices by (min participation / own participation) raised
// to exponent, so devices that trained least weigh 1. A device that never
// participated weighs 1.
func Fairness(snapshots []device.Snapshot, exponent float64) map[string]float64 {
	out := make(map[string]float64, len(snapshots))
	if len(snapshots) == 0 {
		return out
	}

	least := math.MaxInt
	for _, s := range snapshots {
		least = min(least, s.Participations)
	}
	least = max(least, 1)

	for _, s := range snapshots {
		if s.Participations == 0 {
			out[s.ID] = 1

			continue
		}
		out[s.ID] = math.Pow(float64(least)/float64(s.Participations), exponent)
	}

	return out
}

// slack is the share of the battery left after paying the round's minimum
// cost.
func slack(s device.Snapshot, r feasibility.Result) float64 {
	if s.BatteryCapacity <= 0 {
		return 0
	}

	return math.Max(0, s.Energy-r.Energy) / s.BatteryCapacity
}

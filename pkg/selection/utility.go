package selection

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/absmach/flsim/device"
)

// Utility names the judge that scores how useful a device is to the model.
type Utility string

const (
	// UtilityParticipation favours devices that trained least.
	UtilityParticipation Utility = "participation"
	// UtilityStat favours devices whose last update carried the most loss.
	UtilityStat Utility = "stat"
)

func ParseUtility(s string) (Utility, error) {
	switch u := Utility(s); u {
	case "":
		return UtilityParticipation, nil
	case UtilityParticipation, UtilityStat:
		return u, nil
	default:
		return "", fmt.Errorf("unknown utility judge %q", s)
	}
}

// StatUtility min-max normalises the statistical utility of the devices that
// have trained at least once. Devices that never trained score 1 so they are
// explored first, and so does everyone when all utilities are equal.
func StatUtility(snapshots []device.Snapshot) map[string]float64 {
	out := make(map[string]float64, len(snapshots))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range snapshots {
		if s.Participations == 0 {
			continue
		}
		lo = math.Min(lo, s.StatUtility)
		hi = math.Max(hi, s.StatUtility)
	}

	for _, s := range snapshots {
		if s.Participations == 0 || hi <= lo {
			out[s.ID] = 1

			continue
		}
		out[s.ID] = (s.StatUtility - lo) / (hi - lo)
	}

	return out
}

// exclusion withholds devices whose last update was of low statistical
// utility. After every round the participants at or below the factor
// quantile of utility join the excluded set; each excluded device is then
// released with probability min(alpha/surplus, 1), where surplus is how many
// rounds it trained above the population mean. Not safe for concurrent use.
type exclusion struct {
	alpha    float64
	factor   float64
	rng      *rand.Rand
	excluded map[string]bool
	seen     map[string]int
}

func newExclusion(alpha, factor float64, rng *rand.Rand) *exclusion {
	return &exclusion{
		alpha:    alpha,
		factor:   factor,
		rng:      rng,
		excluded: make(map[string]bool),
		seen:     make(map[string]int),
	}
}

// update folds in the participations observed since the previous call and
// returns the excluded IDs in order.
func (e *exclusion) update(candidates []device.Snapshot) []string {
	var participants []device.Snapshot
	var total float64
	for _, c := range candidates {
		if c.Participations > e.seen[c.ID] {
			participants = append(participants, c)
		}
		e.seen[c.ID] = c.Participations
		total += float64(c.Participations)
	}
	if len(participants) == 0 {
		return e.ids()
	}

	utilities := make([]float64, len(participants))
	for i, p := range participants {
		utilities[i] = p.StatUtility
	}
	threshold := quantile(utilities, e.factor)
	for _, p := range participants {
		if p.StatUtility <= threshold {
			e.excluded[p.ID] = true
		}
	}

	mean := total / float64(len(candidates))
	for _, id := range e.ids() {
		prob := 1.0
		if surplus := float64(e.seen[id]) - mean; surplus > 0 {
			prob = math.Min(e.alpha/surplus, 1)
		}
		if e.rng.Float64() <= prob {
			delete(e.excluded, id)
		}
	}

	return e.ids()
}

func (e *exclusion) ids() []string {
	ids := make([]string, 0, len(e.excluded))
	for id := range e.excluded {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// quantile interpolates linearly between the closest ranks, q in [0, 1].
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)

	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

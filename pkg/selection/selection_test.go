package selection

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/absmach/flsim/device"
	"github.com/absmach/flsim/pkg/feasibility"
)

var workload = feasibility.Workload{CyclesPerSample: 10, EnergyPerCycle: 0.01, LocalEpochs: 1}

func evaluate(snapshots []device.Snapshot, deadline time.Duration) map[string]feasibility.Result {
	out := make(map[string]feasibility.Result, len(snapshots))
	for _, s := range snapshots {
		out[s.ID] = feasibility.Evaluate(s, workload, deadline)
	}

	return out
}

func randomPopulation(rng *rand.Rand, n int) []device.Snapshot {
	out := make([]device.Snapshot, n)
	for i := range out {
		out[i] = device.Snapshot{
			ID:              fmt.Sprintf("d%03d", i),
			PartitionSize:   10 + rng.Intn(100),
			BatteryCapacity: 10,
			Energy:          rng.Float64() * 10,
			Capacity:        rng.Float64() * 20,
			Participations:  rng.Intn(5),
		}
		if rng.Intn(10) == 0 {
			out[i].Status = device.Exhausted
		}
	}

	return out
}

func TestEnergyAwareThreeDeviceScenario(t *testing.T) {
	// 60 samples at 10 cycles/s costs 6 energy units in 60s.
	candidates := []device.Snapshot{
		{ID: "c", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
		{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
		{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
	}
	feas := evaluate(candidates, time.Hour)

	out := NewEnergyAware(1, 1, 1).Select(candidates, feas, 2)
	if got := out.IDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Select() = %v, want [a b]", got)
	}
	for _, a := range out.Selected {
		if math.Abs(a.Energy-6) > 1e-9 {
			t.Errorf("assigned energy for %s = %v, want 6", a.DeviceID, a.Energy)
		}
	}
}

func TestEnergyAwareRanking(t *testing.T) {
	tests := []struct {
		name       string
		candidates []device.Snapshot
		target     int
		expected   []string
	}{
		{
			name: "starved device preferred",
			candidates: []device.Snapshot{
				{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10, Participations: 4},
				{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10, Participations: 1},
			},
			target:   1,
			expected: []string{"b"},
		},
		{
			name: "energy slack preferred",
			candidates: []device.Snapshot{
				{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 7, Capacity: 10},
				{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 9, Capacity: 10},
			},
			target:   1,
			expected: []string{"b"},
		},
		{
			name: "fewer feasible than target is not padded",
			candidates: []device.Snapshot{
				{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
				{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 2, Capacity: 10},
				{ID: "c", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 0},
			},
			target:   3,
			expected: []string{"a"},
		},
		{
			name: "all infeasible",
			candidates: []device.Snapshot{
				{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 1, Capacity: 10},
			},
			target:   1,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewEnergyAware(1, 1, 1).Select(tt.candidates, evaluate(tt.candidates, time.Hour), tt.target)
			if got := out.IDs(); !slices.Equal(got, tt.expected) {
				t.Errorf("Select() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEnergyAwareNeverSelectsInfeasible(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	policy := NewEnergyAware(1, 1, 2)

	for run := range 200 {
		candidates := randomPopulation(rng, 50)
		feas := evaluate(candidates, 2*time.Minute)
		out := policy.Select(candidates, feas, 1+rng.Intn(20))
		for _, a := range out.Selected {
			if !feas[a.DeviceID].Feasible {
				t.Fatalf("run %d: selected infeasible device %s (%s)", run, a.DeviceID, feas[a.DeviceID].Reason)
			}
		}
	}
}

func TestUnconstrainedIsUpperBound(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	for run := range 200 {
		candidates := randomPopulation(rng, 30)
		feas := evaluate(candidates, 2*time.Minute)
		target := 1 + rng.Intn(30)

		ea := NewEnergyAware(1, 1, 1).Select(candidates, feas, target)
		un := NewUnconstrained().Select(candidates, feas, target)
		if len(un.Selected) < len(ea.Selected) {
			t.Fatalf("run %d: unconstrained selected %d < energy aware %d", run, len(un.Selected), len(ea.Selected))
		}
		if len(un.Selected) != len(candidates) {
			t.Fatalf("run %d: unconstrained selected %d of %d candidates", run, len(un.Selected), len(candidates))
		}
	}
}

func TestRandomIsReproducible(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	candidates := randomPopulation(rng, 40)
	feas := evaluate(candidates, 2*time.Minute)

	run := func() [][]string {
		policy, err := New(KindRandom, Options{Seed: 1234})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		var rounds [][]string
		for range 10 {
			out := policy.Select(candidates, feas, 8)
			ids := out.IDs()
			for _, d := range out.Dropped {
				ids = append(ids, "dropped:"+d.DeviceID)
			}
			rounds = append(rounds, ids)
		}

		return rounds
	}

	first, second := run(), run()
	for i := range first {
		if !slices.Equal(first[i], second[i]) {
			t.Fatalf("round %d differs: %v vs %v", i, first[i], second[i])
		}
	}

	// Candidate order must not change the draw.
	reversed := slices.Clone(candidates)
	slices.Reverse(reversed)
	a := NewRandom(rand.New(rand.NewSource(1))).Select(candidates, feas, 8)
	b := NewRandom(rand.New(rand.NewSource(1))).Select(reversed, feas, 8)
	if !slices.Equal(a.IDs(), b.IDs()) {
		t.Errorf("draw depends on candidate order: %v vs %v", a.IDs(), b.IDs())
	}
}

func TestRandomDropsInfeasibleWithoutSubstitution(t *testing.T) {
	candidates := []device.Snapshot{
		{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 0},
		{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 0},
		{ID: "c", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
	}
	feas := evaluate(candidates, time.Hour)

	for seed := range int64(50) {
		out := NewRandom(rand.New(rand.NewSource(seed))).Select(candidates, feas, 2)
		if got := len(out.Selected) + len(out.Dropped); got != 2 {
			t.Fatalf("seed %d: %d draws, want 2", seed, got)
		}
		for _, a := range out.Selected {
			if a.DeviceID != "c" {
				t.Fatalf("seed %d: selected infeasible %s", seed, a.DeviceID)
			}
		}
		for _, d := range out.Dropped {
			if d.Reason != feasibility.InsufficientTime {
				t.Fatalf("seed %d: dropped %s with reason %s", seed, d.DeviceID, d.Reason)
			}
		}
	}
}

func TestFairness(t *testing.T) {
	snapshots := []device.Snapshot{
		{ID: "never", Participations: 0},
		{ID: "once", Participations: 1},
		{ID: "often", Participations: 4},
	}

	got := Fairness(snapshots, 1)
	expected := map[string]float64{"never": 1, "once": 1, "often": 0.25}
	for id, want := range expected {
		if math.Abs(got[id]-want) > 1e-9 {
			t.Errorf("Fairness()[%s] = %v, want %v", id, got[id], want)
		}
	}

	got = Fairness(snapshots, 2)
	if math.Abs(got["often"]-0.0625) > 1e-9 {
		t.Errorf("Fairness(exp 2)[often] = %v, want 0.0625", got["often"])
	}
}

func TestStatUtility(t *testing.T) {
	tests := []struct {
		name      string
		snapshots []device.Snapshot
		expected  map[string]float64
	}{
		{
			name: "min-max normalised",
			snapshots: []device.Snapshot{
				{ID: "low", Participations: 1, StatUtility: 10},
				{ID: "mid", Participations: 2, StatUtility: 15},
				{ID: "high", Participations: 1, StatUtility: 30},
			},
			expected: map[string]float64{"low": 0, "mid": 0.25, "high": 1},
		},
		{
			name: "untrained devices score one",
			snapshots: []device.Snapshot{
				{ID: "new", Participations: 0},
				{ID: "low", Participations: 1, StatUtility: 2},
				{ID: "high", Participations: 1, StatUtility: 4},
			},
			expected: map[string]float64{"new": 1, "low": 0, "high": 1},
		},
		{
			name: "equal utilities",
			snapshots: []device.Snapshot{
				{ID: "a", Participations: 1, StatUtility: 5},
				{ID: "b", Participations: 3, StatUtility: 5},
			},
			expected: map[string]float64{"a": 1, "b": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatUtility(tt.snapshots)
			for id, want := range tt.expected {
				if math.Abs(got[id]-want) > 1e-9 {
					t.Errorf("StatUtility()[%s] = %v, want %v", id, got[id], want)
				}
			}
		})
	}
}

func TestEnergyAwareStatUtility(t *testing.T) {
	candidates := []device.Snapshot{
		{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10, Participations: 1, StatUtility: 1},
		{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10, Participations: 5, StatUtility: 9},
	}
	feas := evaluate(candidates, time.Hour)

	// Participation fairness prefers a, statistical utility prefers b.
	if got := NewEnergyAware(1, 0, 1).Select(candidates, feas, 1).IDs(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("participation judge selected %v, want [a]", got)
	}
	if got := NewEnergyAware(1, 0, 1, WithUtility(UtilityStat)).Select(candidates, feas, 1).IDs(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("stat judge selected %v, want [b]", got)
	}
}

func TestEnergyAwareAssignsMaxEpochs(t *testing.T) {
	candidates := []device.Snapshot{
		{ID: "a", PartitionSize: 60, BatteryCapacity: 20, Energy: 20, Capacity: 10},
		{ID: "b", PartitionSize: 60, BatteryCapacity: 20, Energy: 7, Capacity: 10},
	}
	w := workload
	w.MaxLocalEpochs = 5
	feas := map[string]feasibility.Result{}
	for _, c := range candidates {
		feas[c.ID] = feasibility.Evaluate(c, w, time.Hour)
	}

	out := NewEnergyAware(1, 1, 1).Select(candidates, feas, 2)
	expected := map[string]struct {
		epochs int
		energy float64
	}{
		"a": {epochs: 3, energy: 18},
		"b": {epochs: 1, energy: 6},
	}
	for _, a := range out.Selected {
		want := expected[a.DeviceID]
		if a.Epochs != want.epochs || math.Abs(a.Energy-want.energy) > 1e-9 {
			t.Errorf("assignment %s = %d epochs %v energy, want %d epochs %v energy", a.DeviceID, a.Epochs, a.Energy, want.epochs, want.energy)
		}
	}

	random := NewRandom(rand.New(rand.NewSource(1))).Select(candidates, feas, 2)
	for _, a := range random.Selected {
		if a.Epochs != 0 {
			t.Errorf("random assignment %s has %d epochs, want workload default", a.DeviceID, a.Epochs)
		}
	}
}

func TestEnergyAwareExclusion(t *testing.T) {
	candidates := []device.Snapshot{
		{ID: "a", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
		{ID: "b", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
		{ID: "c", PartitionSize: 60, BatteryCapacity: 10, Energy: 10, Capacity: 10},
	}
	policy := NewEnergyAware(1, 1, 1, WithUtility(UtilityStat), WithExclusion(1e-9, 1, rand.New(rand.NewSource(1))))

	out := policy.Select(candidates, evaluate(candidates, time.Hour), 3)
	if len(out.Selected) != 3 || len(out.Withheld) != 0 {
		t.Fatalf("first round selected %v withheld %v, want all selected", out.IDs(), out.Withheld)
	}

	// a is the only participant, so it falls at the quantile and is excluded.
	// It trained three rounds against a mean of one, which makes its release
	// all but impossible.
	candidates[0].Participations, candidates[0].StatUtility = 3, 2
	candidates[1].Participations, candidates[1].StatUtility = 0, 0
	candidates[2].Participations, candidates[2].StatUtility = 0, 0
	out = policy.Select(candidates, evaluate(candidates, time.Hour), 3)
	if !slices.Equal(out.Withheld, []string{"a"}) {
		t.Fatalf("Withheld = %v, want [a]", out.Withheld)
	}
	if got := out.IDs(); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Select() = %v, want [b c]", got)
	}

	disabled := NewEnergyAware(1, 1, 1, WithExclusion(0, 1, rand.New(rand.NewSource(1))))
	if out := disabled.Select(candidates, evaluate(candidates, time.Hour), 3); len(out.Selected) != 3 {
		t.Errorf("zero alpha selected %v, want all", out.IDs())
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	tests := []struct {
		q    float64
		want float64
	}{
		{q: 0, want: 1},
		{q: 0.5, want: 2.5},
		{q: 0.25, want: 1.75},
		{q: 1, want: 4},
	}
	for _, tt := range tests {
		if got := quantile(values, tt.q); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	if !math.IsNaN(quantile(nil, 0.5)) {
		t.Error("quantile(nil) is not NaN")
	}
}

func TestParseUtility(t *testing.T) {
	for in, want := range map[string]Utility{"": UtilityParticipation, "participation": UtilityParticipation, "stat": UtilityStat} {
		got, err := ParseUtility(in)
		if err != nil || got != want {
			t.Errorf("ParseUtility(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseUtility("oort"); err == nil {
		t.Error("ParseUtility(oort) error = nil")
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []Kind{KindEnergyAware, KindRandom, KindUnconstrained} {
		p, err := New(kind, Options{Seed: 1})
		if err != nil {
			t.Fatalf("New(%s) error = %v", kind, err)
		}
		if p.Name() != string(kind) {
			t.Errorf("Name() = %s, want %s", p.Name(), kind)
		}
	}

	if _, err := New("greedy", Options{}); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("New(greedy) error = %v, want ErrUnknownPolicy", err)
	}
	if _, err := ParseKind("random"); err != nil {
		t.Errorf("ParseKind(random) error = %v", err)
	}
}

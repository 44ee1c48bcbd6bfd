package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/absmach/flsim/device"
	"github.com/absmach/flsim/pkg/feasibility"
	"github.com/absmach/flsim/pkg/fl"
	"github.com/absmach/flsim/pkg/selection"
	"github.com/absmach/flsim/pkg/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/flsim/pkg/scheduler"

var (
	ErrChargeInconsistency = errors.New("charge failed after feasible verdict")
	ErrInvalidPhase        = errors.New("invalid round phase transition")
	ErrTimeRegression      = errors.New("round time precedes scheduler clock")
	ErrDuplicateDevice     = errors.New("duplicate device id")
	ErrNoDevices           = errors.New("no devices")
	ErrAggregation         = errors.New("aggregation failed")
)

// ChargePolicy decides what a device that fails mid-round pays.
type ChargePolicy string

const (
	// ChargeAttempted charges the energy of the work performed up to the
	// deadline or until the battery ran out.
	ChargeAttempted ChargePolicy = "attempted"
	// ChargeNone charges nothing for failed work.
	ChargeNone ChargePolicy = "none"
)

func ParseChargePolicy(s string) (ChargePolicy, error) {
	switch p := ChargePolicy(s); p {
	case "":
		return ChargeAttempted, nil
	case ChargeAttempted, ChargeNone:
		return p, nil
	default:
		return "", fmt.Errorf("unknown partial charge policy %q", s)
	}
}

type Config struct {
	Start time.Time
	// RoundTimeout bounds the wall-clock time spent waiting for trainers.
	RoundTimeout  time.Duration
	Workers       int
	MinEnergy     float64
	PartialCharge ChargePolicy
	InitialModel  fl.Model
}

// RoundSpec is created fresh for every round by the driver.
type RoundSpec struct {
	Index    int
	Time     time.Time
	Deadline time.Duration
	Target   int
	Workload feasibility.Workload
}

type RoundResult struct {
	Index        int
	Time         time.Time
	Policy       string
	Candidates   int
	Feasible     int
	Selected     []string
	Withheld     []string
	Completed    []string
	Missed       []string
	Energy       map[string]float64
	TotalEnergy  float64
	Excluded     map[feasibility.Reason]int
	PolicyScore  float64
	AllExhausted bool
	Model        fl.Model
	ModelUpdated bool
}

type Scheduler struct {
	cfg        Config
	res        device.Resources
	devices    []*device.Device
	index      map[string]*device.Device
	policy     selection.Policy
	trainer    fl.Trainer
	aggregator fl.Aggregator
	model      fl.Model
	clock      time.Time
	phase      Phase
	logger     *slog.Logger
	tracer     oteltrace.Tracer
}

func New(
	cfg Config,
	res device.Resources,
	specs []trace.DeviceSpec,
	policy selection.Policy,
	trainer fl.Trainer,
	aggregator fl.Aggregator,
	logger *slog.Logger,
) (*Scheduler, error) {
	if len(specs) == 0 {
		return nil, ErrNoDevices
	}
	if cfg.PartialCharge == "" {
		cfg.PartialCharge = ChargeAttempted
	}

	devices := make([]*device.Device, 0, len(specs))
	index := make(map[string]*device.Device, len(specs))
	for _, spec := range specs {
		if _, ok := index[spec.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, spec.ID)
		}
		d := device.New(spec, cfg.Start)
		devices = append(devices, d)
		index[spec.ID] = d
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return &Scheduler{
		cfg:        cfg,
		res:        res,
		devices:    devices,
		index:      index,
		policy:     policy,
		trainer:    trainer,
		aggregator: aggregator,
		model:      cfg.InitialModel,
		clock:      cfg.Start,
		phase:      Idle,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

func (s *Scheduler) Policy() string { return s.policy.Name() }

func (s *Scheduler) Clock() time.Time { return s.clock }

func (s *Scheduler) Model() fl.Model { return s.model }

func (s *Scheduler) Phase() Phase { return s.phase }

// Snapshots returns the current state of every device ordered by ID.
func (s *Scheduler) Snapshots() []device.Snapshot {
	out := make([]device.Snapshot, len(s.devices))
	for i, d := range s.devices {
		out[i] = d.Snapshot()
	}

	return out
}

// RunRound drives one round through all phases. Any returned error is fatal:
// the scheduler moves to Failed and refuses further rounds.
func (s *Scheduler) RunRound(ctx context.Context, spec RoundSpec) (RoundResult, error) {
	ctx, span := s.tracer.Start(ctx, "round", oteltrace.WithAttributes(
		attribute.Int("round.index", spec.Index),
		attribute.String("round.policy", s.policy.Name()),
	))
	defer span.End()

	res, err := s.runRound(ctx, spec)
	if err != nil {
		s.phase = Failed
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "round aborted",
			slog.Int("round", spec.Index),
			slog.String("policy", s.policy.Name()),
			slog.Any("error", err))

		return RoundResult{}, err
	}

	return res, nil
}

func (s *Scheduler) runRound(ctx context.Context, spec RoundSpec) (RoundResult, error) {
	res := RoundResult{
		Index:    spec.Index,
		Time:     spec.Time,
		Policy:   s.policy.Name(),
		Energy:   make(map[string]float64),
		Excluded: make(map[feasibility.Reason]int),
		Model:    s.model,
	}

	if err := s.enter(AdvanceTime); err != nil {
		return res, err
	}
	if spec.Time.Before(s.clock) {
		return res, fmt.Errorf("%w: %s before %s", ErrTimeRegression, spec.Time, s.clock)
	}
	s.clock = spec.Time

	if err := s.enter(RefreshDevices); err != nil {
		return res, err
	}
	if err := s.refresh(ctx); err != nil {
		return res, err
	}

	if err := s.enter(EvaluateFeasibility); err != nil {
		return res, err
	}
	snapshots := s.Snapshots()
	feas, err := s.evaluate(ctx, snapshots, spec)
	if err != nil {
		return res, err
	}
	res.Candidates = len(snapshots)
	for _, r := range feas {
		if r.Feasible {
			res.Feasible++

			continue
		}
		res.Excluded[r.Reason]++
	}

	if err := s.enter(Select); err != nil {
		return res, err
	}
	outcome := s.policy.Select(snapshots, feas, spec.Target)
	res.PolicyScore = outcome.Score
	res.Selected = outcome.IDs()
	res.Withheld = outcome.Withheld
	if len(outcome.Withheld) > 0 {
		s.logger.DebugContext(ctx, "devices withheld from selection",
			slog.Int("round", spec.Index),
			slog.Int("withheld", len(outcome.Withheld)))
	}
	if res.Feasible == 0 && s.policy.Constrained() {
		res.AllExhausted = true
		s.logger.WarnContext(ctx, "no feasible devices in round",
			slog.Int("round", spec.Index),
			slog.String("policy", s.policy.Name()))
	}
	training, err := s.markTraining(outcome)
	if err != nil {
		return res, err
	}

	if err := s.enter(DispatchAndCharge); err != nil {
		return res, err
	}
	updates, err := s.dispatchAndCharge(ctx, spec, outcome, snapshots, &res)
	if err != nil {
		return res, err
	}

	if err := s.enter(Complete); err != nil {
		return res, err
	}
	if err := s.complete(ctx, training, updates, &res); err != nil {
		return res, err
	}

	return res, nil
}

func (s *Scheduler) refresh(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, RefreshDevices.String())
	defer span.End()

	for _, d := range s.devices {
		if err := d.Refresh(s.res, s.clock); err != nil {
			return fmt.Errorf("failed to refresh device %s: %w", d.ID, err)
		}
		d.UpdateExhaustion(s.cfg.MinEnergy)
	}

	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, snapshots []device.Snapshot, spec RoundSpec) (map[string]feasibility.Result, error) {
	ctx, span := s.tracer.Start(ctx, EvaluateFeasibility.String())
	defer span.End()

	feas, err := feasibility.EvaluateAll(ctx, snapshots, spec.Workload, spec.Deadline, s.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate feasibility: %w", err)
	}

	return feas, nil
}

// markTraining moves every device that will attempt work to Training.
// Exhausted devices picked by an unconstrained policy keep their status.
func (s *Scheduler) markTraining(outcome selection.Outcome) ([]*device.Device, error) {
	var training []*device.Device
	mark := func(a selection.Assignment) error {
		d := s.index[a.DeviceID]
		if d.Status == device.Exhausted && !s.policy.Constrained() {
			return nil
		}
		if err := d.Transition(device.Training); err != nil {
			return err
		}
		training = append(training, d)

		return nil
	}

	for _, a := range outcome.Selected {
		if err := mark(a); err != nil {
			return nil, err
		}
	}
	for _, a := range outcome.Dropped {
		if a.Reason == feasibility.DeviceExhausted {
			continue
		}
		if err := mark(a); err != nil {
			return nil, err
		}
	}

	return training, nil
}

type dispatchResult struct {
	update fl.Update
	err    error
}

func (s *Scheduler) dispatchAndCharge(
	ctx context.Context,
	spec RoundSpec,
	outcome selection.Outcome,
	snapshots []device.Snapshot,
	res *RoundResult,
) ([]fl.Update, error) {
	ctx, span := s.tracer.Start(ctx, DispatchAndCharge.String(),
		oteltrace.WithAttributes(attribute.Int("round.selected", len(outcome.Selected))))
	defer span.End()

	results := s.dispatch(ctx, spec, outcome.Selected)

	byID := make(map[string]device.Snapshot, len(snapshots))
	for _, snap := range snapshots {
		byID[snap.ID] = snap
	}

	var updates []fl.Update
	for i, a := range outcome.Selected {
		d := s.index[a.DeviceID]
		r := results[i]
		completed := r.err == nil && a.Time <= spec.Deadline.Seconds()

		if !s.policy.Constrained() {
			energy := a.Energy
			if !completed {
				energy = feasibility.Attempted(byID[a.DeviceID], spec.Workload.WithEpochs(a.Epochs), spec.Deadline)
			}
			s.record(res, a.DeviceID, energy, completed)
			if completed {
				updates = append(updates, r.update)
			}

			continue
		}

		if completed {
			if err := d.Charge(a.Energy); err != nil {
				return nil, fmt.Errorf("%w: device %s: %w", ErrChargeInconsistency, a.DeviceID, err)
			}
			s.record(res, a.DeviceID, a.Energy, true)
			updates = append(updates, r.update)

			continue
		}

		s.logger.DebugContext(ctx, "missed contribution",
			slog.Int("round", spec.Index),
			slog.String("device_id", a.DeviceID),
			slog.Any("error", r.err))
		s.record(res, a.DeviceID, s.chargePartial(d, byID[a.DeviceID], spec.Workload.WithEpochs(a.Epochs), spec.Deadline), false)
	}

	for _, a := range outcome.Dropped {
		d := s.index[a.DeviceID]
		var energy float64
		if a.Reason != feasibility.DeviceExhausted {
			energy = s.chargePartial(d, byID[a.DeviceID], spec.Workload.WithEpochs(a.Epochs), spec.Deadline)
		}
		s.record(res, a.DeviceID, energy, false)
	}

	return updates, nil
}

// dispatch runs the trainer for every selected device concurrently. The
// returned slice is index-aligned with selected. A device whose call has not
// returned when the round timeout fires gets context.DeadlineExceeded; other
// devices are unaffected.
func (s *Scheduler) dispatch(ctx context.Context, spec RoundSpec, selected []selection.Assignment) []dispatchResult {
	results := make([]dispatchResult, len(selected))
	if len(selected) == 0 {
		return results
	}

	if s.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RoundTimeout)
		defer cancel()
	}

	done := make(chan struct{}, len(selected))
	for i, a := range selected {
		job := fl.Job{
			Round:         spec.Index,
			DeviceID:      a.DeviceID,
			PartitionSize: s.index[a.DeviceID].PartitionSize,
			TimeBudget:    spec.Deadline,
			Epochs:        max(a.Epochs, spec.Workload.LocalEpochs),
			Model:         s.model,
		}
		go func() {
			defer func() { done <- struct{}{} }()

			ch := make(chan dispatchResult, 1)
			go func() {
				u, err := s.trainer.TrainLocal(ctx, job)
				ch <- dispatchResult{update: u, err: err}
			}()

			select {
			case r := <-ch:
				results[i] = r
			case <-ctx.Done():
				results[i] = dispatchResult{err: ctx.Err()}
			}
		}()
	}
	for range selected {
		<-done
	}

	return results
}

// chargePartial applies the partial charge policy to a device that did not
// contribute. The charge never exceeds the remaining budget.
func (s *Scheduler) chargePartial(d *device.Device, snap device.Snapshot, w feasibility.Workload, deadline time.Duration) float64 {
	if s.cfg.PartialCharge == ChargeNone {
		return 0
	}
	cost := min(feasibility.Attempted(snap, w, deadline), d.Energy)
	if err := d.Charge(cost); err != nil {
		return 0
	}

	return cost
}

func (s *Scheduler) record(res *RoundResult, id string, energy float64, completed bool) {
	res.Energy[id] = energy
	res.TotalEnergy += energy
	if completed {
		res.Completed = append(res.Completed, id)

		return
	}
	res.Missed = append(res.Missed, id)
}

func (s *Scheduler) complete(ctx context.Context, training []*device.Device, updates []fl.Update, res *RoundResult) error {
	ctx, span := s.tracer.Start(ctx, Complete.String())
	defer span.End()

	for _, d := range training {
		if err := d.Transition(device.Idle); err != nil {
			return err
		}
	}
	for _, id := range res.Completed {
		s.index[id].Participations++
	}
	for _, u := range updates {
		s.index[u.DeviceID].StatUtility = float64(u.NumSamples) * u.Loss
	}
	for _, d := range s.devices {
		d.UpdateExhaustion(s.cfg.MinEnergy)
	}

	if len(updates) == 0 {
		return nil
	}

	weights := make([]float64, len(updates))
	for i, u := range updates {
		weights[i] = float64(s.index[u.DeviceID].PartitionSize)
	}
	model, err := s.aggregator.Aggregate(updates, weights)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAggregation, err)
	}
	model.Version = s.model.Version + 1
	model.Samples += s.model.Samples
	s.model = model

	res.Model = model
	res.ModelUpdated = true
	s.logger.DebugContext(ctx, "aggregated round updates",
		slog.Int("round", res.Index),
		slog.Int("updates", len(updates)),
		slog.Int("model_version", model.Version))

	return nil
}

package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/absmach/flsim/pkg/feasibility"
	"github.com/absmach/flsim/pkg/fl"
	"github.com/absmach/flsim/pkg/metrics"
	"github.com/absmach/flsim/pkg/scheduler"
	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/google/uuid"
)

var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	errEvaluation    = errors.New("failed to evaluate model")
	errTelemetry     = errors.New("failed to append telemetry record")
)

type StopReason string

const (
	StopMaxRounds      StopReason = "max_rounds"
	StopHorizon        StopReason = "horizon"
	StopTargetAccuracy StopReason = "target_accuracy"
	StopPlateau        StopReason = "plateau"
	StopCancelled      StopReason = "cancelled"
	StopFailed         StopReason = "failed"
)

type Config struct {
	RunID     string
	MaxRounds int
	Start     time.Time
	// Horizon is the latest simulated time a round may end at. Zero means
	// unbounded.
	Horizon  time.Time
	Deadline time.Duration
	// Interval separates round starts; zero means back to back rounds.
	Interval    time.Duration
	TargetCount int
	TargetRatio float64
	Workload    feasibility.Workload
	// TargetAccuracy stops the run once reached; zero disables it.
	TargetAccuracy float64
	// PlateauRounds stops the run after that many rounds without accuracy
	// improvement; zero disables it.
	PlateauRounds int
}

func (c Config) Validate() error {
	switch {
	case c.MaxRounds <= 0:
		return fmt.Errorf("%w: max rounds must be positive", ErrInvalidConfig)
	case c.Deadline <= 0:
		return fmt.Errorf("%w: deadline must be positive", ErrInvalidConfig)
	case c.Interval < 0:
		return fmt.Errorf("%w: negative round interval", ErrInvalidConfig)
	case c.TargetCount < 0 || c.TargetRatio < 0 || c.TargetRatio > 1:
		return fmt.Errorf("%w: target must be a non-negative count or a ratio in [0, 1]", ErrInvalidConfig)
	case c.TargetCount == 0 && c.TargetRatio == 0:
		return fmt.Errorf("%w: target count or ratio is required", ErrInvalidConfig)
	case c.PlateauRounds < 0:
		return fmt.Errorf("%w: negative plateau rounds", ErrInvalidConfig)
	}

	return nil
}

type Summary struct {
	RunID           string     `json:"run_id"`
	Policy          string     `json:"policy"`
	Rounds          int        `json:"rounds"`
	StopReason      StopReason `json:"stop_reason"`
	Accuracy        *float64   `json:"accuracy,omitempty"`
	BestAccuracy    float64    `json:"best_accuracy"`
	ModelVersion    int        `json:"model_version"`
	TotalEnergy     float64    `json:"total_energy"`
	Completed       int        `json:"completed"`
	Missed          int        `json:"missed"`
	ExhaustedRounds int        `json:"exhausted_rounds"`
	FairnessIndex   float64    `json:"fairness_index"`
	SimulatedTime   string     `json:"simulated_time"`
	Elapsed         string     `json:"elapsed"`
}

type Driver struct {
	cfg       Config
	sched     *scheduler.Scheduler
	evaluator fl.Evaluator
	sink      telemetry.Sink
	logger    *slog.Logger
}

// New wires a driver. A nil evaluator disables accuracy tracking and the
// accuracy based stop criteria.
func New(cfg Config, sched *scheduler.Scheduler, evaluator fl.Evaluator, sink telemetry.Sink, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Interval == 0 {
		cfg.Interval = cfg.Deadline
	}

	return &Driver{
		cfg:       cfg,
		sched:     sched,
		evaluator: evaluator,
		sink:      sink,
		logger:    logger,
	}, nil
}

func (d *Driver) RunID() string {
	return d.cfg.RunID
}

// Run executes rounds until a stop criterion is met. Cancelling ctx stops the
// run between rounds; the round in flight always finishes and is recorded.
// On a fatal error the partial summary is returned with the cause.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	began := time.Now()
	sum := Summary{
		RunID:      d.cfg.RunID,
		Policy:     d.sched.Policy(),
		StopReason: StopMaxRounds,
	}
	best := math.Inf(-1)
	stale := 0

	d.logger.InfoContext(ctx, "Starting simulation",
		slog.String("run_id", d.cfg.RunID),
		slog.String("policy", sum.Policy),
		slog.Int("max_rounds", d.cfg.MaxRounds),
		slog.Int("devices", len(d.sched.Snapshots())))

	finish := func(reason StopReason) Summary {
		sum.StopReason = reason
		sum.ModelVersion = d.sched.Model().Version
		sum.FairnessIndex = d.fairness()
		sum.SimulatedTime = d.sched.Clock().Sub(d.cfg.Start).String()
		sum.Elapsed = time.Since(began).Round(time.Millisecond).String()
		if !math.IsInf(best, -1) {
			sum.BestAccuracy = best
		}

		return sum
	}

	for i := range d.cfg.MaxRounds {
		if err := ctx.Err(); err != nil {
			d.logger.InfoContext(ctx, "Simulation cancelled between rounds", "round", i)

			return finish(StopCancelled), err
		}

		at := d.cfg.Start.Add(time.Duration(i) * d.cfg.Interval)
		if !d.cfg.Horizon.IsZero() && at.Add(d.cfg.Deadline).After(d.cfg.Horizon) {
			d.logger.InfoContext(ctx, "Trace horizon reached", "round", i, "time", at)

			return finish(StopHorizon), nil
		}

		rec, err := d.round(context.WithoutCancel(ctx), i, at)
		if err != nil {
			return finish(StopFailed), err
		}

		sum.Rounds++
		sum.TotalEnergy += rec.TotalEnergy
		sum.Completed += len(rec.Completed)
		sum.Missed += len(rec.Missed)
		if rec.AllExhausted {
			sum.ExhaustedRounds++
		}

		if rec.Accuracy != nil {
			sum.Accuracy = rec.Accuracy
		}
		if rec.Accuracy != nil && *rec.Accuracy > best {
			best = *rec.Accuracy
			stale = 0
		} else {
			stale++
		}

		if d.evaluator != nil && d.cfg.TargetAccuracy > 0 && best >= d.cfg.TargetAccuracy {
			d.logger.InfoContext(ctx, "Target accuracy reached", "round", i, "accuracy", best)

			return finish(StopTargetAccuracy), nil
		}
		if d.evaluator != nil && d.cfg.PlateauRounds > 0 && stale >= d.cfg.PlateauRounds {
			d.logger.InfoContext(ctx, "Accuracy plateau reached", "round", i, "stale_rounds", stale)

			return finish(StopPlateau), nil
		}
	}

	return finish(StopMaxRounds), nil
}

// round runs one scheduler round and appends its record. Nothing is written
// when any step fails.
func (d *Driver) round(ctx context.Context, index int, at time.Time) (telemetry.Record, error) {
	began := time.Now()

	spec := scheduler.RoundSpec{
		Index:    index,
		Time:     at,
		Deadline: d.cfg.Deadline,
		Target:   d.target(),
		Workload: d.cfg.Workload,
	}

	res, err := d.sched.RunRound(ctx, spec)
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("round %d: %w", index, err)
	}

	rec := telemetry.Record{
		RunID:         d.cfg.RunID,
		Round:         res.Index,
		Time:          res.Time,
		Policy:        res.Policy,
		Candidates:    res.Candidates,
		Feasible:      res.Feasible,
		Selected:      nonNil(res.Selected),
		Withheld:      res.Withheld,
		Completed:     nonNil(res.Completed),
		Missed:        nonNil(res.Missed),
		Energy:        res.Energy,
		TotalEnergy:   res.TotalEnergy,
		Excluded:      make(map[string]int, len(feasibility.Reasons)),
		PolicyScore:   res.PolicyScore,
		FairnessIndex: d.fairness(),
		ModelVersion:  res.Model.Version,
		AllExhausted:  res.AllExhausted,
	}
	for _, reason := range feasibility.Reasons {
		rec.Excluded[reason.String()] = res.Excluded[reason]
	}

	if d.evaluator != nil && res.ModelUpdated {
		acc, err := d.evaluator.Evaluate(ctx, res.Model)
		if err != nil {
			return telemetry.Record{}, fmt.Errorf("round %d: %w: %w", index, errEvaluation, err)
		}
		rec.Accuracy = &acc
	}

	if err := d.sink.Append(ctx, rec); err != nil {
		return telemetry.Record{}, fmt.Errorf("round %d: %w: %w", index, errTelemetry, err)
	}
	metrics.ObserveRound(rec, time.Since(began))

	args := []any{
		slog.Int("round", index),
		slog.Int("selected", len(rec.Selected)),
		slog.Int("completed", len(rec.Completed)),
		slog.Int("missed", len(rec.Missed)),
		slog.Float64("energy", rec.TotalEnergy),
	}
	if rec.Accuracy != nil {
		args = append(args, slog.Float64("accuracy", *rec.Accuracy))
	}
	d.logger.InfoContext(ctx, "Round complete", args...)

	return rec, nil
}

// target resolves the participant count for a round; a ratio rounds up and
// never yields fewer than one device.
func (d *Driver) target() int {
	if d.cfg.TargetCount > 0 {
		return d.cfg.TargetCount
	}
	n := len(d.sched.Snapshots())

	return max(1, int(math.Ceil(d.cfg.TargetRatio*float64(n))))
}

func (d *Driver) fairness() float64 {
	snaps := d.sched.Snapshots()
	parts := make([]int, len(snaps))
	for i, s := range snaps {
		parts[i] = s.Participations
	}

	return JainIndex(parts)
}

// JainIndex is (Σx)² / (n·Σx²). It is 1 when every device participated
// equally, including not at all.
func JainIndex(xs []int) float64 {
	if len(xs) == 0 {
		return 1
	}
	var sum, sq float64
	for _, x := range xs {
		sum += float64(x)
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return 1
	}

	return sum * sum / (float64(len(xs)) * sq)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}

	return ids
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/absmach/flsim"
	"github.com/absmach/flsim/pkg/feasibility"
	"github.com/absmach/flsim/pkg/fl"
	"github.com/absmach/flsim/pkg/mqtt"
	"github.com/absmach/flsim/pkg/scheduler"
	"github.com/absmach/flsim/pkg/selection"
	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/absmach/flsim/pkg/trace"
	"github.com/absmach/flsim/simulation"
	"github.com/google/uuid"
)

type population struct {
	trace *trace.Trace
	specs []trace.DeviceSpec
}

// loadPopulation reads the configured trace files or, without a trace path,
// generates a synthetic population from the seed.
func loadPopulation(cfg flsim.Config) (population, error) {
	mode, err := trace.ParseInterpolation(cfg.Trace.Interpolation)
	if err != nil {
		return population{}, err
	}

	if cfg.Trace.Path == "" {
		tr, specs, err := trace.Generate(generateConfig(cfg, mode))
		if err != nil {
			return population{}, err
		}

		return population{trace: tr, specs: specs}, nil
	}

	f, err := os.Open(cfg.Trace.Path)
	if err != nil {
		return population{}, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	tr, err := trace.Load(f, cfg.Simulation.Start, cfg.Simulation.Horizon, mode)
	if err != nil {
		return population{}, err
	}

	p, err := os.Open(cfg.Trace.Population)
	if err != nil {
		return population{}, fmt.Errorf("failed to open population: %w", err)
	}
	defer p.Close()

	specs, err := trace.LoadPopulation(p)
	if err != nil {
		return population{}, err
	}
	for i := range specs {
		if specs[i].BatteryCapacity == 0 {
			specs[i].BatteryCapacity = cfg.Devices.BatteryCapacity
			specs[i].InitialEnergy = cfg.Devices.BatteryCapacity
		}
	}

	return population{trace: tr, specs: specs}, nil
}

func generateConfig(cfg flsim.Config, mode trace.Interpolation) trace.GenerateConfig {
	return trace.GenerateConfig{
		Devices:         cfg.Devices.Count,
		Seed:            cfg.Simulation.Seed,
		Start:           cfg.Simulation.Start,
		Horizon:         cfg.Simulation.Horizon,
		Step:            cfg.Trace.Step,
		Mode:            mode,
		BatteryCapacity: cfg.Devices.BatteryCapacity,
		MinPartition:    cfg.Devices.MinPartition,
		MaxPartition:    cfg.Devices.MaxPartition,
		PeakSupply:      cfg.Devices.PeakSupply,
		MaxCapacity:     cfg.Devices.MaxCapacity,
		OutageRate:      cfg.Devices.OutageRate,
	}
}

// newDriver builds a fresh scheduler and driver for one policy. Every call
// starts from the same population, model and seed, so runs are comparable.
func newDriver(cfg flsim.Config, pop population, kind selection.Kind, runID string, sink telemetry.Sink, logger *slog.Logger) (*simulation.Driver, error) {
	utility, err := selection.ParseUtility(cfg.Policy.Utility)
	if err != nil {
		return nil, err
	}
	policy, err := selection.New(kind, selection.Options{
		Seed:             cfg.Simulation.Seed,
		FairnessWeight:   cfg.Policy.FairnessWeight,
		SlackWeight:      cfg.Policy.SlackWeight,
		FairnessExponent: cfg.Policy.FairnessExponent,
		Utility:          utility,
		Alpha:            cfg.Policy.Alpha,
		ExclusionFactor:  cfg.Policy.ExclusionFactor,
	})
	if err != nil {
		return nil, err
	}

	charge, err := scheduler.ParseChargePolicy(cfg.Policy.PartialCharge)
	if err != nil {
		return nil, err
	}

	trainer := fl.NewSimTrainer(cfg.Trainer.Dimension, cfg.Trainer.LearningRate, cfg.Trainer.Noise, cfg.Trainer.Latency)
	evaluator := fl.NewDistanceEvaluator(trainer.Optimum, cfg.Trainer.MaxAccuracy)

	sched, err := scheduler.New(scheduler.Config{
		Start:         cfg.Simulation.Start,
		RoundTimeout:  cfg.Round.Timeout,
		Workers:       cfg.Round.Workers,
		MinEnergy:     cfg.Devices.MinEnergy,
		PartialCharge: charge,
		InitialModel:  fl.InitialModel(cfg.Trainer.Dimension),
	}, pop.trace, pop.specs, policy, trainer, fl.NewFedAvgAggregator(), logger.With(slog.String("policy", policy.Name())))
	if err != nil {
		return nil, err
	}

	return simulation.New(simulation.Config{
		RunID:       runID,
		MaxRounds:   cfg.Simulation.Rounds,
		Start:       cfg.Simulation.Start,
		Horizon:     pop.trace.Horizon(),
		Deadline:    cfg.Round.Deadline,
		Interval:    cfg.Round.Interval,
		TargetCount: cfg.Round.TargetCount,
		TargetRatio: cfg.Round.TargetRatio,
		Workload: feasibility.Workload{
			CyclesPerSample: cfg.Workload.CyclesPerSample,
			EnergyPerCycle:  cfg.Workload.EnergyPerCycle,
			LocalEpochs:     cfg.Workload.LocalEpochs,
			MaxLocalEpochs:  cfg.Workload.MaxLocalEpochs,
		},
		TargetAccuracy: cfg.Simulation.TargetAccuracy,
		PlateauRounds:  cfg.Simulation.PlateauRounds,
	}, sched, evaluator, sink, logger)
}

// openSink opens the telemetry file and, when a broker is configured, adds
// an MQTT publisher behind it.
func openSink(ctx context.Context, cfg flsim.Config, logger *slog.Logger) (telemetry.Sink, error) {
	format, err := telemetry.ParseFormat(cfg.Telemetry.Format)
	if err != nil {
		return nil, err
	}

	sinks := []telemetry.Sink{}
	if cfg.Telemetry.Path != "" {
		w, err := telemetry.OpenFile(cfg.Telemetry.Path, format)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}

	if cfg.MQTT.URL != "" {
		ps, err := newPubSub(cfg, logger)
		if err != nil {
			return nil, errors.Join(err, telemetry.Multi(sinks...).Close())
		}
		sinks = append(sinks, telemetry.NewMQTTSink(ps, cfg.MQTT.TopicPrefix, logger))
		logger.InfoContext(ctx, "Publishing round records over MQTT", slog.String("broker", cfg.MQTT.URL))
	}

	if len(sinks) == 0 {
		return telemetry.NewMemory(), nil
	}

	return telemetry.Multi(sinks...), nil
}

func newPubSub(cfg flsim.Config, logger *slog.Logger) (mqtt.PubSub, error) {
	return mqtt.NewPubSub(mqtt.Config{
		URL:         cfg.MQTT.URL,
		ClientID:    fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, uuid.NewString()[:8]),
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
		Timeout:     cfg.MQTT.Timeout,
		CAPath:      cfg.MQTT.CACert,
		CertPath:    cfg.MQTT.ClientCert,
		KeyPath:     cfg.MQTT.ClientKey,
	}, logger)
}

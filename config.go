package flsim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/absmach/flsim/pkg/scheduler"
	"github.com/absmach/flsim/pkg/selection"
	"github.com/absmach/flsim/pkg/telemetry"
	"github.com/absmach/flsim/pkg/trace"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

const envPrefix = "FLSIM_"

var ErrMalformedConfig = errors.New("malformed configuration")

type Config struct {
	Simulation SimulationConfig `toml:"simulation"`
	Round      RoundConfig      `toml:"round"`
	Workload   WorkloadConfig   `toml:"workload"`
	Policy     PolicyConfig     `toml:"policy"`
	Devices    DevicesConfig    `toml:"devices"`
	Trace      TraceConfig      `toml:"trace"`
	Trainer    TrainerConfig    `toml:"trainer"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	MQTT       MQTTConfig       `toml:"mqtt"`
	HTTP       HTTPConfig       `toml:"http"`
	Log        LogConfig        `toml:"log"`
}

type SimulationConfig struct {
	Rounds         int           `toml:"rounds"          env:"ROUNDS"`
	TargetAccuracy float64       `toml:"target_accuracy" env:"TARGET_ACCURACY"`
	PlateauRounds  int           `toml:"plateau_rounds"  env:"PLATEAU_ROUNDS"`
	Seed           int64         `toml:"seed"            env:"SEED"`
	Start          time.Time     `toml:"start"           env:"START"`
	Horizon        time.Duration `toml:"horizon"         env:"HORIZON"`
}

type RoundConfig struct {
	Deadline    time.Duration `toml:"deadline"     env:"DEADLINE"`
	Interval    time.Duration `toml:"interval"     env:"ROUND_INTERVAL"`
	TargetCount int           `toml:"target_count" env:"TARGET_COUNT"`
	TargetRatio float64       `toml:"target_ratio" env:"TARGET_RATIO"`
	// Timeout bounds the wall-clock wait for trainers; zero waits forever.
	Timeout time.Duration `toml:"timeout" env:"ROUND_TIMEOUT"`
	Workers int           `toml:"workers" env:"WORKERS"`
}

type WorkloadConfig struct {
	CyclesPerSample float64 `toml:"cycles_per_sample" env:"CYCLES_PER_SAMPLE"`
	EnergyPerCycle  float64 `toml:"energy_per_cycle"  env:"ENERGY_PER_CYCLE"`
	LocalEpochs     int     `toml:"local_epochs"      env:"LOCAL_EPOCHS"`
	// MaxLocalEpochs lets the energy aware policy extend a participant up
	// to this many epochs when its deadline and budget allow.
	MaxLocalEpochs int `toml:"max_local_epochs" env:"MAX_LOCAL_EPOCHS"`
}

type PolicyConfig struct {
	Kind             string  `toml:"kind"              env:"POLICY"`
	FairnessWeight   float64 `toml:"fairness_weight"   env:"FAIRNESS_WEIGHT"`
	SlackWeight      float64 `toml:"slack_weight"      env:"SLACK_WEIGHT"`
	FairnessExponent float64 `toml:"fairness_exponent" env:"FAIRNESS_EXPONENT"`
	PartialCharge    string  `toml:"partial_charge"    env:"PARTIAL_CHARGE"`
	Utility          string  `toml:"utility"           env:"UTILITY"`
	// Alpha enables probabilistic exclusion of low utility devices when
	// positive.
	Alpha           float64 `toml:"alpha"            env:"ALPHA"`
	ExclusionFactor float64 `toml:"exclusion_factor" env:"EXCLUSION_FACTOR"`
}

type DevicesConfig struct {
	// Count sizes the synthetic population when no trace file is given.
	Count           int     `toml:"count"            env:"DEVICES"`
	BatteryCapacity float64 `toml:"battery_capacity" env:"BATTERY_CAPACITY"`
	MinEnergy       float64 `toml:"min_energy"       env:"MIN_ENERGY"`
	MinPartition    int     `toml:"min_partition"    env:"MIN_PARTITION"`
	MaxPartition    int     `toml:"max_partition"    env:"MAX_PARTITION"`
	PeakSupply      float64 `toml:"peak_supply"      env:"PEAK_SUPPLY"`
	MaxCapacity     float64 `toml:"max_capacity"     env:"MAX_CAPACITY"`
	OutageRate      float64 `toml:"outage_rate"      env:"OUTAGE_RATE"`
}

type TraceConfig struct {
	Path          string        `toml:"path"          env:"TRACE_PATH"`
	Population    string        `toml:"population"    env:"TRACE_POPULATION"`
	Interpolation string        `toml:"interpolation" env:"TRACE_INTERPOLATION"`
	Step          time.Duration `toml:"step"          env:"TRACE_STEP"`
}

type TrainerConfig struct {
	Dimension    int           `toml:"dimension"     env:"MODEL_DIMENSION"`
	LearningRate float64       `toml:"learning_rate" env:"LEARNING_RATE"`
	Noise        float64       `toml:"noise"         env:"TRAINER_NOISE"`
	MaxAccuracy  float64       `toml:"max_accuracy"  env:"MAX_ACCURACY"`
	Latency      time.Duration `toml:"latency"       env:"TRAINER_LATENCY"`
}

type TelemetryConfig struct {
	Path   string `toml:"path"   env:"TELEMETRY_PATH"`
	Format string `toml:"format" env:"TELEMETRY_FORMAT"`
}

type MQTTConfig struct {
	URL         string        `toml:"url"          env:"MQTT_URL"`
	ClientID    string        `toml:"client_id"    env:"MQTT_CLIENT_ID"`
	Username    string        `toml:"username"     env:"MQTT_USERNAME"`
	Password    string        `toml:"password"     env:"MQTT_PASSWORD"`
	TopicPrefix string        `toml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
	QoS         uint8         `toml:"qos"          env:"MQTT_QOS"`
	Timeout     time.Duration `toml:"timeout"      env:"MQTT_TIMEOUT"`
	CACert      string        `toml:"ca_cert"      env:"MQTT_CA_CERT"`
	ClientCert  string        `toml:"client_cert"  env:"MQTT_CLIENT_CERT"`
	ClientKey   string        `toml:"client_key"   env:"MQTT_CLIENT_KEY"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" env:"HTTP_ADDR"`
}

type LogConfig struct {
	Level string `toml:"level" env:"LOG_LEVEL"`
}

// DefaultConfig returns the reference experiment setup: 100 devices, 10 per
// round, 120 rounds of 60 minutes.
func DefaultConfig() Config {
	return Config{
		Simulation: SimulationConfig{
			Rounds:  120,
			Seed:    1,
			Start:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			Horizon: 7 * 24 * time.Hour,
		},
		Round: RoundConfig{
			Deadline:    60 * time.Minute,
			TargetCount: 10,
			Timeout:     30 * time.Second,
		},
		Workload: WorkloadConfig{
			CyclesPerSample: 10,
			EnergyPerCycle:  0.1,
			LocalEpochs:     1,
			MaxLocalEpochs:  5,
		},
		Policy: PolicyConfig{
			Kind:             "energy_aware",
			FairnessWeight:   1,
			SlackWeight:      1,
			FairnessExponent: 1,
			PartialCharge:    "attempted",
			Utility:          "participation",
		},
		Devices: DevicesConfig{
			Count:           100,
			BatteryCapacity: 1000,
			MinEnergy:       50,
			MinPartition:    100,
			MaxPartition:    1000,
			PeakSupply:      0.2,
			MaxCapacity:     100,
			OutageRate:      0.05,
		},
		Trace: TraceConfig{
			Interpolation: "step",
			Step:          5 * time.Minute,
		},
		Trainer: TrainerConfig{
			Dimension:    16,
			LearningRate: 0.05,
			Noise:        0.01,
			MaxAccuracy:  0.9,
		},
		Telemetry: TelemetryConfig{
			Path:   "flsim-rounds.jsonl",
			Format: "jsonl",
		},
		MQTT: MQTTConfig{
			ClientID:    "flsim",
			TopicPrefix: "flsim",
			Timeout:     10 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":9090"},
		Log:  LogConfig{Level: "info"},
	}
}

// LoadConfig starts from the defaults, applies the TOML file at path (when
// path is not empty) and then FLSIM_ prefixed environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}

		tree, err := toml.Load(string(data))
		if err != nil {
			return Config{}, fmt.Errorf("%w: error parsing config file: %w", ErrMalformedConfig, err)
		}

		if err := tree.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: error unmarshaling config: %w", ErrMalformedConfig, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrMalformedConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Marshal renders cfg as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c Config) Validate() error {
	invalid := func(option, reason string) error {
		return fmt.Errorf("%w: %s %s", ErrMalformedConfig, option, reason)
	}

	switch {
	case c.Simulation.Rounds <= 0:
		return invalid("simulation.rounds", "must be positive")
	case c.Simulation.TargetAccuracy < 0 || c.Simulation.TargetAccuracy > 1:
		return invalid("simulation.target_accuracy", "must be in [0, 1]")
	case c.Simulation.PlateauRounds < 0:
		return invalid("simulation.plateau_rounds", "must not be negative")
	case c.Simulation.Horizon <= 0:
		return invalid("simulation.horizon", "must be positive")
	case c.Round.Deadline <= 0:
		return invalid("round.deadline", "must be positive")
	case c.Round.Interval < 0:
		return invalid("round.interval", "must not be negative")
	case c.Round.TargetCount < 0:
		return invalid("round.target_count", "must not be negative")
	case c.Round.TargetRatio < 0 || c.Round.TargetRatio > 1:
		return invalid("round.target_ratio", "must be in [0, 1]")
	case c.Round.TargetCount == 0 && c.Round.TargetRatio == 0:
		return invalid("round.target_count", "or round.target_ratio is required")
	case c.Round.Timeout < 0:
		return invalid("round.timeout", "must not be negative")
	case c.Workload.CyclesPerSample < 0 || c.Workload.EnergyPerCycle < 0:
		return invalid("workload", "costs must not be negative")
	case c.Workload.LocalEpochs < 0:
		return invalid("workload.local_epochs", "must not be negative")
	case c.Workload.MaxLocalEpochs != 0 && c.Workload.MaxLocalEpochs < max(c.Workload.LocalEpochs, 1):
		return invalid("workload.max_local_epochs", "must not be below workload.local_epochs")
	case c.Policy.Alpha < 0:
		return invalid("policy.alpha", "must not be negative")
	case c.Policy.ExclusionFactor < 0 || c.Policy.ExclusionFactor > 1:
		return invalid("policy.exclusion_factor", "must be in [0, 1]")
	case c.Devices.BatteryCapacity <= 0:
		return invalid("devices.battery_capacity", "must be positive")
	case c.Devices.MinEnergy < 0 || c.Devices.MinEnergy > c.Devices.BatteryCapacity:
		return invalid("devices.min_energy", "must be in [0, battery_capacity]")
	case c.Trace.Path == "" && c.Devices.Count <= 0:
		return invalid("devices.count", "must be positive for a synthetic trace")
	case c.Trace.Path != "" && c.Trace.Population == "":
		return invalid("trace.population", "is required with trace.path")
	case c.Trainer.Dimension <= 0:
		return invalid("trainer.dimension", "must be positive")
	case c.MQTT.QoS > 2:
		return invalid("mqtt.qos", "must be 0, 1 or 2")
	}

	if _, err := selection.ParseKind(c.Policy.Kind); err != nil {
		return invalid("policy.kind", err.Error())
	}
	if _, err := selection.ParseUtility(c.Policy.Utility); err != nil {
		return invalid("policy.utility", err.Error())
	}
	if _, err := scheduler.ParseChargePolicy(c.Policy.PartialCharge); err != nil {
		return invalid("policy.partial_charge", err.Error())
	}
	if _, err := trace.ParseInterpolation(c.Trace.Interpolation); err != nil {
		return invalid("trace.interpolation", err.Error())
	}
	if _, err := telemetry.ParseFormat(c.Telemetry.Format); err != nil {
		return invalid("telemetry.format", err.Error())
	}

	return nil
}

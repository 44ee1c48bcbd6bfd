package trace

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/0x6flab/namegenerator"
)

var namegen = namegenerator.NewGenerator()

type GenerateConfig struct {
	Devices         int
	Seed            int64
	Start           time.Time
	Horizon         time.Duration
	Step            time.Duration
	Mode            Interpolation
	BatteryCapacity float64
	// MinPartition and MaxPartition bound the per-device sample count.
	MinPartition int
	MaxPartition int
	// PeakSupply is the midday harvest rate of an unclouded device.
	PeakSupply  float64
	MaxCapacity float64
	// OutageRate is the probability that a sample has zero capacity.
	OutageRate float64
}

func (c GenerateConfig) withDefaults() GenerateConfig {
	if c.Step <= 0 {
		c.Step = 5 * time.Minute
	}
	if c.MaxPartition < c.MinPartition {
		c.MaxPartition = c.MinPartition
	}
	if c.MinPartition <= 0 {
		c.MinPartition = 100
	}
	if c.MaxPartition <= 0 {
		c.MaxPartition = 1000
	}
	if c.PeakSupply <= 0 {
		c.PeakSupply = 1
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = 100
	}

	return c
}

// Generate builds a reproducible synthetic population: a diurnal, cloud
// attenuated supply curve and a noisy compute capacity with random outages.
// Device IDs are zero padded so that lexical and numeric order agree.
func Generate(cfg GenerateConfig) (*Trace, []DeviceSpec, error) {
	if cfg.Devices <= 0 {
		return nil, nil, fmt.Errorf("%w: device count must be positive", ErrMalformedTrace)
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	specs := make([]DeviceSpec, 0, cfg.Devices)
	samples := make(map[string][]Sample, cfg.Devices)
	steps := int(cfg.Horizon/cfg.Step) + 1

	for i := range cfg.Devices {
		id := fmt.Sprintf("device-%05d", i)
		partition := cfg.MinPartition
		if span := cfg.MaxPartition - cfg.MinPartition; span > 0 {
			partition += rng.Intn(span + 1)
		}
		specs = append(specs, DeviceSpec{
			ID:              id,
			Name:            namegen.Generate(),
			PartitionSize:   partition,
			BatteryCapacity: cfg.BatteryCapacity,
			InitialEnergy:   cfg.BatteryCapacity * (0.5 + rng.Float64()/2),
		})

		panel := 0.5 + rng.Float64()/2
		baseCapacity := cfg.MaxCapacity * (0.25 + 0.75*rng.Float64())
		phase := rng.Float64() * 2 // hours of longitude shift

		ss := make([]Sample, 0, steps)
		for s := range steps {
			off := time.Duration(s) * cfg.Step
			hour := math.Mod(float64(cfg.Start.Add(off).Hour())+float64(cfg.Start.Add(off).Minute())/60+phase, 24)
			sun := math.Max(0, math.Sin(math.Pi*(hour-6)/12))
			cloud := 0.6 + 0.4*rng.Float64()

			capacity := baseCapacity * (0.7 + 0.3*rng.Float64())
			if rng.Float64() < cfg.OutageRate {
				capacity = 0
			}

			ss = append(ss, Sample{
				Offset:   off,
				Capacity: capacity,
				Supply:   cfg.PeakSupply * panel * sun * cloud,
			})
		}
		samples[id] = ss
	}

	tr, err := New(cfg.Start, cfg.Horizon, cfg.Mode, samples)
	if err != nil {
		return nil, nil, err
	}

	return tr, specs, nil
}

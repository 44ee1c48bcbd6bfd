package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DeviceSpec describes the static part of a simulated device.
type DeviceSpec struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	PartitionSize   int     `json:"partition_size"`
	BatteryCapacity float64 `json:"battery_capacity"`
	InitialEnergy   float64 `json:"initial_energy"`
}

// Load parses a trace CSV with the columns
// device_id,offset_s,capacity,supply. A header row is skipped.
func Load(r io.Reader, start time.Time, horizon time.Duration, mode Interpolation) (*Trace, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	samples := make(map[string][]Sample)
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTrace, line, err)
		}
		if line == 1 && strings.EqualFold(record[0], "device_id") {
			continue
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("%w: line %d: expected 4 columns, got %d", ErrMalformedTrace, line, len(record))
		}

		vals, err := parseFloats(record[1:4])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTrace, line, err)
		}

		id := strings.TrimSpace(record[0])
		samples[id] = append(samples[id], Sample{
			Offset:   time.Duration(vals[0] * float64(time.Second)),
			Capacity: vals[1],
			Supply:   vals[2],
		})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrMalformedTrace)
	}

	return New(start, horizon, mode, samples)
}

// LoadPopulation parses device_id,partition_size,battery_capacity,initial_energy.
// A missing initial_energy column means a full battery.
func LoadPopulation(r io.Reader) ([]DeviceSpec, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var specs []DeviceSpec
	seen := make(map[string]struct{})
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTrace, line, err)
		}
		if line == 1 && strings.EqualFold(record[0], "device_id") {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("%w: line %d: expected at least 3 columns", ErrMalformedTrace, line)
		}

		id := strings.TrimSpace(record[0])
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate device %s", ErrMalformedTrace, line, id)
		}
		seen[id] = struct{}{}

		partition, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil || partition < 0 {
			return nil, fmt.Errorf("%w: line %d: invalid partition size %q", ErrMalformedTrace, line, record[1])
		}

		vals, err := parseFloats(record[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedTrace, line, err)
		}

		spec := DeviceSpec{
			ID:              id,
			Name:            id,
			PartitionSize:   partition,
			BatteryCapacity: vals[0],
			InitialEnergy:   vals[0],
		}
		if len(vals) > 1 {
			spec.InitialEnergy = min(vals[1], vals[0])
		}
		if spec.BatteryCapacity < 0 || spec.InitialEnergy < 0 {
			return nil, fmt.Errorf("%w: line %d: negative energy", ErrMalformedTrace, line)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		if !finite(v) {
			return nil, fmt.Errorf("non-finite value %q", f)
		}
		out = append(out, v)
	}

	return out, nil
}

// Write emits a trace in the format read by Load.
func Write(w io.Writer, tr *Trace) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"device_id", "offset_s", "capacity", "supply"}); err != nil {
		return err
	}

	for _, id := range tr.Devices() {
		for _, s := range tr.samples[id] {
			row := []string{
				id,
				strconv.FormatFloat(s.Offset.Seconds(), 'f', -1, 64),
				strconv.FormatFloat(s.Capacity, 'f', -1, 64),
				strconv.FormatFloat(s.Supply, 'f', -1, 64),
			}
			if err := writer.Write(row); err != nil {
				return err
			}
		}
	}
	writer.Flush()

	return writer.Error()
}

// WritePopulation emits specs in the format read by LoadPopulation.
func WritePopulation(w io.Writer, specs []DeviceSpec) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"device_id", "partition_size", "battery_capacity", "initial_energy"}); err != nil {
		return err
	}
	for _, s := range specs {
		row := []string{
			s.ID,
			strconv.Itoa(s.PartitionSize),
			strconv.FormatFloat(s.BatteryCapacity, 'f', -1, 64),
			strconv.FormatFloat(s.InitialEnergy, 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()

	return writer.Error()
}

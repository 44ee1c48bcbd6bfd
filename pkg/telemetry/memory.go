package telemetry

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory keeps records in append order. It is both a Sink and a Store.
type Memory struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemory(records ...Record) *Memory {
	return &Memory{records: slices.Clone(records)}
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)

	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Record
	for _, rec := range m.records {
		if f.match(rec) {
			matched = append(matched, rec)
		}
	}
	total := len(matched)

	if f.Offset >= total {
		return []Record{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	return matched, total, nil
}

// Get returns the record of round in runID. An empty runID matches any run
// as long as only one run holds that round.
func (m *Memory) Get(_ context.Context, runID string, round int) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found Record
		ok    bool
	)
	for _, rec := range m.records {
		if rec.Round != round || (runID != "" && rec.RunID != runID) {
			continue
		}
		if runID != "" {
			return rec, nil
		}
		if ok && found.RunID != rec.RunID {
			return Record{}, ErrAmbiguousRun
		}
		found, ok = rec, true
	}
	if !ok {
		return Record{}, ErrRecordNotFound
	}

	return found, nil
}

func (m *Memory) Runs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []string
	for _, rec := range m.records {
		if !slices.Contains(runs, rec.RunID) {
			runs = append(runs, rec.RunID)
		}
	}

	return runs, nil
}

type multi []Sink

// Multi fans every record out to all sinks in order. The first sink is the
// record of truth: a failure there stops the fan-out.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (ms multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for i, s := range ms {
		if err := s.Append(ctx, rec); err != nil {
			if i == 0 {
				return err
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (ms multi) Close() error {
	var errs []error
	for _, s := range ms {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

package telemetry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownFormat  = errors.New("unknown telemetry format")
	ErrRecordNotFound = errors.New("record not found")
	ErrSinkClosed     = errors.New("telemetry sink closed")
	ErrAmbiguousRun   = errors.New("round exists in more than one run, run_id is required")
)

// Record is the per-round log entry. It is built completely before it is
// appended, so a reader never sees half a round.
type Record struct {
	RunID         string             `json:"run_id"`
	Round         int                `json:"round"`
	Time          time.Time          `json:"time"`
	Policy        string             `json:"policy"`
	Candidates    int                `json:"candidates"`
	Feasible      int                `json:"feasible"`
	Selected      []string           `json:"selected"`
	Withheld      []string           `json:"withheld,omitempty"`
	Completed     []string           `json:"completed"`
	Missed        []string           `json:"missed"`
	Energy        map[string]float64 `json:"energy"`
	TotalEnergy   float64            `json:"total_energy"`
	Excluded      map[string]int     `json:"excluded"`
	PolicyScore   float64            `json:"policy_score"`
	FairnessIndex float64            `json:"fairness_index"`
	Accuracy      *float64           `json:"accuracy,omitempty"`
	ModelVersion  int                `json:"model_version"`
	AllExhausted  bool               `json:"all_exhausted,omitempty"`
}

type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Filter narrows a query; empty fields match everything.
type Filter struct {
	RunID  string
	Policy string
	Offset int
	Limit  int
}

func (f Filter) match(rec Record) bool {
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.Policy != "" && rec.Policy != f.Policy {
		return false
	}

	return true
}

// Store is the read side used by the HTTP API.
type Store interface {
	List(ctx context.Context, f Filter) ([]Record, int, error)
	Get(ctx context.Context, runID string, round int) (Record, error)
	Runs(ctx context.Context) ([]string, error)
}

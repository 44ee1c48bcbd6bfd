package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/absmach/flsim/pkg/telemetry"
	smqerrors "github.com/absmach/supermq/pkg/errors"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := telemetry.NewMemory(
		telemetry.Record{RunID: "r1", Round: 0, Time: at, Policy: "energy_aware", Selected: []string{"a"}, TotalEnergy: 6},
		telemetry.Record{RunID: "r1", Round: 1, Time: at.Add(time.Hour), Policy: "energy_aware", Selected: []string{}},
		telemetry.Record{RunID: "r2", Round: 0, Time: at, Policy: "random", Selected: []string{"b"}},
	)
	ts := httptest.NewServer(MakeHandler(store, "test-instance"))
	t.Cleanup(ts.Close)

	return ts
}

func TestListRounds(t *testing.T) {
	ts := newServer(t)

	tests := []struct {
		name   string
		query  string
		status int
		total  int
		count  int
	}{
		{name: "all", query: "", status: http.StatusOK, total: 3, count: 3},
		{name: "by run", query: "?run_id=r1", status: http.StatusOK, total: 2, count: 2},
		{name: "by policy", query: "?policy=random", status: http.StatusOK, total: 1, count: 1},
		{name: "paged", query: "?offset=1&limit=1", status: http.StatusOK, total: 3, count: 1},
		{name: "bad offset", query: "?offset=x", status: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", status: http.StatusBadRequest},
		{name: "limit too high", query: "?limit=5000", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := http.Get(ts.URL + "/rounds" + tt.query)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}

			var body listRoundsRes
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				wrappedErr := smqerrors.Wrap(smqerrors.New("failed to decode response body"), err)
				t.Fatalf("decode error = %v", wrappedErr)
			}
			if body.Total != tt.total || len(body.Records) != tt.count {
				t.Errorf("total = %d records = %d, want %d %d", body.Total, len(body.Records), tt.total, tt.count)
			}
		})
	}
}

func TestGetRound(t *testing.T) {
	ts := newServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		policy string
	}{
		{name: "found", path: "/rounds/0?run_id=r2", status: http.StatusOK, policy: "random"},
		{name: "single run without filter", path: "/rounds/1", status: http.StatusOK, policy: "energy_aware"},
		{name: "ambiguous without filter", path: "/rounds/0", status: http.StatusBadRequest},
		{name: "missing", path: "/rounds/7", status: http.StatusNotFound},
		{name: "not a number", path: "/rounds/abc", status: http.StatusBadRequest},
		{name: "negative", path: "/rounds/-1", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var rec telemetry.Record
			if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
				wrappedErr := smqerrors.Wrap(smqerrors.New("failed to decode response body"), err)
				t.Fatalf("decode error = %v", wrappedErr)
			}
			if rec.Policy != tt.policy {
				t.Errorf("policy = %q, want %q", rec.Policy, tt.policy)
			}
		})
	}
}

func TestRunsHealthAndMetrics(t *testing.T) {
	ts := newServer(t)

	res, err := http.Get(ts.URL + "/runs")
	if err != nil {
		t.Fatalf("GET /runs error = %v", err)
	}
	var runs listRunsRes
	if err := json.NewDecoder(res.Body).Decode(&runs); err != nil {
		wrappedErr := smqerrors.Wrap(smqerrors.New("failed to decode response body"), err)
		t.Fatalf("decode error = %v", wrappedErr)
	}
	res.Body.Close()
	if len(runs.Runs) != 2 || runs.Runs[0] != "r1" {
		t.Errorf("runs = %v, want [r1 r2]", runs.Runs)
	}

	res, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	var health healthRes
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		wrappedErr := smqerrors.Wrap(smqerrors.New("failed to decode response body"), err)
		t.Fatalf("decode error = %v", wrappedErr)
	}
	res.Body.Close()
	if health.Status != "pass" || health.InstanceID != "test-instance" {
		t.Errorf("health = %+v", health)
	}

	res, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("metrics content type = %q", ct)
	}
}

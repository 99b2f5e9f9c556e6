package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// gaugeValue returns the value of the gauge name whose labels include want.
func gaugeValue(t *testing.T, reg prometheus.Gatherer, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func sampleSummary() *syncer.RunSummary {
	start := time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)
	return &syncer.RunSummary{
		StartedAt:     start,
		FinishedAt:    start.Add(90 * time.Second),
		GoalsResolved: 3,
		GoalFailures:  []syncer.GoalFailure{{GoalID: "g3", Err: errors.New("boom")}},
		Items: []syncer.ItemResult{
			{Outcome: syncer.OutcomePosted},
			{Outcome: syncer.OutcomePosted},
			{Outcome: syncer.OutcomeSkipped},
			{Outcome: syncer.OutcomeFailed},
		},
		StateErrors: 1,
	}
}

func TestRecorder_Observe(t *testing.T) {
	r := New()
	s := sampleSummary()
	r.Observe(s, nil)

	reg := r.Registry()
	assert.Equal(t, 2.0, gaugeValue(t, reg, "goalsync_items", map[string]string{"outcome": "posted"}))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "goalsync_items", map[string]string{"outcome": "skipped"}))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "goalsync_items", map[string]string{"outcome": "dry_run"}))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "goalsync_items", map[string]string{"outcome": "failed"}))
	assert.Equal(t, 3.0, gaugeValue(t, reg, "goalsync_goals_resolved", nil))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "goalsync_goal_failures", nil))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "goalsync_state_errors", nil))
	assert.Equal(t, 90.0, gaugeValue(t, reg, "goalsync_run_duration_seconds", nil))
	assert.Equal(t, 1.0, gaugeValue(t, reg, "goalsync_run_success", nil))
	assert.Equal(t, float64(s.FinishedAt.Unix()), gaugeValue(t, reg, "goalsync_last_success_timestamp_seconds", nil))
}

func TestRecorder_ObserveFatal(t *testing.T) {
	r := New()
	r.Observe(nil, &syncer.ScopeError{Reason: "empty"})

	assert.Equal(t, 0.0, gaugeValue(t, r.Registry(), "goalsync_run_success", nil))
	assert.Equal(t, 0.0, gaugeValue(t, r.Registry(), "goalsync_last_success_timestamp_seconds", nil))
	assert.Greater(t, gaugeValue(t, r.Registry(), "goalsync_last_run_timestamp_seconds", nil), 0.0)
}

func TestPusher_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = req.Method
		path = req.URL.Path
		body, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.Observe(sampleSummary(), nil)

	err := NewPusher(srv.URL, "goalsync").Grouping("instance", "nightly").Client(srv.Client()).Push(context.Background(), r)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/goalsync/instance/nightly", path)
	assert.Contains(t, string(body), "goalsync_items")
	assert.Contains(t, string(body), "goalsync_run_success")
}

func TestPusher_PushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewPusher(srv.URL, "").Push(context.Background(), New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}

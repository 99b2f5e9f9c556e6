// Package metrics exposes the outcome of a sync run as Prometheus metrics
// and pushes them to a Pushgateway. A batch job has no scrape endpoint, so
// every metric describes the most recent run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const namespace = "goalsync"

var outcomes = []syncer.Outcome{
	syncer.OutcomeSkipped,
	syncer.OutcomePosted,
	syncer.OutcomeDryRun,
	syncer.OutcomeFailed,
}

// Recorder holds the run gauges on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	Items            *prometheus.GaugeVec
	GoalsResolved    prometheus.Gauge
	GoalFailures     prometheus.Gauge
	SelectorFailures prometheus.Gauge
	StateErrors      prometheus.Gauge
	Duration         prometheus.Gauge
	LastRun          prometheus.Gauge
	LastSuccess      prometheus.Gauge
	Success          prometheus.Gauge
}

// New creates a Recorder with all metrics registered.
//
// Metrics:
//   - goalsync_items{outcome} - items per outcome in the last run
//   - goalsync_goals_resolved - goals in scope
//   - goalsync_goal_failures - goals that could not be processed
//   - goalsync_selector_failures - scope selectors whose lookup failed
//   - goalsync_state_errors - posts whose state could not be saved
//   - goalsync_run_duration_seconds
//   - goalsync_last_run_timestamp_seconds
//   - goalsync_last_success_timestamp_seconds - only set by successful runs
//   - goalsync_run_success - 1 when the run completed without a fatal error
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &Recorder{
		reg: reg,
		Items: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items",
			Help:      "Items processed in the last run by outcome",
		}, []string{"outcome"}),
		GoalsResolved:    gauge("goals_resolved", "Goals resolved from the configured scope"),
		GoalFailures:     gauge("goal_failures", "Goals that could not be processed"),
		SelectorFailures: gauge("selector_failures", "Scope selectors whose lookup failed"),
		StateErrors:      gauge("state_errors", "Posted updates whose sync state could not be saved"),
		Duration:         gauge("run_duration_seconds", "Wall time of the last run"),
		LastRun:          gauge("last_run_timestamp_seconds", "Unix time the last run finished"),
		LastSuccess:      gauge("last_success_timestamp_seconds", "Unix time the last successful run finished"),
		Success:          gauge("run_success", "1 if the last run completed without a fatal error"),
	}
}

// Registry returns the registry holding the run metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe records a run. summary may be nil when the run never started.
func (r *Recorder) Observe(summary *syncer.RunSummary, runErr error) {
	finished := time.Now()
	if summary != nil {
		if !summary.FinishedAt.IsZero() {
			finished = summary.FinishedAt
		}
		for _, o := range outcomes {
			r.Items.WithLabelValues(string(o)).Set(float64(summary.Count(o)))
		}
		r.GoalsResolved.Set(float64(summary.GoalsResolved))
		r.GoalFailures.Set(float64(len(summary.GoalFailures)))
		r.SelectorFailures.Set(float64(len(summary.SelectorFails)))
		r.StateErrors.Set(float64(summary.StateErrors))
		if !summary.StartedAt.IsZero() {
			r.Duration.Set(finished.Sub(summary.StartedAt).Seconds())
		}
	}

	r.LastRun.Set(float64(finished.Unix()))
	if runErr != nil {
		r.Success.Set(0)
		return
	}
	r.Success.Set(1)
	r.LastSuccess.Set(float64(finished.Unix()))
}

// Pusher sends the registry to a Pushgateway.
type Pusher struct {
	url      string
	job      string
	grouping map[string]string
	client   *http.Client
}

// NewPusher targets the gateway at url under job.
func NewPusher(url, job string) *Pusher {
	if job == "" {
		job = namespace
	}
	return &Pusher{url: url, job: job, grouping: map[string]string{}}
}

// Grouping adds a grouping label.
func (p *Pusher) Grouping(name, value string) *Pusher {
	p.grouping[name] = value
	return p
}

// Client sets the HTTP client used for the push.
func (p *Pusher) Client(c *http.Client) *Pusher {
	p.client = c
	return p
}

// Push replaces the job's metric group with the recorder's metrics.
func (p *Pusher) Push(ctx context.Context, r *Recorder) error {
	pusher := push.New(p.url, p.job).Gatherer(r.reg)
	for k, v := range p.grouping {
		pusher = pusher.Grouping(k, v)
	}
	if p.client != nil {
		pusher = pusher.Client(p.client)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}

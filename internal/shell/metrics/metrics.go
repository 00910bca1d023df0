// Package metrics records run outcomes and pushes them to a Prometheus Pushgateway.
//
// Each run is a separate process, so every series describes the last run
// rather than a running total. Pushes use POST, which replaces only the
// series a run sets and leaves the rest of the app's group in place.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "hostdeploy"
	job       = "hostdeploy"

	labelApp         = "app"
	labelEnvironment = "environment"
	labelOutcome     = "outcome"
	labelResult      = "result"
	labelStep        = "step"
)

// Run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Rollback results.
const (
	RollbackRestored = "restored"
	RollbackNoBackup = "no_backup"
	RollbackFailed   = "failed"
)

var (
	outcomes        = []string{OutcomeSucceeded, OutcomeFailed}
	rollbackResults = []string{RollbackRestored, RollbackNoBackup, RollbackFailed}
)

// Recorder collects the metrics of a single run in its own registry.
type Recorder struct {
	registry *prometheus.Registry
	url      string
	logger   *slog.Logger

	outcome      *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
	rollback     *prometheus.GaugeVec
	duration     *prometheus.GaugeVec
	stepDuration *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
}

// NewRecorder creates a recorder. An empty pushgatewayURL disables Push.
func NewRecorder(pushgatewayURL string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		url:      pushgatewayURL,
		logger:   logger.With("component", "metrics"),

		outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_outcome",
			Help:      "1 for the outcome of the last deployment run, 0 for the others",
		}, []string{labelApp, labelEnvironment, labelOutcome}),

		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "unix time the last deployment run finished",
		}, []string{labelApp, labelEnvironment}),

		rollback: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_rollback_result",
			Help:      "1 for the result of the last rollback, 0 for the others",
		}, []string{labelApp, labelEnvironment, labelResult}),

		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "wall time of the last deployment run",
		}, []string{labelApp, labelEnvironment}),

		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "wall time of each step of the last deployment run",
		}, []string{labelApp, labelEnvironment, labelStep}),

		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "unix time of the last successful deployment",
		}, []string{labelApp, labelEnvironment}),
	}

	r.registry.MustRegister(r.outcome, r.lastRun, r.rollback, r.duration, r.stepDuration, r.lastSuccess)
	return r
}

// Enabled reports whether results are pushed anywhere.
func (r *Recorder) Enabled() bool {
	return r.url != ""
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStep records how long a step took.
func (r *Recorder) ObserveStep(app, environment, step string, d time.Duration) {
	r.stepDuration.WithLabelValues(app, environment, step).Set(d.Seconds())
}

// ObserveRollback records the result of the run's rollback.
func (r *Recorder) ObserveRollback(app, environment, result string) {
	setOneHot(r.rollback, app, environment, rollbackResults, result)
}

// ObserveRun records the outcome of a run.
func (r *Recorder) ObserveRun(app, environment, outcome string, d time.Duration, finishedAt time.Time) {
	setOneHot(r.outcome, app, environment, outcomes, outcome)
	r.lastRun.WithLabelValues(app, environment).Set(float64(finishedAt.Unix()))
	r.duration.WithLabelValues(app, environment).Set(d.Seconds())
	if outcome == OutcomeSucceeded {
		r.lastSuccess.WithLabelValues(app, environment).Set(float64(finishedAt.Unix()))
	}
}

// Push sends the collected metrics grouped by app. It is a no-op when no
// Pushgateway is configured.
func (r *Recorder) Push(ctx context.Context, app string) error {
	if !r.Enabled() {
		return nil
	}

	err := push.New(r.url, job).
		Gatherer(r.registry).
		Grouping(labelApp, app).
		AddContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", r.url, err)
	}

	r.logger.Debug("pushed metrics", "url", r.url, "app", app)
	return nil
}

// setOneHot sets the series for value to 1 and every other known value to 0,
// so a push overwrites whichever series the previous run left at 1.
func setOneHot(vec *prometheus.GaugeVec, app, environment string, values []string, value string) {
	for _, v := range values {
		vec.WithLabelValues(app, environment, v).Set(0)
	}
	vec.WithLabelValues(app, environment, value).Set(1)
}

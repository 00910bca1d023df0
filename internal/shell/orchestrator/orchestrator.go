// Package orchestrator drives a single deployment run from preflight to
// success or rollback.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/artpar/hostdeploy/internal/core/monitoring"
	"github.com/artpar/hostdeploy/internal/shell/metrics"
	"github.com/artpar/hostdeploy/internal/shell/notify"
	"github.com/artpar/hostdeploy/internal/shell/store"
	"github.com/artpar/hostdeploy/internal/shell/vcs"
	"github.com/artpar/hostdeploy/internal/shell/workspace"
)

// =============================================================================
// Collaborators
// =============================================================================

// Preflight verifies host preconditions.
type Preflight interface {
	Check(ctx context.Context) error
}

// Lease is a held per-app lock.
type Lease interface {
	Context() context.Context
	Release() error
}

// Locker hands out per-app leases.
type Locker interface {
	Acquire(ctx context.Context, app, owner string) (Lease, error)
}

// Syncer brings a working copy up to date.
type Syncer interface {
	Sync(ctx context.Context, target vcs.Target) (vcs.Result, error)
}

// Workspace owns the on-disk deployment tree.
type Workspace interface {
	Layout() coredeployment.Layout
	Snapshot(app, version string) (string, error)
	Backup(app string) (workspace.BackupResult, error)
	LatestBackup(app string) (string, bool, error)
	Restore(app, stamp string) (string, error)
	Promote(app, version string) error
}

// Runtime builds images and manages the single container of an app.
type Runtime interface {
	Build(ctx context.Context, contextDir, tag string) error
	Remove(ctx context.Context, name string) (bool, error)
	Run(ctx context.Context, plan coredeployment.ContainerPlan) (string, error)
}

// Prober checks the health of the launched service.
type Prober interface {
	Check(ctx context.Context) (domain.ProbeResult, error)
}

// History persists deployment records. The start of a run is written in a
// single transaction.
type History interface {
	WithTx(ctx context.Context, fn func(store.Store) error) error
	UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
}

// Metrics records run outcomes.
type Metrics interface {
	ObserveStep(app, environment, step string, d time.Duration)
	ObserveRollback(app, environment, result string)
	ObserveRun(app, environment, outcome string, d time.Duration, finishedAt time.Time)
	Push(ctx context.Context, app string) error
}

// Deps bundles the collaborators of an Orchestrator. Locker, Notifier,
// History and Metrics are optional.
type Deps struct {
	Preflight Preflight
	Locker    Locker
	Syncer    Syncer
	Workspace Workspace
	Runtime   Runtime
	Prober    Prober
	ErrorLog  notify.Notifier
	Notifier  notify.Notifier
	History   History
	Metrics   Metrics
}

func (d Deps) validate() error {
	missing := func(name string) error {
		return fmt.Errorf("orchestrator: %s is required", name)
	}
	switch {
	case d.Preflight == nil:
		return missing("preflight")
	case d.Syncer == nil:
		return missing("syncer")
	case d.Workspace == nil:
		return missing("workspace")
	case d.Runtime == nil:
		return missing("runtime")
	case d.Prober == nil:
		return missing("prober")
	case d.ErrorLog == nil:
		return missing("error log")
	}
	return nil
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config holds the settings a run needs beyond its collaborators.
type Config struct {
	RemoteBase string // e.g. https://github.com
	Owner      string
	Repo       string // defaults to the app name
	TagPrefix  string // prepended to the version to form the source tag

	ContainerPort int
	HostPort      int
	RestartPolicy string

	// FinalizeTimeout bounds notification, history and metrics writes that
	// must happen even after the run context is cancelled. Default: 30s.
	FinalizeTimeout time.Duration

	// RollbackTimeout bounds the rollback, which runs to completion even
	// when the run context is cancelled. Default: 10m.
	RollbackTimeout time.Duration
}

// Orchestrator runs deployments.
type Orchestrator struct {
	config Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(config Config, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = 30 * time.Second
	}
	if config.RollbackTimeout <= 0 {
		config.RollbackTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
	}, nil
}

// Result describes what a run did. It is returned even when the run fails.
type Result struct {
	RunID       string
	Phases      []domain.Phase // every phase entered, in order
	Status      domain.DeploymentStatus
	Sync        vcs.Result
	Backup      workspace.BackupResult
	ContainerID string
	Health      domain.ProbeResult
	Rollback    *RollbackResult // nil unless a rollback ran
}

// Phase returns the last phase the run entered.
func (r *Result) Phase() domain.Phase {
	if len(r.Phases) == 0 {
		return ""
	}
	return r.Phases[len(r.Phases)-1]
}

// Rollback outcomes.
const (
	RollbackRestored = metrics.RollbackRestored
	RollbackNoBackup = metrics.RollbackNoBackup
	RollbackFailed   = metrics.RollbackFailed
)

// RollbackResult describes a rollback attempt.
type RollbackResult struct {
	Outcome     string
	Backup      string // stamp of the restored backup
	ContainerID string
	Err         error
}

// Run deploys req. The returned error is nil only when the run succeeded;
// ExitCode maps it to the process exit status.
func (o *Orchestrator) Run(ctx context.Context, req domain.DeploymentRequest) (*Result, error) {
	started := o.now()
	record := domain.NewDeploymentRecord(req, started)

	r := &run{
		o:       o,
		req:     req,
		record:  record,
		started: started,
		logger:  o.logger.With("app", req.App, "version", req.Version, "environment", req.Environment, "run_id", record.ID),
		result: &Result{
			RunID:  record.ID,
			Status: domain.StatusRunning,
		},
	}
	r.enterInitial()

	if err := req.Validate(); err != nil {
		return r.result, r.finish(ctx, stepError(KindInput, err))
	}
	return r.result, r.execute(ctx)
}

// =============================================================================
// Run State
// =============================================================================

type run struct {
	o       *Orchestrator
	req     domain.DeploymentRequest
	record  *domain.DeploymentRecord
	result  *Result
	logger  *slog.Logger
	started time.Time

	phase      domain.Phase
	phaseStart time.Time
	recorded   bool
}

func (r *run) enterInitial() {
	r.phase = domain.PhaseStart
	r.phaseStart = r.started
	r.result.Phases = append(r.result.Phases, r.phase)
	r.logger.Info(monitoring.PhaseMessage(r.phase, r.req), "phase", r.phase)
}

// advance moves the run to the next phase and emits its status line.
func (r *run) advance(next domain.Phase) error {
	if err := domain.ValidateTransition(r.phase, next); err != nil {
		return err
	}

	now := r.o.now()
	if m := r.o.deps.Metrics; m != nil {
		m.ObserveStep(r.req.App, r.req.Environment, string(r.phase), now.Sub(r.phaseStart))
	}

	r.phase = next
	r.phaseStart = now
	r.result.Phases = append(r.result.Phases, next)

	msg := monitoring.PhaseMessage(next, r.req)
	if next == domain.PhaseFailed {
		r.logger.Error(msg, "phase", next)
	} else {
		r.logger.Info(msg, "phase", next)
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.advance(domain.PhasePreflight); err != nil {
		return r.finish(ctx, err)
	}
	lease, err := r.preflight(ctx)
	if err != nil {
		return r.finish(ctx, err)
	}
	if lease != nil {
		defer func() {
			if err := lease.Release(); err != nil {
				r.logger.Warn("failed to release deployment lock", "error", err)
			}
		}()
		ctx = lease.Context()
	}

	r.open(ctx)

	steps := []struct {
		phase domain.Phase
		fn    func(context.Context) error
	}{
		{domain.PhaseSync, r.sync},
		{domain.PhaseBackup, r.backup},
		{domain.PhaseBuildLaunch, r.buildAndLaunch},
		{domain.PhaseHealthCheck, r.healthCheck},
	}
	for _, step := range steps {
		if err := r.advance(step.phase); err != nil {
			return r.finish(ctx, err)
		}
		if err := step.fn(ctx); err != nil {
			return r.finish(ctx, err)
		}
	}
	return r.finish(ctx, nil)
}

// finish moves the run to its terminal phase and records the outcome.
func (r *run) finish(ctx context.Context, runErr error) error {
	if runErr == nil {
		if err := r.advance(domain.PhaseSucceeded); err != nil {
			runErr = err
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			r.logger.Error("run interrupted", "cause", context.Cause(ctx))
		}
		if r.phase != domain.PhaseFailed {
			if err := r.advance(domain.PhaseFailed); err != nil {
				r.logger.Error("invalid terminal transition", "from", r.phase, "error", err)
				r.phase = domain.PhaseFailed
				r.result.Phases = append(r.result.Phases, domain.PhaseFailed)
			}
		}
		r.logger.Error("deployment failed", "error", runErr)
	}

	r.result.Status = r.status(runErr)
	finished := r.o.now()
	r.record.Finish(r.result.Status, runErr, finished)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.config.FinalizeTimeout)
	defer cancel()

	if h := r.o.deps.History; h != nil && r.recorded {
		if err := h.UpdateDeployment(fctx, r.record); err != nil {
			r.logger.Warn("failed to record deployment outcome", "error", err)
		}
	}

	if m := r.o.deps.Metrics; m != nil {
		outcome := metrics.OutcomeSucceeded
		if runErr != nil {
			outcome = metrics.OutcomeFailed
		}
		m.ObserveRun(r.req.App, r.req.Environment, outcome, finished.Sub(r.started), finished)
		if err := m.Push(fctx, r.req.App); err != nil {
			r.logger.Warn("failed to push metrics", "error", err)
		}
	}

	return runErr
}

func (r *run) status(runErr error) domain.DeploymentStatus {
	switch {
	case runErr == nil:
		return domain.StatusSucceeded
	case r.result.Rollback != nil && r.result.Rollback.Outcome == RollbackRestored:
		return domain.StatusRolledBack
	default:
		return domain.StatusFailed
	}
}

// open starts the history record once the lock is held.
func (r *run) open(ctx context.Context) {
	h := r.o.deps.History
	if h == nil {
		return
	}

	var abandoned int
	err := h.WithTx(ctx, func(tx store.Store) error {
		n, err := tx.AbandonRunningDeployments(ctx, r.req.App, "superseded by run "+r.record.ID, r.o.now())
		if err != nil {
			return err
		}
		abandoned = n
		return tx.CreateDeployment(ctx, r.record)
	})
	if err != nil {
		r.logger.Warn("failed to record deployment start", "error", err)
		return
	}
	if abandoned > 0 {
		r.logger.Warn("marked interrupted deployments as failed", "count", abandoned)
	}
	r.recorded = true
}

// =============================================================================
// Steps
// =============================================================================

func (r *run) preflight(ctx context.Context) (Lease, error) {
	if err := r.o.deps.Preflight.Check(ctx); err != nil {
		return nil, stepError(KindPrecondition, err)
	}

	if r.o.deps.Locker == nil {
		return nil, nil
	}
	lease, err := r.o.deps.Locker.Acquire(ctx, r.req.App, r.record.ID)
	if err != nil {
		return nil, stepError(KindPrecondition, err)
	}
	return lease, nil
}

func (r *run) sync(ctx context.Context) error {
	cfg := r.o.config
	target := vcs.Target{
		URL:  coredeployment.RemoteURL(cfg.RemoteBase, cfg.Owner, cfg.Repo, r.req.App),
		Path: r.o.deps.Workspace.Layout().WorkingCopy(r.req.App),
		Ref:  coredeployment.TagName(cfg.TagPrefix, r.req.Version),
	}

	res, err := r.o.deps.Syncer.Sync(ctx, target)
	if err != nil {
		return stepError(KindSync, err)
	}
	r.result.Sync = res

	r.logger.Info("source synchronized",
		"cloned", res.Cloned,
		"updated", res.Updated,
		"revision", res.Revision,
	)
	return nil
}

func (r *run) backup(ctx context.Context) error {
	res, err := r.o.deps.Workspace.Backup(r.req.App)
	if err != nil {
		return stepError(KindBackup, err)
	}
	r.result.Backup = res

	if res.Skipped {
		r.logger.Info("no current deployment, backup skipped")
	} else {
		r.logger.Info("backed up current deployment", "backup", res.Stamp)
	}
	return nil
}

// buildAndLaunch builds the new image before the running container is
// touched, so a failed build leaves the old version serving.
func (r *run) buildAndLaunch(ctx context.Context) error {
	app, version := r.req.App, r.req.Version

	dir, err := r.o.deps.Workspace.Snapshot(app, version)
	if err != nil {
		return stepError(KindBuild, err)
	}

	image := coredeployment.ImageTag(app, version)
	if err := r.o.deps.Runtime.Build(ctx, dir, image); err != nil {
		return stepError(KindBuild, err)
	}

	id, err := r.launch(ctx, image, version)
	if err != nil {
		return stepError(KindLaunch, err)
	}
	r.result.ContainerID = id
	return nil
}

// launch replaces the app's container with one running image.
func (r *run) launch(ctx context.Context, image, version string) (string, error) {
	name := coredeployment.ContainerName(r.req.App)
	if _, err := r.o.deps.Runtime.Remove(ctx, name); err != nil {
		return "", err
	}

	plan := coredeployment.BuildContainerPlan(coredeployment.ContainerPlanParams{
		App:           r.req.App,
		Version:       version,
		Environment:   r.req.Environment,
		Image:         image,
		ContainerPort: r.o.config.ContainerPort,
		HostPort:      r.o.config.HostPort,
		RestartPolicy: r.o.config.RestartPolicy,
	})
	return r.o.deps.Runtime.Run(ctx, plan)
}

func (r *run) healthCheck(ctx context.Context) error {
	res, err := r.o.deps.Prober.Check(ctx)
	if err != nil {
		// Interrupted before a verdict; the new version is unverified.
		res = domain.ProbeResult{Status: domain.HealthUnreachable, Err: err}
	}
	r.result.Health = res

	if res.Healthy() {
		r.logger.Info("service is healthy", "attempts", res.Attempts)
		r.promote()
		return nil
	}

	reason := monitoring.FailureReason(res)
	r.logger.Error("service is not healthy", "status", res.Status, "reason", reason)

	if err := r.advance(domain.PhaseRollback); err != nil {
		return err
	}

	// The unhealthy container must be replaced even after a signal or a lost lease.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.config.RollbackTimeout)
	defer cancel()
	return r.rollback(rctx, reason)
}

// promote makes the verified release the current deployment, so only a
// version that passed its health check is ever backed up.
func (r *run) promote() {
	if err := r.o.deps.Workspace.Promote(r.req.App, r.req.Version); err != nil {
		r.logger.Error("failed to promote release to current", "error", err)
	}
}

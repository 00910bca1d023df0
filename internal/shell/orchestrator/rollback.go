package orchestrator

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
	"github.com/artpar/hostdeploy/internal/core/domain"
)

// =============================================================================
// Rollback
// =============================================================================

// rollback replaces the unhealthy container with one built from the latest
// backup. Every sub-step is best effort; the run fails regardless.
func (r *run) rollback(ctx context.Context, reason string) error {
	app := r.req.App
	res := &RollbackResult{}
	r.result.Rollback = res

	var merr *multierror.Error

	if _, err := r.o.deps.Runtime.Remove(ctx, coredeployment.ContainerName(app)); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("remove unhealthy container: %w", err))
	}

	stamp, found, err := r.o.deps.Workspace.LatestBackup(app)
	if err != nil {
		merr = multierror.Append(merr, fmt.Errorf("find latest backup: %w", err))
	}

	var (
		kind  ErrorKind
		cause error
	)
	if !found {
		res.Outcome = RollbackNoBackup
		r.logger.Error("no backup available, leaving no container running")
		kind = KindRollback
		cause = fmt.Errorf("%w: %s; %w", ErrUnhealthy, reason, ErrNoBackup)
	} else {
		res.Backup = stamp
		r.logger.Info("restoring backup", "backup", stamp)

		if err := r.restore(ctx, stamp, res); err != nil {
			merr = multierror.Append(merr, err)
			res.Outcome = RollbackFailed
			kind = KindRollback
			cause = fmt.Errorf("%w: %s; %w: %w", ErrUnhealthy, reason, ErrRollbackFailed, err)
		} else {
			res.Outcome = RollbackRestored
			r.logger.Info("rolled back to backup", "backup", stamp, "container", res.ContainerID)
			kind = KindHealth
			cause = fmt.Errorf("%w: %s; rolled back to backup %s", ErrUnhealthy, reason, stamp)
		}
	}

	res.Err = merr.ErrorOrNil()
	if res.Err != nil {
		r.logger.Warn("rollback did not complete cleanly", "error", res.Err)
	}

	if m := r.o.deps.Metrics; m != nil {
		m.ObserveRollback(app, r.req.Environment, res.Outcome)
	}

	r.report(ctx, cause.Error(), res.Outcome == RollbackRestored)
	return stepError(kind, cause)
}

// restore puts the backup back in place and runs it as the rollback image.
func (r *run) restore(ctx context.Context, stamp string, res *RollbackResult) error {
	dir, err := r.o.deps.Workspace.Restore(r.req.App, stamp)
	if err != nil {
		return err
	}

	image := coredeployment.RollbackTag(r.req.App)
	if err := r.o.deps.Runtime.Build(ctx, dir, image); err != nil {
		return fmt.Errorf("build %s: %w", image, err)
	}

	id, err := r.launch(ctx, image, coredeployment.RollbackVersion)
	if err != nil {
		return fmt.Errorf("start %s: %w", image, err)
	}
	res.ContainerID = id
	return nil
}

// report appends the failure to the error log and notifies operators.
// Neither failure changes the outcome of the run.
func (r *run) report(ctx context.Context, reason string, rolledBack bool) {
	record := domain.NewFailureRecord(r.record.ID, r.req, reason, rolledBack, r.o.now())

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.config.FinalizeTimeout)
	defer cancel()

	if err := r.o.deps.ErrorLog.Notify(nctx, record); err != nil {
		r.logger.Error("failed to append to error log", "error", err)
	}
	if n := r.o.deps.Notifier; n != nil {
		if err := n.Notify(nctx, record); err != nil {
			r.logger.Warn("failed to notify operators", "error", err)
		}
	}
}

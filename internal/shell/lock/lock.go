// Package lock provides the exclusive per-app deployment lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/artpar/hostdeploy/internal/shell/store"
	"github.com/artpar/hostdeploy/internal/shell/workers"
)

// ErrHeld is returned by Acquire when another run holds the lease.
var ErrHeld = store.ErrLockHeld

// Store is the subset of the store the locker needs.
type Store interface {
	AcquireLock(ctx context.Context, lease domain.Lease) error
	RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error
	ReleaseLock(ctx context.Context, app, owner string) error
}

// Locker hands out leases backed by a Store.
type Locker struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewLocker creates a locker. ttl defaults to 15 minutes.
func NewLocker(s Store, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		store:  s,
		ttl:    ttl,
		logger: logger.With("component", "lock"),
		now:    time.Now,
	}
}

// Lease is a held lock. Its context is cancelled when the lease is lost
// or released.
type Lease struct {
	domain.Lease

	store   Store
	renewer *workers.LeaseRenewer
	ctx     context.Context
	cancel  context.CancelCauseFunc
	logger  *slog.Logger
	once    sync.Once
}

// Acquire takes the lease for app on behalf of owner and starts renewing it.
// The returned lease's Context derives from ctx.
func (l *Locker) Acquire(ctx context.Context, app, owner string) (*Lease, error) {
	lease := domain.NewLease(app, owner, l.ttl, l.now())
	if err := l.store.AcquireLock(ctx, lease); err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return nil, fmt.Errorf("another deployment of %s is in progress: %w", app, err)
		}
		return nil, fmt.Errorf("acquire deployment lock for %s: %w", app, err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	held := &Lease{
		Lease:  lease,
		store:  l.store,
		ctx:    leaseCtx,
		cancel: cancel,
		logger: l.logger.With("app", app, "owner", owner),
	}
	held.renewer = workers.NewLeaseRenewer(l.store, app, owner, workers.LeaseRenewerConfig{TTL: l.ttl},
		func(err error) { cancel(err) }, l.logger)
	held.renewer.Start()

	held.logger.Info("acquired deployment lock", "expires_at", lease.ExpiresAt)
	return held, nil
}

// Context is cancelled when the lease is lost or released.
func (h *Lease) Context() context.Context {
	return h.ctx
}

// Release stops renewal and deletes the lease. It is safe to call more
// than once and works after the parent context has been cancelled.
func (h *Lease) Release() error {
	var err error
	h.once.Do(func() {
		h.renewer.Stop()
		h.cancel(context.Canceled)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err = h.store.ReleaseLock(ctx, h.App, h.Owner)
		if errors.Is(err, store.ErrLockLost) {
			h.logger.Warn("deployment lock was already taken over")
			err = nil
			return
		}
		if err != nil {
			h.logger.Error("failed to release deployment lock", "error", err)
			return
		}
		h.logger.Info("released deployment lock")
	})
	return err
}

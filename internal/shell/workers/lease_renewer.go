// Package workers contains background workers that run alongside a deployment.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/hostdeploy/internal/shell/store"
)

// LeaseStore is the subset of the store the renewer needs.
type LeaseStore interface {
	RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error
}

// LeaseRenewerConfig configures the lease renewer worker.
type LeaseRenewerConfig struct {
	// TTL is how far each renewal pushes the expiry.
	// Default: 15 minutes.
	TTL time.Duration

	// Interval is the time between renewals.
	// Default: TTL / 3.
	Interval time.Duration

	// Timeout bounds a single renewal.
	// Default: 10 seconds.
	Timeout time.Duration
}

// DefaultLeaseRenewerConfig returns the default configuration.
func DefaultLeaseRenewerConfig() LeaseRenewerConfig {
	return LeaseRenewerConfig{
		TTL:      15 * time.Minute,
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// LeaseRenewer periodically extends a held deployment lease.
type LeaseRenewer struct {
	store  LeaseStore
	app    string
	owner  string
	config LeaseRenewerConfig
	logger *slog.Logger
	now    func() time.Time
	onLost func(error)

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLeaseRenewer creates a new lease renewer worker. onLost is called at
// most once when the lease turns out to be held by someone else.
func NewLeaseRenewer(
	s LeaseStore,
	app, owner string,
	config LeaseRenewerConfig,
	onLost func(error),
	logger *slog.Logger,
) *LeaseRenewer {
	if config.TTL == 0 {
		config.TTL = 15 * time.Minute
	}
	if config.Interval == 0 {
		config.Interval = config.TTL / 3
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}
	if onLost == nil {
		onLost = func(error) {}
	}

	return &LeaseRenewer{
		store:  s,
		app:    app,
		owner:  owner,
		config: config,
		logger: logger.With("component", "lease_renewer", "app", app),
		now:    time.Now,
		onLost: onLost,
	}
}

// Start begins the renewer background goroutine.
func (r *LeaseRenewer) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Debug("lease renewer started",
		"interval", r.config.Interval,
		"ttl", r.config.TTL,
	)
}

// Stop stops the renewer and waits for an in-flight renewal to finish.
func (r *LeaseRenewer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Debug("lease renewer stopped")
}

// run is the main loop that renews the lease periodically.
func (r *LeaseRenewer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if lost := r.renew(); lost {
				return
			}
		}
	}
}

// renew extends the lease once. It reports true when the lease was lost
// and renewing should stop.
func (r *LeaseRenewer) renew() bool {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
	defer cancel()

	expiresAt := r.now().Add(r.config.TTL)
	err := r.store.RenewLock(ctx, r.app, r.owner, expiresAt)
	switch {
	case err == nil:
		r.logger.Debug("lease renewed", "expires_at", expiresAt)
		return false
	case errors.Is(err, store.ErrLockLost):
		r.logger.Error("deployment lease lost", "owner", r.owner, "error", err)
		r.onLost(err)
		return true
	case r.ctx.Err() != nil:
		return true
	default:
		// Retried on the next tick.
		r.logger.Warn("failed to renew lease", "error", err)
		return false
	}
}

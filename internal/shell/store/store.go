package store

import (
	"context"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployment state.
type Store interface {
	// Lock operations
	AcquireLock(ctx context.Context, lease domain.Lease) error
	RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error
	ReleaseLock(ctx context.Context, app, owner string) error

	// Deployment history operations
	CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	ListDeployments(ctx context.Context, app string, opts ListOptions) ([]domain.DeploymentRecord, error)
	AbandonRunningDeployments(ctx context.Context, app, reason string, at time.Time) (int, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

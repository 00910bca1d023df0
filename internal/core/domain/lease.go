package domain

import "time"

// Lease is the exclusive per-app deployment lock.
// A lease whose ExpiresAt has passed may be taken over by another owner.
type Lease struct {
	App        string    `json:"app"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewLease creates a lease for owner valid for ttl from now.
func NewLease(app, owner string, ttl time.Duration, now time.Time) Lease {
	now = now.UTC()
	return Lease{
		App:        app,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Expired reports whether the lease is no longer valid at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

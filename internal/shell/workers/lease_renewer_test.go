package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/artpar/hostdeploy/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Store
// =============================================================================

type mockLeaseStore struct {
	mu       sync.Mutex
	renewals []time.Time
	errs     []error // returned in order, nil once exhausted
}

func (m *mockLeaseStore) RenewLock(ctx context.Context, app, owner string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals = append(m.renewals, expiresAt)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

func (m *mockLeaseStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.renewals)
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Test Configuration
// =============================================================================

func TestDefaultLeaseRenewerConfig(t *testing.T) {
	config := DefaultLeaseRenewerConfig()

	assert.Equal(t, 15*time.Minute, config.TTL)
	assert.Equal(t, 5*time.Minute, config.Interval)
	assert.Equal(t, 10*time.Second, config.Timeout)
}

func TestNewLeaseRenewer_DefaultConfig(t *testing.T) {
	r := NewLeaseRenewer(&mockLeaseStore{}, "foo", "run-1", LeaseRenewerConfig{}, nil, nil)

	assert.Equal(t, 15*time.Minute, r.config.TTL)
	assert.Equal(t, 5*time.Minute, r.config.Interval)
	assert.Equal(t, 10*time.Second, r.config.Timeout)
}

func TestNewLeaseRenewer_IntervalFromTTL(t *testing.T) {
	r := NewLeaseRenewer(&mockLeaseStore{}, "foo", "run-1", LeaseRenewerConfig{TTL: 90 * time.Second}, nil, setupTestLogger())
	assert.Equal(t, 30*time.Second, r.config.Interval)
}

// =============================================================================
// Test Lifecycle
// =============================================================================

func TestLeaseRenewer_StartStop(t *testing.T) {
	s := &mockLeaseStore{}
	r := NewLeaseRenewer(s, "foo", "run-1", LeaseRenewerConfig{
		TTL:      time.Second,
		Interval: 10 * time.Millisecond,
	}, nil, setupTestLogger())

	r.Start()
	require.Eventually(t, func() bool { return s.count() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	n := s.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, s.count(), "no renewals after Stop")
}

func TestLeaseRenewer_StopWithoutStart(t *testing.T) {
	r := NewLeaseRenewer(&mockLeaseStore{}, "foo", "run-1", LeaseRenewerConfig{}, nil, nil)

	// Stop without start should not panic
	r.Stop()
}

// =============================================================================
// Test Renewal
// =============================================================================

func TestLeaseRenewer_Renew_ExtendsByTTL(t *testing.T) {
	s := &mockLeaseStore{}
	r := NewLeaseRenewer(s, "foo", "run-1", LeaseRenewerConfig{TTL: time.Minute}, nil, setupTestLogger())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.ctx, r.cancel = context.WithCancel(context.Background())
	defer r.cancel()

	assert.False(t, r.renew())
	require.Len(t, s.renewals, 1)
	assert.Equal(t, now.Add(time.Minute), s.renewals[0])
}

func TestLeaseRenewer_Renew_LostCallsOnLost(t *testing.T) {
	lostErr := store.NewStoreError("RenewLock", "lock", "foo", "lease no longer held", store.ErrLockLost)
	s := &mockLeaseStore{errs: []error{lostErr}}

	var got error
	r := NewLeaseRenewer(s, "foo", "run-1", LeaseRenewerConfig{}, func(err error) { got = err }, setupTestLogger())
	r.ctx, r.cancel = context.WithCancel(context.Background())
	defer r.cancel()

	assert.True(t, r.renew())
	assert.ErrorIs(t, got, store.ErrLockLost)
}

func TestLeaseRenewer_Renew_TransientErrorKeepsGoing(t *testing.T) {
	s := &mockLeaseStore{errs: []error{errors.New("database is locked")}}

	called := false
	r := NewLeaseRenewer(s, "foo", "run-1", LeaseRenewerConfig{}, func(error) { called = true }, setupTestLogger())
	r.ctx, r.cancel = context.WithCancel(context.Background())
	defer r.cancel()

	assert.False(t, r.renew())
	assert.False(t, called)
	assert.False(t, r.renew())
	assert.Equal(t, 2, s.count())
}

func TestLeaseRenewer_LoopStopsAfterLoss(t *testing.T) {
	s := &mockLeaseStore{errs: []error{store.ErrLockLost}}

	lost := make(chan error, 1)
	r := NewLeaseRenewer(s, "foo", "run-1", LeaseRenewerConfig{
		TTL:      time.Second,
		Interval: 5 * time.Millisecond,
	}, func(err error) { lost <- err }, setupTestLogger())

	r.Start()
	defer r.Stop()

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, store.ErrLockLost)
	case <-time.After(time.Second):
		t.Fatal("onLost not called")
	}

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, s.count())
}

package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_ObserveRun(t *testing.T) {
	r := NewRecorder("", setupTestLogger())
	finished := time.Unix(1714564800, 0)

	r.ObserveRun("foo", "production", OutcomeSucceeded, 42*time.Second, finished)
	r.ObserveRun("foo", "production", OutcomeFailed, 10*time.Second, finished.Add(time.Hour))

	assert.Equal(t, 0.0, testutil.ToFloat64(r.outcome.WithLabelValues("foo", "production", OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcome.WithLabelValues("foo", "production", OutcomeFailed)))
	assert.Equal(t, float64(finished.Add(time.Hour).Unix()), testutil.ToFloat64(r.lastRun.WithLabelValues("foo", "production")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.duration.WithLabelValues("foo", "production")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(r.lastSuccess.WithLabelValues("foo", "production")))
}

func TestRecorder_ObserveRollbackAndSteps(t *testing.T) {
	r := NewRecorder("", setupTestLogger())

	r.ObserveRollback("foo", "production", RollbackNoBackup)
	r.ObserveStep("foo", "production", "sync", 1500*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.rollback.WithLabelValues("foo", "production", RollbackNoBackup)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.rollback.WithLabelValues("foo", "production", RollbackRestored)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.rollback.WithLabelValues("foo", "production", RollbackFailed)))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.stepDuration.WithLabelValues("foo", "production", "sync")))
}

func TestRecorder_GatherNames(t *testing.T) {
	r := NewRecorder("", setupTestLogger())
	r.ObserveRun("foo", "production", OutcomeFailed, time.Second, time.Now())

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "hostdeploy_last_run_outcome")
	assert.Contains(t, names, "hostdeploy_last_run_timestamp_seconds")
	assert.NotContains(t, names, "hostdeploy_runs_total")
	assert.Contains(t, names, "hostdeploy_run_duration_seconds")
}

func TestRecorder_PushDisabled(t *testing.T) {
	r := NewRecorder("", setupTestLogger())
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Push(context.Background(), "foo"))
}

func TestRecorder_Push(t *testing.T) {
	var path, method, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		method = req.Method
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(srv.URL, setupTestLogger())
	r.ObserveRun("foo", "production", OutcomeSucceeded, time.Second, time.Now())

	require.NoError(t, r.Push(context.Background(), "foo"))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/metrics/job/hostdeploy/app/foo", path)
	assert.NotEmpty(t, body)
}

func TestRecorder_PushOverwritesPreviousOutcome(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(srv.URL, setupTestLogger())
	r.ObserveRun("foo", "production", OutcomeFailed, time.Second, time.Now())
	require.NoError(t, r.Push(context.Background(), "foo"))

	// Both outcome series travel with every push, so a failure resets the
	// succeeded series a previous run left at 1.
	assert.Contains(t, body, "hostdeploy_last_run_outcome")
	assert.Contains(t, body, OutcomeSucceeded)
	assert.Contains(t, body, OutcomeFailed)
}

func TestRecorder_PushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRecorder(srv.URL, setupTestLogger())
	r.ObserveRun("foo", "production", OutcomeFailed, time.Second, time.Now())

	assert.Error(t, r.Push(context.Background(), "foo"))
}

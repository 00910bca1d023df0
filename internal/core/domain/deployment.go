package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrMissingApp         = errors.New("app name is required")
	ErrMissingVersion     = errors.New("version is required")
	ErrMissingEnvironment = errors.New("environment is required")
	ErrInvalidApp         = errors.New("app name is invalid")
	ErrInvalidVersion     = errors.New("version is invalid")
	ErrInvalidTransition  = errors.New("invalid phase transition")
)

// appNamePattern matches names that are safe both as a directory segment
// and as a Docker container/image name component.
var appNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// =============================================================================
// Deployment Request
// =============================================================================

// DeploymentRequest identifies a single deployment run.
// It is built once from the command line and never mutated.
type DeploymentRequest struct {
	App         string `json:"app"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// NewDeploymentRequest creates a validated request.
func NewDeploymentRequest(app, version, environment string) (DeploymentRequest, error) {
	req := DeploymentRequest{
		App:         strings.TrimSpace(app),
		Version:     strings.TrimSpace(version),
		Environment: strings.TrimSpace(environment),
	}
	if err := req.Validate(); err != nil {
		return DeploymentRequest{}, err
	}
	return req, nil
}

// Validate checks that all fields are present and usable as path segments.
func (r DeploymentRequest) Validate() error {
	if r.App == "" {
		return ErrMissingApp
	}
	if r.Version == "" {
		return ErrMissingVersion
	}
	if r.Environment == "" {
		return ErrMissingEnvironment
	}
	if !appNamePattern.MatchString(r.App) {
		return fmt.Errorf("%w: %q (lowercase letters, digits, '_', '.', '-')", ErrInvalidApp, r.App)
	}
	if strings.ContainsAny(r.Version, `/\ `) || r.Version == "." || r.Version == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, r.Version)
	}
	return nil
}

// String returns a compact identifier for log lines.
func (r DeploymentRequest) String() string {
	return fmt.Sprintf("%s@%s (%s)", r.App, r.Version, r.Environment)
}

// =============================================================================
// Run Phases
// =============================================================================

// Phase is a step of a deployment run.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhasePreflight   Phase = "preflight"
	PhaseSync        Phase = "sync"
	PhaseBackup      Phase = "backup"
	PhaseBuildLaunch Phase = "build_launch"
	PhaseHealthCheck Phase = "health_check"
	PhaseRollback    Phase = "rollback"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// validTransitions defines the allowed phase transitions.
// Every fatal step may jump to failed; only health check may enter rollback.
var validTransitions = map[Phase][]Phase{
	PhaseStart:       {PhasePreflight, PhaseFailed},
	PhasePreflight:   {PhaseSync, PhaseFailed},
	PhaseSync:        {PhaseBackup, PhaseFailed},
	PhaseBackup:      {PhaseBuildLaunch, PhaseFailed},
	PhaseBuildLaunch: {PhaseHealthCheck, PhaseFailed},
	PhaseHealthCheck: {PhaseSucceeded, PhaseRollback},
	PhaseRollback:    {PhaseFailed},
	PhaseSucceeded:   {}, // Terminal
	PhaseFailed:      {}, // Terminal
}

// ValidateTransition checks if a phase transition is valid.
func ValidateTransition(from, to Phase) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, p := range allowed {
		if p == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// =============================================================================
// Health
// =============================================================================

// HealthStatus is the classification of a health probe.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnhealthy   HealthStatus = "unhealthy"   // responded with a non-200 status
	HealthUnreachable HealthStatus = "unreachable" // connection could not be established
)

// ProbeResult is the outcome of a health check.
type ProbeResult struct {
	Status     HealthStatus
	StatusCode int
	Attempts   int
	Err        error
}

// Healthy reports whether the service passed the check.
func (r ProbeResult) Healthy() bool {
	return r.Status == HealthHealthy
}

// =============================================================================
// Deployment Records
// =============================================================================

// DeploymentStatus is the persisted status of a run.
type DeploymentStatus string

const (
	StatusRunning    DeploymentStatus = "running"
	StatusSucceeded  DeploymentStatus = "succeeded"
	StatusRolledBack DeploymentStatus = "rolled_back"
	StatusFailed     DeploymentStatus = "failed"
)

// DeploymentRecord is the history entry for one run.
type DeploymentRecord struct {
	ID          string           `json:"id"`
	App         string           `json:"app"`
	Version     string           `json:"version"`
	Environment string           `json:"environment"`
	Status      DeploymentStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// NewDeploymentRecord starts a history entry for a request.
func NewDeploymentRecord(req DeploymentRequest, now time.Time) *DeploymentRecord {
	return &DeploymentRecord{
		ID:          uuid.New().String(),
		App:         req.App,
		Version:     req.Version,
		Environment: req.Environment,
		Status:      StatusRunning,
		StartedAt:   now.UTC(),
	}
}

// Finish records the final status of the run.
func (d *DeploymentRecord) Finish(status DeploymentStatus, runErr error, now time.Time) {
	finished := now.UTC()
	d.Status = status
	d.FinishedAt = &finished
	if runErr != nil {
		d.Error = runErr.Error()
	}
}

// FailureRecord is what gets appended to the error log and sent to operators
// when a deployment fails its health check.
type FailureRecord struct {
	RunID       string
	App         string
	Version     string
	Environment string
	Reason      string
	RolledBack  bool
	OccurredAt  time.Time
}

// NewFailureRecord builds a failure record for a request.
func NewFailureRecord(runID string, req DeploymentRequest, reason string, rolledBack bool, now time.Time) FailureRecord {
	return FailureRecord{
		RunID:       runID,
		App:         req.App,
		Version:     req.Version,
		Environment: req.Environment,
		Reason:      reason,
		RolledBack:  rolledBack,
		OccurredAt:  now.UTC(),
	}
}

// LogLine renders the record as a single error-log line.
func (f FailureRecord) LogLine() string {
	return fmt.Sprintf("%s deployment failed app=%s version=%s environment=%s run=%s rolled_back=%t reason=%q",
		f.OccurredAt.Format(time.RFC3339), f.App, f.Version, f.Environment, f.RunID, f.RolledBack, f.Reason)
}

// Subject renders a short notification subject.
func (f FailureRecord) Subject() string {
	return fmt.Sprintf("[%s] deployment of %s %s failed", f.Environment, f.App, f.Version)
}

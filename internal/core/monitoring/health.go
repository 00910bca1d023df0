// Package monitoring provides pure functions for health and status reporting.
// This package contains NO I/O.
package monitoring

import (
	"fmt"
	"net/http"

	"github.com/artpar/hostdeploy/internal/core/domain"
)

// =============================================================================
// Probe Classification (Pure Functions)
// =============================================================================

// ClassifyProbe maps the outcome of a single HTTP request to a health status.
// A transport error means the service was unreachable; otherwise only
// status 200 counts as healthy.
func ClassifyProbe(statusCode int, err error) domain.HealthStatus {
	if err != nil {
		return domain.HealthUnreachable
	}
	if statusCode == http.StatusOK {
		return domain.HealthHealthy
	}
	return domain.HealthUnhealthy
}

// FailureReason renders why a probe result is not healthy.
func FailureReason(result domain.ProbeResult) string {
	switch result.Status {
	case domain.HealthHealthy:
		return ""
	case domain.HealthUnreachable:
		if result.Err != nil {
			return fmt.Sprintf("service unreachable: %v", result.Err)
		}
		return "service unreachable"
	default:
		return fmt.Sprintf("health check returned status %d", result.StatusCode)
	}
}

// =============================================================================
// Status Line Generation (Pure Functions)
// =============================================================================

// PhaseMessage generates the human-readable status line emitted when a phase starts.
func PhaseMessage(phase domain.Phase, req domain.DeploymentRequest) string {
	switch phase {
	case domain.PhaseStart:
		return fmt.Sprintf("Deploying %s version %s to %s", req.App, req.Version, req.Environment)
	case domain.PhasePreflight:
		return "Checking required tools"
	case domain.PhaseSync:
		return "Synchronizing source for " + req.App
	case domain.PhaseBackup:
		return "Backing up current deployment of " + req.App
	case domain.PhaseBuildLaunch:
		return fmt.Sprintf("Building and launching %s version %s", req.App, req.Version)
	case domain.PhaseHealthCheck:
		return "Checking health of " + req.App
	case domain.PhaseRollback:
		return "Health check failed, rolling back " + req.App
	case domain.PhaseSucceeded:
		return fmt.Sprintf("Deployment of %s version %s succeeded", req.App, req.Version)
	case domain.PhaseFailed:
		return fmt.Sprintf("Deployment of %s version %s failed", req.App, req.Version)
	default:
		return fmt.Sprintf("%s: %s", req.App, phase)
	}
}

package orchestrator

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	KindInput        ErrorKind = "input"
	KindPrecondition ErrorKind = "precondition"
	KindSync         ErrorKind = "sync"
	KindBackup       ErrorKind = "backup"
	KindBuild        ErrorKind = "build"
	KindLaunch       ErrorKind = "launch"
	KindHealth       ErrorKind = "health"
	KindRollback     ErrorKind = "rollback"
)

var (
	ErrUnhealthy      = errors.New("health check failed")
	ErrNoBackup       = errors.New("no backup available")
	ErrRollbackFailed = errors.New("rollback failed")
)

// StepError is returned by Run for every failed deployment.
type StepError struct {
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(kind ErrorKind, err error) *StepError {
	return &StepError{Kind: kind, Err: err}
}

// KindOf returns the kind of a StepError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind, true
	}
	return "", false
}

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ExitCode maps the result of a run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return ExitFailure
}

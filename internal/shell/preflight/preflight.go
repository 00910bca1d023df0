// Package preflight verifies host preconditions before a deployment touches anything.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

// DefaultTools are the executables a host must provide.
var DefaultTools = []string{"git", "docker", "curl", "nginx"}

var (
	ErrToolMissing       = errors.New("required tool not found")
	ErrDaemonUnreachable = errors.New("container daemon unreachable")
)

// MissingToolError names the first tool that could not be resolved.
type MissingToolError struct {
	Tool string
	Err  error
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required tool %q not found in PATH", e.Tool)
}

func (e *MissingToolError) Unwrap() error {
	return ErrToolMissing
}

// Pinger checks that a daemon is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the preflight checks.
type Checker struct {
	tools    []string
	lookPath func(string) (string, error)
	daemon   Pinger
	logger   *slog.Logger
}

// NewChecker creates a checker. A nil tools slice uses DefaultTools; a nil
// daemon skips the daemon check.
func NewChecker(tools []string, daemon Pinger, logger *slog.Logger) *Checker {
	if tools == nil {
		tools = DefaultTools
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		tools:    tools,
		lookPath: exec.LookPath,
		daemon:   daemon,
		logger:   logger.With("component", "preflight"),
	}
}

// Check resolves every tool in order and fails on the first missing one.
// Nothing is executed.
func (c *Checker) Check(ctx context.Context) error {
	for _, tool := range c.tools {
		path, err := c.lookPath(tool)
		if err != nil {
			return &MissingToolError{Tool: tool, Err: err}
		}
		c.logger.Debug("found tool", "tool", tool, "path", path)
	}

	if c.daemon != nil {
		if err := c.daemon.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
		}
	}

	c.logger.Info("preflight checks passed", "tools", len(c.tools))
	return nil
}

// Package notify delivers deployment failure reports to operators.
package notify

import (
	"context"
	"log/slog"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/hashicorp/go-multierror"
)

// Notifier delivers a failure report.
type Notifier interface {
	Notify(ctx context.Context, record domain.FailureRecord) error
}

// Multi fans a report out to every notifier and returns all failures.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier. Nil notifiers are skipped.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "notify")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers the report on every channel, continuing past failures.
func (m *Multi) Notify(ctx context.Context, record domain.FailureRecord) error {
	var merr *multierror.Error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, record); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		m.logger.Warn("failure notification incomplete",
			"app", record.App,
			"failed_channels", merr.Len(),
			"channels", len(m.notifiers),
		)
		return err
	}
	m.logger.Info("operators notified", "app", record.App, "channels", len(m.notifiers))
	return nil
}

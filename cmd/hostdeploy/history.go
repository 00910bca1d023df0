package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/artpar/hostdeploy/internal/shell/store"
)

// HistoryLister reads deployment records.
type HistoryLister interface {
	ListDeployments(ctx context.Context, app string, opts store.ListOptions) ([]domain.DeploymentRecord, error)
}

// PrintHistory writes the last limit deployments of app as a table, newest first.
func PrintHistory(ctx context.Context, history HistoryLister, app string, limit int, w io.Writer) error {
	records, err := history.ListDeployments(ctx, app, store.ListOptions{Limit: limit}.Normalize())
	if err != nil {
		return fmt.Errorf("list deployments of %s: %w", app, err)
	}

	if len(records) == 0 {
		fmt.Fprintf(w, "no deployments of %s recorded\n", app)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tVERSION\tENVIRONMENT\tSTATUS\tDURATION\tRUN\tERROR")
	for _, r := range records {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Version,
			r.Environment,
			r.Status,
			duration,
			r.ID,
			r.Error,
		)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/artpar/hostdeploy/internal/shell/orchestrator"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := ParseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, errUsage) {
			return orchestrator.ExitSuccess
		}
		return orchestrator.ExitFailure
	}

	if opts.ShowBuild {
		fmt.Printf("hostdeploy %s (built %s)\n", Version, BuildTime)
		return orchestrator.ExitSuccess
	}

	cfg, err := LoadConfig(opts.ConfigPath, opts.Flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return orchestrator.ExitFailure
	}

	logger := SetupLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.History > 0 {
		st, err := OpenStore(cfg.State.DSN)
		if err != nil {
			logger.Error("failed to open state database", "error", err)
			return orchestrator.ExitFailure
		}
		defer st.Close()

		if err := PrintHistory(ctx, st, opts.App, opts.History, os.Stdout); err != nil {
			logger.Error("failed to list deployments", "error", err)
			return orchestrator.ExitFailure
		}
		return orchestrator.ExitSuccess
	}

	req, err := domain.NewDeploymentRequest(opts.App, opts.Version, opts.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		opts.Flags.Usage()
		return orchestrator.ExitFailure
	}

	logger.Info("starting hostdeploy", "build", Version, "config", opts.ConfigPath)

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return orchestrator.ExitFailure
	}
	defer app.Close()

	result, err := app.orchestrator.Run(ctx, req)
	if err != nil {
		kind, _ := orchestrator.KindOf(err)
		logger.Error("deployment failed",
			"kind", kind,
			"phase", result.Phase(),
			"status", result.Status,
			"run_id", result.RunID,
		)
	}
	return orchestrator.ExitCode(err)
}

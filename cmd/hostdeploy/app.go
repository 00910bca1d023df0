package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
	"github.com/artpar/hostdeploy/internal/shell/docker"
	"github.com/artpar/hostdeploy/internal/shell/lock"
	"github.com/artpar/hostdeploy/internal/shell/metrics"
	"github.com/artpar/hostdeploy/internal/shell/notify"
	"github.com/artpar/hostdeploy/internal/shell/orchestrator"
	"github.com/artpar/hostdeploy/internal/shell/preflight"
	"github.com/artpar/hostdeploy/internal/shell/probe"
	"github.com/artpar/hostdeploy/internal/shell/store"
	"github.com/artpar/hostdeploy/internal/shell/vcs"
	"github.com/artpar/hostdeploy/internal/shell/workspace"
)

// =============================================================================
// Application Wiring
// =============================================================================

// App owns the long-lived resources of one invocation.
type App struct {
	store        *store.SQLiteStore
	docker       *docker.DockerClient
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// OpenStore opens the state database, creating its directory if needed.
func OpenStore(dsn string) (*store.SQLiteStore, error) {
	if path := dsnPath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return store.NewSQLiteStore(dsn)
}

// dsnPath returns the file a DSN refers to, or "" for in-memory databases.
func dsnPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// NewApp connects to the state database and Docker and wires every
// collaborator of a run.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	st, err := OpenStore(cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	d.SetBuildOutput(os.Stdout)

	runtime := docker.NewRuntime(d, docker.RuntimeConfig{
		StopTimeout: cfg.Docker.StopTimeout,
		Build: docker.BuildOptions{
			Dockerfile: cfg.Docker.Dockerfile,
			BuildArgs:  cfg.Docker.BuildArgs,
			Pull:       cfg.Docker.Pull,
			NoCache:    cfg.Docker.NoCache,
		},
	}, logger)

	strategy, err := vcs.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		d.Close()
		st.Close()
		return nil, err
	}

	deps := orchestrator.Deps{
		Preflight: preflight.NewChecker(cfg.Preflight.Tools, runtime, logger),
		Locker:    leaseLocker{lock.NewLocker(st, cfg.Lock.TTL, logger)},
		Syncer: vcs.NewSyncer(vcs.Config{
			Strategy: strategy,
			Branch:   cfg.Sync.Branch,
			Token:    cfg.Sync.Token,

			SSHKey:           cfg.Sync.SSHKey,
			SSHKeyPassphrase: cfg.Sync.SSHKeyPassphrase,
			KnownHosts:       cfg.Sync.KnownHosts,
		}, logger),
		Workspace: workspace.New(
			coredeployment.NewLayout(cfg.Paths.Root, cfg.Paths.BackupRoot),
			coredeployment.RetentionPolicy{
				KeepBackups:  cfg.Retention.Backups,
				MaxBackupAge: cfg.Retention.BackupMaxAge,
				KeepReleases: cfg.Retention.Releases,
			},
			logger,
		),
		Runtime: runtime,
		Prober: probe.New(probe.Config{
			URL:            cfg.Health.URL,
			Warmup:         cfg.Health.Warmup,
			ConnectTimeout: cfg.Health.ConnectTimeout,
			Probes:         cfg.Health.Probes,
			Interval:       cfg.Health.Interval,
		}, logger),
		ErrorLog: notify.NewErrorLog(cfg.Paths.ErrorLog),
		History:  st,
		Metrics:  metrics.NewRecorder(cfg.Metrics.PushgatewayURL, logger),
	}

	channels, err := notifiers(cfg.Notify, logger)
	if err != nil {
		d.Close()
		st.Close()
		return nil, err
	}
	if channels.Len() > 0 {
		deps.Notifier = channels
	}

	orch, err := orchestrator.New(orchestrator.Config{
		RemoteBase:    cfg.Sync.RemoteBase,
		Owner:         cfg.Sync.Owner,
		Repo:          cfg.Sync.Repo,
		TagPrefix:     cfg.Sync.TagPrefix,
		ContainerPort: cfg.Container.Port,
		HostPort:      cfg.Container.HostPort,
		RestartPolicy: cfg.Container.RestartPolicy,

		RollbackTimeout: cfg.Rollback.Timeout,
	}, deps, logger)
	if err != nil {
		d.Close()
		st.Close()
		return nil, err
	}

	return &App{
		store:        st,
		docker:       d,
		orchestrator: orch,
		logger:       logger,
	}, nil
}

// notifiers builds the configured operator channels.
func notifiers(cfg NotifyConfig, logger *slog.Logger) (*notify.Multi, error) {
	var channels []notify.Notifier

	if cfg.Email.Host != "" {
		email, err := notify.NewEmail(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			StartTLS: cfg.Email.StartTLS,
			Timeout:  cfg.Email.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure email notifications: %w", err)
		}
		channels = append(channels, email)
	}

	if cfg.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhook(notify.WebhookConfig{
			URL:      cfg.Webhook.URL,
			RetryMax: cfg.Webhook.RetryMax,
			Timeout:  cfg.Webhook.Timeout,
		}, logger))
	}

	return notify.NewMulti(logger, channels...), nil
}

// Close releases the database and Docker connections.
func (a *App) Close() {
	if err := a.docker.Close(); err != nil {
		a.logger.Warn("failed to close docker client", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close state database", "error", err)
	}
}

// =============================================================================
// Adapters
// =============================================================================

// leaseLocker narrows *lock.Locker to the orchestrator's Locker.
type leaseLocker struct {
	*lock.Locker
}

func (l leaseLocker) Acquire(ctx context.Context, app, owner string) (orchestrator.Lease, error) {
	lease, err := l.Locker.Acquire(ctx, app, owner)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

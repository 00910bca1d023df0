package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coredeployment "github.com/artpar/hostdeploy/internal/core/deployment"
)

// =============================================================================
// Runtime - Single Container Lifecycle
// =============================================================================

// Runtime drives the build/teardown/run cycle of the single container of an app.
type Runtime struct {
	docker      Client
	logger      *slog.Logger
	stopTimeout time.Duration
	build       BuildOptions
}

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	// StopTimeout is the grace period before a container is killed.
	// Default: 10 seconds.
	StopTimeout time.Duration

	// Build holds options passed to every image build.
	Build BuildOptions
}

// NewRuntime creates a new runtime.
func NewRuntime(docker Client, config RuntimeConfig, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StopTimeout == 0 {
		config.StopTimeout = 10 * time.Second
	}
	return &Runtime{
		docker:      docker,
		logger:      logger.With("component", "docker"),
		stopTimeout: config.StopTimeout,
		build:       config.Build,
	}
}

// Ping checks that the daemon is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	return r.docker.Ping(ctx)
}

// Build builds contextDir into an image tagged tag.
func (r *Runtime) Build(ctx context.Context, contextDir, tag string) error {
	r.logger.Info("building image", "image", tag, "context", contextDir)

	start := time.Now()
	if err := r.docker.BuildImage(ctx, contextDir, tag, r.build); err != nil {
		return err
	}

	exists, err := r.docker.ImageExists(ctx, tag)
	if err != nil {
		return fmt.Errorf("failed to verify image %s: %w", tag, err)
	}
	if !exists {
		return NewDockerError("Build", "image", tag, "build finished without producing the image", ErrImageNotFound)
	}

	r.logger.Info("image built", "image", tag, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Current returns the container with the given name, or nil if none exists.
func (r *Runtime) Current(ctx context.Context, name string) (*ContainerInfo, error) {
	info, err := r.docker.FindContainer(ctx, name)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// Remove stops and removes the container with the given name.
// A missing container is not an error; removed reports whether one existed.
func (r *Runtime) Remove(ctx context.Context, name string) (removed bool, err error) {
	info, err := r.Current(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to look up container %s: %w", name, err)
	}
	if info == nil {
		r.logger.Debug("no existing container", "name", name)
		return false, nil
	}

	if info.Running() {
		r.logger.Info("stopping container", "name", name, "container_id", shortID(info.ID))
		timeout := r.stopTimeout
		if err := r.docker.StopContainer(ctx, info.ID, &timeout); err != nil &&
			!errors.Is(err, ErrContainerNotRunning) && !errors.Is(err, ErrContainerNotFound) {
			return false, fmt.Errorf("failed to stop container %s: %w", name, err)
		}
	}

	if err := r.docker.RemoveContainer(ctx, info.ID, RemoveOptions{Force: true}); err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to remove container %s: %w", name, err)
	}

	r.logger.Info("removed container", "name", name, "container_id", shortID(info.ID))
	return true, nil
}

// Run creates and starts a container from a plan.
// A container created but not started is removed again. One that starts and
// exits at once is left in place for its logs and reported as ErrContainerExited.
func (r *Runtime) Run(ctx context.Context, plan coredeployment.ContainerPlan) (string, error) {
	spec := buildContainerSpec(plan)

	containerID, err := r.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", plan.Name, err)
	}
	r.logger.Debug("created container", "name", plan.Name, "container_id", shortID(containerID))

	if err := r.docker.StartContainer(ctx, containerID); err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
		if rmErr := r.docker.RemoveContainer(ctx, containerID, RemoveOptions{Force: true}); rmErr != nil {
			r.logger.Warn("failed to clean up container after start failure", "name", plan.Name, "error", rmErr)
		}
		return "", fmt.Errorf("failed to start container %s: %w", plan.Name, err)
	}

	info, err := r.docker.InspectContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", plan.Name, err)
	}
	if !info.Running() {
		return "", NewDockerError("Run", "container", plan.Name,
			fmt.Sprintf("container %s is %s", shortID(containerID), info.Status), ErrContainerExited)
	}

	r.logger.Info("started container",
		"name", plan.Name,
		"image", plan.Image,
		"container_id", shortID(containerID),
	)
	return containerID, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// buildContainerSpec converts a pure container plan to a Docker spec.
func buildContainerSpec(plan coredeployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:   plan.Name,
		Image:  plan.Image,
		Labels: plan.Labels,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
	}
	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	return spec
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

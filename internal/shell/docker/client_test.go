package docker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func skipIfNoDocker(t *testing.T) *DockerClient {
	t.Helper()
	cli, err := NewDockerClient("")
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		t.Skip("Docker not reachable:", err)
	}
	return cli
}

func cleanupContainer(t *testing.T, cli Client, containerID string) {
	t.Helper()
	ctx := context.Background()
	timeout := 5 * time.Second
	cli.StopContainer(ctx, containerID, &timeout)
	cli.RemoveContainer(ctx, containerID, RemoveOptions{Force: true, RemoveVolumes: true})
}

func writeBuildContext(t *testing.T, dockerfile string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0644))
	return dir
}

// Test resource name prefix to identify test containers
const testPrefix = "hostdeploy-test-"

// =============================================================================
// Build Context Validation (no daemon needed)
// =============================================================================

func TestBuildImage_MissingContext(t *testing.T) {
	d := &DockerClient{}
	err := d.BuildImage(context.Background(), filepath.Join(t.TempDir(), "missing"), "foo:1", BuildOptions{})
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestBuildImage_MissingDockerfile(t *testing.T) {
	d := &DockerClient{}
	err := d.BuildImage(context.Background(), t.TempDir(), "foo:1", BuildOptions{})
	assert.ErrorIs(t, err, ErrInvalidContext)
}

// =============================================================================
// Daemon Tests
// =============================================================================

func TestPing_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	assert.NoError(t, cli.Ping(context.Background()))
}

func TestBuildImage_Success(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	dir := writeBuildContext(t, "FROM alpine:latest\nRUN echo ok > /ok\n")
	tag := testPrefix + "build:latest"

	require.NoError(t, cli.BuildImage(context.Background(), dir, tag, BuildOptions{}))

	exists, err := cli.ImageExists(context.Background(), tag)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuildImage_FailingStep(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	dir := writeBuildContext(t, "FROM alpine:latest\nRUN exit 3\n")
	err := cli.BuildImage(context.Background(), dir, testPrefix+"broken:latest", BuildOptions{})
	assert.ErrorIs(t, err, ErrImageBuildFailed)
}

func TestFindContainer_NotFound(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()

	_, err := cli.FindContainer(context.Background(), testPrefix+"does-not-exist")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestContainerLifecycle(t *testing.T) {
	cli := skipIfNoDocker(t)
	defer cli.Close()
	ctx := context.Background()

	dir := writeBuildContext(t, "FROM alpine:latest\nCMD [\"sleep\", \"30\"]\n")
	tag := testPrefix + "lifecycle:latest"
	require.NoError(t, cli.BuildImage(ctx, dir, tag, BuildOptions{}))

	name := testPrefix + "lifecycle"
	id, err := cli.CreateContainer(ctx, ContainerSpec{Name: name, Image: tag})
	require.NoError(t, err)
	defer cleanupContainer(t, cli, id)

	_, err = cli.CreateContainer(ctx, ContainerSpec{Name: name, Image: tag})
	assert.ErrorIs(t, err, ErrContainerAlreadyExists)

	require.NoError(t, cli.StartContainer(ctx, id))

	found, err := cli.FindContainer(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	assert.True(t, found.Running())

	timeout := 2 * time.Second
	require.NoError(t, cli.StopContainer(ctx, id, &timeout))

	info, err := cli.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, name, info.Name)
	assert.False(t, info.Running())

	require.NoError(t, cli.RemoveContainer(ctx, id, RemoveOptions{Force: true}))
	_, err = cli.InspectContainer(ctx, id)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

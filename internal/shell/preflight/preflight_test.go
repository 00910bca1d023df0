package preflight

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeLookPath(available ...string) (func(string) (string, error), *[]string) {
	var asked []string
	set := make(map[string]bool, len(available))
	for _, a := range available {
		set[a] = true
	}
	return func(name string) (string, error) {
		asked = append(asked, name)
		if set[name] {
			return "/usr/bin/" + name, nil
		}
		return "", exec.ErrNotFound
	}, &asked
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestNewChecker_DefaultTools(t *testing.T) {
	c := NewChecker(nil, nil, nil)
	assert.Equal(t, []string{"git", "docker", "curl", "nginx"}, c.tools)
}

func TestCheck_AllPresent(t *testing.T) {
	c := NewChecker(nil, fakePinger{}, setupTestLogger())
	lookPath, asked := fakeLookPath("git", "docker", "curl", "nginx")
	c.lookPath = lookPath

	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, DefaultTools, *asked)
}

func TestCheck_ReportsFirstMissingTool(t *testing.T) {
	c := NewChecker(nil, fakePinger{}, setupTestLogger())
	lookPath, asked := fakeLookPath("git", "nginx")
	c.lookPath = lookPath

	err := c.Check(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolMissing)

	var missing *MissingToolError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "docker", missing.Tool)
	assert.Contains(t, err.Error(), `"docker"`)
	assert.Equal(t, []string{"git", "docker"}, *asked, "stops at the first missing tool")
}

func TestCheck_CustomTools(t *testing.T) {
	c := NewChecker([]string{"git", "docker"}, nil, setupTestLogger())
	lookPath, _ := fakeLookPath("git", "docker")
	c.lookPath = lookPath

	assert.NoError(t, c.Check(context.Background()))
}

func TestCheck_EmptyToolList(t *testing.T) {
	c := NewChecker([]string{}, nil, setupTestLogger())
	lookPath, asked := fakeLookPath()
	c.lookPath = lookPath

	assert.NoError(t, c.Check(context.Background()))
	assert.Empty(t, *asked)
}

func TestCheck_DaemonUnreachable(t *testing.T) {
	c := NewChecker(nil, fakePinger{err: errors.New("connection refused")}, setupTestLogger())
	lookPath, _ := fakeLookPath(DefaultTools...)
	c.lookPath = lookPath

	err := c.Check(context.Background())
	assert.ErrorIs(t, err, ErrDaemonUnreachable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCheck_ToolsCheckedBeforeDaemon(t *testing.T) {
	c := NewChecker(nil, fakePinger{err: errors.New("connection refused")}, setupTestLogger())
	lookPath, _ := fakeLookPath()
	c.lookPath = lookPath

	err := c.Check(context.Background())
	assert.ErrorIs(t, err, ErrToolMissing)
	assert.NotErrorIs(t, err, ErrDaemonUnreachable)
}

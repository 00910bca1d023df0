package docker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDockerError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DockerError
		expected string
	}{
		{"with id", NewDockerError("BuildImage", "image", "foo:1.0", "build failed", ErrImageBuildFailed), "BuildImage image foo:1.0: build failed"},
		{"with entity", NewDockerError("FindContainer", "container", "", "list failed", nil), "FindContainer container: list failed"},
		{"op only", NewDockerError("Ping", "", "", "unreachable", ErrConnectionFailed), "Ping: unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDockerError_Unwrap(t *testing.T) {
	err := NewDockerError("StopContainer", "container", "abc", "container not found", ErrContainerNotFound)

	assert.True(t, errors.Is(err, ErrContainerNotFound))
	assert.False(t, errors.Is(err, ErrImageNotFound))
}

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Deploy(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := ParseFlags([]string{"--app=foo", "--version=1.2.0", "--env=production"}, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "foo", opts.App)
	assert.Equal(t, "1.2.0", opts.Version)
	assert.Equal(t, "production", opts.Environment)
	assert.Zero(t, opts.History)
	assert.Empty(t, stderr.String())
}

func TestParseFlags_ConfigPath(t *testing.T) {
	opts, err := ParseFlags([]string{"--app=foo", "--version=1.2.0", "--env=staging", "--config=/etc/hostdeploy.yaml"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/hostdeploy.yaml", opts.ConfigPath)
}

func TestParseFlags_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		missing string
	}{
		{"no flags", nil, "--app"},
		{"no version", []string{"--app=foo", "--env=production"}, "--version"},
		{"no env", []string{"--app=foo", "--version=1.2.0"}, "--env"},
		{"empty app", []string{"--app=", "--version=1.2.0", "--env=production"}, "--app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			_, err := ParseFlags(tt.args, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.missing)
			assert.Contains(t, stderr.String(), "Usage: hostdeploy")
		})
	}
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"--app=foo", "--version=1.2.0", "--env=production", "--force"}, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "unknown flag")
	assert.Contains(t, stderr.String(), "Usage: hostdeploy")
}

func TestParseFlags_PositionalArgument(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"--app=foo", "--version=1.2.0", "--env=production", "extra"}, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"extra"`)
}

func TestParseFlags_History(t *testing.T) {
	opts, err := ParseFlags([]string{"--app=foo", "--history"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, opts.History)

	opts, err = ParseFlags([]string{"--app=foo", "--history=5"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 5, opts.History)

	_, err = ParseFlags([]string{"--history"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "--app")

	_, err = ParseFlags([]string{"--app=foo", "--history=-1"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseFlags_Help(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"--help"}, &stderr)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, stderr.String(), "--app")
}

func TestParseFlags_BuildInfoNeedsNothingElse(t *testing.T) {
	opts, err := ParseFlags([]string{"--build-info"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, opts.ShowBuild)
}

//go:build linux
// +build linux

package main

import (
	"testing"

	"github.com/fzft/go-reactor/reactor"
	"github.com/fzft/go-reactor/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseArgs(t *testing.T) {
	t.Setenv(BackendEnv, "poll")
	cfg, err := parseArgs([]string{"8080", "4"})
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 4, cfg.ThreadNum)
	assert.Equal(t, reactor.BackendPoll, cfg.Backend)

	for _, args := range [][]string{
		nil,
		{"8080"},
		{"http", "4"},
		{"8080", "-1"},
		{"8080", "33"},
		{"70000", "1"},
	} {
		_, err := parseArgs(args)
		assert.Error(t, err, "args %v", args)
	}

	_, err = parseArgs([]string{"8080", "32"})
	assert.NoError(t, err)
	assert.Equal(t, 32, server.MaxThreadNum)

	t.Setenv(BackendEnv, "kqueue")
	_, err = parseArgs([]string{"8080", "1"})
	assert.ErrorIs(t, err, reactor.ErrNoBackend)
}

func TestLogLevel(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	assert.Equal(t, zapcore.InfoLevel, logLevel())

	t.Setenv(LogLevelEnv, "debug")
	assert.Equal(t, zapcore.DebugLevel, logLevel())

	t.Setenv(LogLevelEnv, "loud")
	assert.Equal(t, zapcore.InfoLevel, logLevel())
}

func TestVersion(t *testing.T) {
	assert.Equal(t, ReactorVersion, Version())

	gitSHA1, gitDirty = "1a2b3c", "1"
	defer func() { gitSHA1, gitDirty = "unknown", "unknown" }()
	assert.Equal(t, ReactorVersion+" (git:1a2b3c-dirty)", Version())
}

func TestBuildIdRaw(t *testing.T) {
	buildID, buildDate = "42", "2026-10-19"
	gitSHA1, gitDirty = "1a2b3c", "0"
	defer func() { buildID, buildDate, gitSHA1, gitDirty = "unknown", "unknown", "unknown", "unknown" }()

	assert.Equal(t, "422026-10-191a2b3c0", ReactorBuildIdRaw())
	assert.Equal(t, "1a2b3c", ReactorGitSHA1())
	assert.Equal(t, "0", ReactorGitDirty())
	assert.Equal(t, ReactorVersion+" (git:1a2b3c)", Version())
}

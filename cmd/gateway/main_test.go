package main

import (
	"bytes"
	"context"
	"os"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/chattygw/internal/config"
)

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags([]string{"-config", "gw.yaml", "-log-level", "debug", "-version"})
	require.NoError(t, err)

	assert.Equal(t, "gw.yaml", flags.configPath)
	assert.Equal(t, "debug", flags.logLevel)
	assert.Empty(t, flags.logFormat)
	assert.True(t, flags.showVersion)
}

func TestParseFlags_EnvDefaults(t *testing.T) {
	t.Setenv("CHATTYGW_CONFIG_PATH", "/etc/chattygw.yaml")
	t.Setenv("CHATTYGW_LOG_FORMAT", "console")

	flags, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/chattygw.yaml", flags.configPath)
	assert.Equal(t, "console", flags.logFormat)
}

func TestParseFlags_Unknown(t *testing.T) {
	_, err := parseFlags([]string{"-nope"})
	assert.Error(t, err)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "chattygw version dev")
}

func TestInitLogger_Precedence(t *testing.T) {
	cfg := config.Default()
	cfg.Observability.LogLevel = "bogus"

	_, err := initLogger(cliFlags{}, cfg)
	assert.Error(t, err)

	logger, err := initLogger(cliFlags{logLevel: "warn"}, cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 3000\n"), 0o600))
	t.Setenv("SECRET_KEY_ONE", "")
	t.Setenv("SECRET_KEY_TWO", "")

	err := run(context.Background(), cliFlags{configPath: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRun_BridgeFailureReturnsError(t *testing.T) {
	t.Setenv("SECRET_KEY_ONE", "one")
	t.Setenv("REDIS_HOST", "redis://127.0.0.1:1")
	t.Setenv("PORT", strconv.Itoa(freePort(t)))
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  bind: 127.0.0.1
observability:
  logLevel: error
  metrics:
    enabled: false
`), 0o600))

	err := run(context.Background(), cliFlags{configPath: path})
	require.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

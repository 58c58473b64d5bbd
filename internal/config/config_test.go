package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, "ws://localhost:3000/signal", cfg.ServerURL)
	require.Equal(t, "main", cfg.Room)
	require.Equal(t, ":8081", cfg.StatusAddr)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, 25*time.Second, cfg.PingPeriod)
	require.Equal(t, int64(1048576), cfg.ReadLimit)
	require.Equal(t, 1, cfg.ConsumeConcurrency)
	require.Equal(t, "continue", cfg.ConsumeFailure)
	require.Equal(t, 300000, cfg.MaxBitrate)
	require.Equal(t, "S1T3", cfg.ScalabilityMode)
	require.Empty(t, cfg.ICEServers)
}

func TestLoadFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
mode: debug
room: standup
request_timeout: 3s
consume_concurrency: 4
consume_failure: abort
ice_servers:
  - urls: ["stun:stun.l.google.com:19302"]
`), 0o600))
	t.Setenv("SFUCLIENT_SERVER_URL", "wss://sfu.example.com/signal")

	cfg, err := LoadFile(file)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, "standup", cfg.Room)
	require.Equal(t, "wss://sfu.example.com/signal", cfg.ServerURL)
	require.Equal(t, 3*time.Second, cfg.RequestTimeout)
	require.Equal(t, 4, cfg.ConsumeConcurrency)
	require.Equal(t, "abort", cfg.ConsumeFailure)
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	bad := *cfg
	bad.ServerURL = ""
	bad.RequestTimeout = 0
	bad.ConsumeFailure = "retry"
	err = bad.Validate()
	require.ErrorContains(t, err, "server_url")
	require.ErrorContains(t, err, "request_timeout")
	require.ErrorContains(t, err, "consume_failure")
}

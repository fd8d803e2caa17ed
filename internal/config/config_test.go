package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneBaseline(t *testing.T) {
	cfg := Default()
	require.Equal(t, "tcp://127.0.0.1:12321", cfg.Listen)
	require.Equal(t, 10*time.Second, cfg.HandshakeTimeout())
}

func TestLoadMissingPathFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Listen, cfg.Listen)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snekrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: tcp://0.0.0.0:9999\nworkers: 4\nlog-level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tcp://0.0.0.0:9999", cfg.Listen)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvOverridesLoadedFile(t *testing.T) {
	t.Setenv("SNEKRPC_LISTEN", "tcp://0.0.0.0:1")
	t.Setenv("SNEKRPC_WORKERS", "8")
	t.Setenv("SNEKRPC_DEBUG", "true")

	cfg := Default()
	applyEnv(cfg)
	require.Equal(t, "tcp://0.0.0.0:1", cfg.Listen)
	require.Equal(t, 8, cfg.Workers)
	require.True(t, cfg.Debug)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snekrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: tcp://127.0.0.1:1111\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("listen: tcp://127.0.0.1:2222\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, "tcp://127.0.0.1:2222", cfg.Listen)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

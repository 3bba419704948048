package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultDSN, cfg.Remote.DSN)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Session.Owner)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "todosync.yaml", `
remote:
  dsn: sqlite:///tmp/todos.db
  timeout: 2s
session:
  owner: alice
  state_dir: /tmp/todosync
log:
  level: debug
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/todos.db", cfg.Remote.DSN)
	assert.Equal(t, 2*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "alice", cfg.Session.Owner)
	assert.Equal(t, "/tmp/todosync", cfg.Session.StateDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "todosync.yaml", "session:\n  owner: alice\n")
	t.Setenv("TODOSYNC_SESSION_OWNER", "bob")
	t.Setenv("TODOSYNC_REMOTE_DSN", "ws://localhost:8080/ws")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Session.Owner)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Remote.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown level", "log:\n  level: loud\n"},
		{"bad timeout", "remote:\n  timeout: soon\n"},
		{"dsn without scheme", "remote:\n  dsn: todos.db\n"},
		{"unknown key", "remote:\n  dns: memory://\n"},
		{"bad addr", "server:\n  addr: localhost\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeFile(t, "c.yaml", tt.content))
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestValidateFile(t *testing.T) {
	assert.NoError(t, ValidateFile(writeFile(t, "ok.json", `{"server": {"addr": ":9090"}}`)))

	err := ValidateFile(writeFile(t, "bad.toml", "[log]\nlevel = \"trace\"\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid config")
}

func TestValidate_TimeoutAsNanoseconds(t *testing.T) {
	assert.NoError(t, Validate(map[string]any{"remote": map[string]any{"timeout": 1000}}))
	assert.Error(t, Validate(map[string]any{"remote": map[string]any{"timeout": -1}}))
}

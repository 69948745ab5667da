package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiceci.yaml")
	writeFile(t, path, `
database:
  dsn: "postgres://localhost/voiceci"
callback:
  shared_secret_env: "VOICECI_CALLBACK_SECRET"
queue:
  worker_count: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, "in_process", cfg.Machine.Driver)
	assert.Equal(t, 700, cfg.Thresholds.SilenceBaseMs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/voiceci.yaml")
	require.Error(t, err)
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Database.DSN = "postgres://localhost/voiceci"
	cfg.Thresholds.SilenceMinMs = 1000
	cfg.Thresholds.SilenceMaxMs = 500

	err := NewValidator().ValidateAll(cfg)
	require.Error(t, err)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Engine.FlatThreshold = 2
	cfg.Engine.MaxAccrualDays = 1 // below min_accrual_days
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "flat_threshold")
	assert.Contains(t, err.Error(), "max_accrual_days")
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: must be enabled")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[server]
port = 9100

[engine]
accrual_apy_cap = 150.0
snapshot_timeout = "5s"
`), 0o600))

	t.Setenv("YIELDSCOPE_SERVER_PORT", "9200")
	t.Setenv("YIELDSCOPE_REDIS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9200, cfg.Server.Port, "env override beats file value")
	assert.False(t, cfg.Redis.Enabled)
	assert.InDelta(t, 150.0, cfg.Engine.AccrualAPYCap, 0.001)
	assert.Equal(t, "5s", cfg.Engine.SnapshotTimeout.Duration.String())
	// Untouched fields keep defaults.
	assert.Equal(t, 30, cfg.Engine.HistoryLimit)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Redis.Password = ""

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original untouched")
}

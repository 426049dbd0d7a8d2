package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "medallion_migration_log", cfg.Tables().MigrationLog)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  driver: sqlserver
  dsn: sqlserver://wh.example.com?database=meta
  table_prefix: meta_
dispatch:
  parallelism: 64
  claim_timeout: 15m
storage:
  container: landing
transfer:
  max_retries: 5
log:
  level: debug
  development: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("MEDALLION_STORAGE_CONTAINER", "landing-prod")
	t.Setenv("MEDALLION_AUDIT_BUFFER_SIZE", "1024")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlserver", cfg.Database.Driver)
	assert.Equal(t, "meta_", cfg.Database.TablePrefix)
	assert.Equal(t, "meta_workspace", cfg.Tables().Workspace)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 16, cfg.Dispatch.Parallelism)
	assert.Equal(t, 15*time.Minute, cfg.Dispatch.ClaimTimeout)
	assert.Equal(t, "landing-prod", cfg.Storage.Container)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, 5, cfg.Transfer.MaxRetries)
	assert.Equal(t, "MigrationStaging", cfg.Transfer.DataSource)
	assert.True(t, cfg.Log.Development)

	logger, err := cfg.Log.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MEDALLION_DATABASE_DRIVER", "oracle")
	_, err := Load("")
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database: [unclosed"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Transfer.MaxRetries = -1
	assert.ErrorIs(t, bad.Validate(), medallion.ErrInvalidArgument)

	bad = cfg
	bad.Dispatch.ClaimTimeout = 0
	assert.ErrorIs(t, bad.Validate(), medallion.ErrInvalidArgument)

	bad = cfg
	bad.Log.Level = "loud"
	assert.ErrorIs(t, bad.Validate(), medallion.ErrInvalidArgument)

	bad = cfg
	bad.Database.Driver = string(sqlstore.SQLite)
	assert.NoError(t, bad.Validate())
}

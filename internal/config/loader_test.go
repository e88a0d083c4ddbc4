package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dicomgw/gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Retention.MinuteCount)
	assert.Equal(t, 24, cfg.Retention.HourCount)
	assert.Equal(t, 30, cfg.Retention.DayCount)
	assert.Equal(t, 4, cfg.Indexer.Workers)
	assert.Equal(t, 100, cfg.Indexer.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Metrics.RollupInterval)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
dataRoot: /data/gateway
indexer:
  workers: 16
  batchSize: 250
observability:
  logging:
    level: debug
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gatewayctl.yaml"), content, 0o644))

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, "/data/gateway", cfg.DataRoot)
	assert.Equal(t, 16, cfg.Indexer.Workers)
	assert.Equal(t, 250, cfg.Indexer.BatchSize)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_EnvVarOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("dataRoot: /data/from-file\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gatewayctl.yaml"), content, 0o644))

	t.Setenv("DICOMGW_DATAROOT", "/data/from-env")

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, "/data/from-env", cfg.DataRoot)
}

func TestLoad_CustomFileNameAndEnvPrefix(t *testing.T) {
	dir := t.TempDir()
	content := []byte("dataRoot: /data/custom\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), content, 0o644))

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}, FileName: "custom", EnvPrefix: "CUSTOMGW"})
	require.NoError(t, err)

	assert.Equal(t, "/data/custom", cfg.DataRoot)
}

func TestExpandEnvVars_SubstitutesDataRootAndStorePath(t *testing.T) {
	t.Setenv("GATEWAY_HOME", "/srv/gateway")

	dir := t.TempDir()
	content := []byte(`
dataRoot: ${GATEWAY_HOME}/data
store:
  path: ${GATEWAY_HOME}/gateway.db
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gatewayctl.yaml"), content, 0o644))

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, "/srv/gateway/data", cfg.DataRoot)
	assert.Equal(t, "/srv/gateway/gateway.db", cfg.Store.Path)
}

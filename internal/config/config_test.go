package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "data/work", cfg.Work.Root)
	assert.Equal(t, 2, cfg.Work.MaxConcurrent)
	assert.Equal(t, storage.ProviderS3, cfg.StorageConfig().Provider)
	assert.Equal(t, 1000, cfg.StorageConfig().PageSize)
	assert.Equal(t, "python2.7", cfg.Tools().Python)
	assert.Equal(t, "CRISPResso", cfg.Tools().CrispressoBin)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
}

func TestLoad_EnvOverridesDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"GUIDESEQ_STORAGE_PROVIDER=minio\nGUIDESEQ_STORAGE_ENDPOINT=localhost:9000\nGUIDESEQ_LOG_LEVEL=debug\n",
	), 0o644))
	t.Setenv("GUIDESEQ_STORAGE_ENDPOINT", "minio.internal:9000")
	t.Setenv("GUIDESEQ_WORK_MAXCONCURRENT", "5")
	t.Setenv("GUIDESEQ_AUTH_JWTSECRET", "s3cret")
	// godotenv sets variables it loads; register them for cleanup.
	t.Setenv("GUIDESEQ_STORAGE_PROVIDER", "")
	t.Setenv("GUIDESEQ_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("GUIDESEQ_STORAGE_PROVIDER"))
	require.NoError(t, os.Unsetenv("GUIDESEQ_LOG_LEVEL"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, storage.ProviderMinio, cfg.StorageConfig().Provider)
	assert.Equal(t, "minio.internal:9000", cfg.Storage.Endpoint)
	assert.Equal(t, 5, cfg.Work.MaxConcurrent)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"storage:\n  provider: file\n  fileroot: /srv/buckets\npipelines:\n  python: /usr/bin/python2.7\n",
	), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, storage.ProviderFile, cfg.StorageConfig().Provider)
	assert.Equal(t, "/srv/buckets", cfg.Storage.FileRoot)
	assert.Equal(t, "/usr/bin/python2.7", cfg.Tools().Python)
}

func TestLoad_MalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("storage: [\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestLogLevelFallback(t *testing.T) {
	var cfg Config
	cfg.Log.Level = "loud"
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

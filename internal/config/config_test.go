package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ossgate/internal/config"
	"ossgate/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	require.NoError(t, cfg.Validate())
	require.Equal(t, config.SessionBackendMemory, cfg.Session.Backend)
	require.Zero(t, cfg.Session.TTL, "sweeping is off unless configured")
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ossgate.yaml")
	content := `
server:
  listen: ":9999"
  prefix: /api
storage:
  provider: obs
  endpoint: https://obs.cn-north-4.myhuaweicloud.com
  bucket: media
  access_key: ak
  secret_key: sk
  compression: zstd
upload:
  max_concurrency: 4
session:
  backend: sqlite
  path: /var/lib/ossgate/sessions.sqlite
  ttl: 24h
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err, "Load error")
	require.Equal(t, ":9999", cfg.Server.Listen)
	require.Equal(t, "/api", cfg.Server.Prefix)
	require.Equal(t, "obs", cfg.Storage.Provider)
	require.Equal(t, "media", cfg.Storage.Bucket)
	require.Equal(t, "zstd", cfg.Storage.Compression)
	require.Equal(t, 4, cfg.Upload.MaxConcurrency)
	require.Equal(t, int64(64<<20), cfg.Upload.MaxChunkSize, "unset keys keep their defaults")
	require.Equal(t, config.SessionBackendSQLite, cfg.Session.Backend)
	require.Equal(t, 24*time.Hour, cfg.Session.TTL)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OSSGATE_STORAGE_PROVIDER", "local")
	t.Setenv("OSSGATE_STORAGE_DATA_DIR", "/tmp/ossgate")
	t.Setenv("OSSGATE_UPLOAD_MAX_CONCURRENCY", "3")
	t.Setenv("OSSGATE_SESSION_TTL", "90m")
	t.Setenv("OSSGATE_STORAGE_CORS", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Storage.Provider)
	require.Equal(t, "/tmp/ossgate", cfg.Storage.DataDir)
	require.Equal(t, 3, cfg.Upload.MaxConcurrency)
	require.Equal(t, 90*time.Minute, cfg.Session.TTL)
	require.True(t, cfg.Storage.CORS)
}

func TestLoadFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("OSSGATE_UPLOAD_MAX_CONCURRENCY", "many")

	_, err := config.Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "OSSGATE_UPLOAD_MAX_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.Configuration)
	}{
		{name: "unknown provider", mutate: func(c *config.Configuration) { c.Storage.Provider = "gcs" }},
		{name: "empty bucket", mutate: func(c *config.Configuration) { c.Storage.Bucket = "" }},
		{name: "local without data dir", mutate: func(c *config.Configuration) {
			c.Storage.Provider = "local"
			c.Storage.DataDir = ""
		}},
		{name: "bad codec", mutate: func(c *config.Configuration) { c.Storage.Compression = "brotli" }},
		{name: "zero concurrency", mutate: func(c *config.Configuration) { c.Upload.MaxConcurrency = 0 }},
		{name: "unknown session backend", mutate: func(c *config.Configuration) { c.Session.Backend = "etcd" }},
		{name: "negative ttl", mutate: func(c *config.Configuration) { c.Session.TTL = -time.Second }},
		{name: "bad log level", mutate: func(c *config.Configuration) { c.Log.Level = "chatty" }},
		{name: "prefix with trailing slash", mutate: func(c *config.Configuration) { c.Server.Prefix = "/api/" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefault()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestStorageGatewayConfig(t *testing.T) {
	t.Parallel()

	s := config.StorageConfig{
		Provider: "minio",
		Endpoint: "minio.local:9000",
		UseSSL:   true,
		Bucket:   "b",
	}

	gw := s.Gateway()
	require.Equal(t, storage.ProviderMinio, gw.Provider)
	require.Equal(t, "https://minio.local:9000", gw.Endpoint)

	s.UseSSL = false
	require.Equal(t, "http://minio.local:9000", s.Gateway().Endpoint)
}

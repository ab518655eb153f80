package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.Equal(t, 30*time.Minute, cfg.Jobs.Retention)
		assert.Equal(t, 60*time.Second, cfg.Jobs.SweepInterval)
		assert.Equal(t, 500*time.Millisecond, cfg.Jobs.HeartbeatInterval)
		assert.Equal(t, 16*1024, cfg.Jobs.LogBufferChars)

		assert.False(t, cfg.Archive.Enabled)
		assert.Empty(t, cfg.Auth.APIKey)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("CLOAKD_SERVER_PORT", "9191")
		t.Setenv("CLOAKD_AUTH_API_KEY", "sekrit")
		t.Setenv("CLOAKD_JOBS_RETENTION", "5m")

		cfg, err := Load(ctx, "")
		require.NoError(t, err)

		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, "sekrit", cfg.Auth.APIKey)
		assert.Equal(t, 5*time.Minute, cfg.Jobs.Retention)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cloakd.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
jobs:
  retention: 10m
profile:
  path: /etc/cloakd/profile.yaml
`), 0644))

		cfg, err := Load(ctx, path)
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 10*time.Minute, cfg.Jobs.Retention)
		assert.Equal(t, "/etc/cloakd/profile.yaml", cfg.Profile.Path)
		// Untouched sections keep defaults.
		assert.Equal(t, "localhost", cfg.Server.Host)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(context.Background(), "")
		require.NoError(t, err)
		return cfg
	}

	t.Run("rejects archive without bucket", func(t *testing.T) {
		cfg := base()
		cfg.Archive.Enabled = true
		assert.ErrorContains(t, cfg.Validate(), "archive.bucket")
	})

	t.Run("rejects non-positive retention", func(t *testing.T) {
		cfg := base()
		cfg.Jobs.Retention = 0
		assert.ErrorContains(t, cfg.Validate(), "retention")
	})

	t.Run("rejects out-of-range port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 70000
		assert.ErrorContains(t, cfg.Validate(), "port")
	})
}

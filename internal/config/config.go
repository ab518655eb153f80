// Package config loads cloakd configuration from defaults, an optional YAML
// file, and CLOAKD_* environment variables (in increasing precedence).
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full cloakd configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Profile ProfileConfig `mapstructure:"profile"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the zap loggers.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// AuthConfig configures API-key auth for the /api surface. An empty key
// disables auth (all requests rejected would be unusable for local dev, so
// the middleware passes everything through and the server logs a warning).
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// JobsConfig configures the job core.
type JobsConfig struct {
	// WorkspaceRoot is where job workspaces are created. Empty uses the
	// system temp directory.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// Retention is how long terminal jobs stay pollable before reaping.
	Retention time.Duration `mapstructure:"retention"`

	// SweepInterval is the reaper tick interval.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// HeartbeatInterval is the running-job liveness refresh interval.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// LogBufferChars is the per-job log character budget.
	LogBufferChars int `mapstructure:"log_buffer_chars"`

	// RateRPS and RateBurst bound submissions per second across callers.
	RateRPS   float64 `mapstructure:"rate_rps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// ProfileConfig locates the processing profile.
type ProfileConfig struct {
	Path string `mapstructure:"path"`
}

// AuditConfig configures the JSONL audit trail. An empty path disables it.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig configures optional S3 result archiving.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Load builds the configuration. configFile may be empty, in which case
// only defaults and environment variables apply; a missing explicit file is
// an error.
func Load(ctx context.Context, configFile string) (*Config, error) {
	_ = ctx

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CLOAKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be > 0")
	}
	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("jobs.sweep_interval must be > 0")
	}
	if c.Jobs.HeartbeatInterval <= 0 {
		return fmt.Errorf("jobs.heartbeat_interval must be > 0")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Bucket) == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("auth.api_key", "")

	v.SetDefault("jobs.workspace_root", "")
	v.SetDefault("jobs.retention", 30*time.Minute)
	v.SetDefault("jobs.sweep_interval", 60*time.Second)
	v.SetDefault("jobs.heartbeat_interval", 500*time.Millisecond)
	v.SetDefault("jobs.log_buffer_chars", 16*1024)
	v.SetDefault("jobs.rate_rps", 5.0)
	v.SetDefault("jobs.rate_burst", 10)

	v.SetDefault("profile.path", "")
	v.SetDefault("audit.path", "")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.force_path_style", false)
}

// Package observability holds the process-wide zap loggers.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is used by command-line paths. No-op until Init.
var CLILogger = zap.NewNop()

// ServerLogger is used by the HTTP surface and the job core. No-op until
// Init.
var ServerLogger = zap.NewNop()

// Init builds the process loggers.
//
// level is a zap level name ("debug", "info", "warn", "error"). profile
// selects the encoder: "STRUCTURED" for production JSON, "CONSOLE" for
// human-readable development output.
func Init(level, profile string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", "STRUCTURED":
		cfg = zap.NewProductionConfig()
	case "CONSOLE":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid logging profile %q (expected STRUCTURED or CONSOLE)", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger.Named("cli")
	ServerLogger = logger.Named("server")
	return nil
}

// Sync flushes buffered log entries. Safe to call at exit; sync errors on
// stderr are ignored.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

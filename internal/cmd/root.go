// Package cmd implements the cloakd command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cloakd/internal/config"
	"github.com/3leaps/cloakd/internal/observability"
)

// versionInfo holds build metadata injected at link time via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = version
}

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloakd",
	Short: "Image anonymization job service",
	Long: `cloakd runs an external image anonymizer as supervised jobs.

Each job stages uploaded images into an isolated workspace, spawns the
anonymizer configured in the processing profile, and derives the outcome
from the process exit code and the files it leaves behind.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cmd.Context(), cfgFile)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
		}
		cfg = c

		if err := observability.Init(c.Logging.Level, c.Logging.Profile); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to initialize logging", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (YAML)")
	rootCmd.Version = versionInfo.Version
}

// Execute runs the CLI and exits the process with the embedded exit code on
// failure.
func Execute() {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		observability.Sync()
		os.Exit(exitCode(err))
	}
}

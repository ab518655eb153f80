package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloakd/internal/observability"
	"github.com/3leaps/cloakd/pkg/jobs"
	"github.com/3leaps/cloakd/pkg/profile"
	"github.com/3leaps/cloakd/pkg/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE...",
	Short: "Anonymize images once, without the server",
	Long: `Run a single anonymization job from the command line.

The given images are staged into a fresh workspace, the profiled
anonymizer runs to completion, and the output files are written to the
--out directory.

Example:
  cloakd run --profile fawkes.yaml --out results/ a.jpg b.jpg c.jpg d.jpg
  cloakd run --profile fawkes.yaml --expected 1 --json selfie.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

var (
	runProfilePath   string
	runOutDir        string
	runExpected      int
	runJSON          bool
	runKeepWorkspace bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runProfilePath, "profile", "p", "", "Path to processing profile (required)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", ".", "Directory to write output files to")
	runCmd.Flags().IntVar(&runExpected, "expected", 0, "Override the profile's expected output count")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the job result as JSON to stdout")
	runCmd.Flags().BoolVar(&runKeepWorkspace, "keep-workspace", false, "Keep the job workspace for inspection")

	_ = runCmd.MarkFlagRequired("profile")
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	prof, err := profile.Load(runProfilePath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid processing profile", err)
	}
	if runExpected > 0 {
		prof.Output.ExpectedCount = runExpected
	}

	if len(args) != prof.Output.ExpectedCount {
		return exitError(foundry.ExitInvalidArgument, "Wrong input count",
			fmt.Errorf("profile expects %d images, got %d", prof.Output.ExpectedCount, len(args)))
	}

	ws, err := workspace.Create(cfg.Jobs.WorkspaceRoot)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create workspace", err)
	}
	if !runKeepWorkspace {
		defer func() { _ = ws.Remove() }()
	}

	for _, input := range args {
		f, err := os.Open(input)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read input", err)
		}
		_, stageErr := ws.StageFile(filepath.Base(input), f)
		_ = f.Close()
		if stageErr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to stage input", stageErr)
		}
	}

	reg := jobs.NewRegistry(jobs.Options{
		LogBufferChars: cfg.Jobs.LogBufferChars,
		Retention:      cfg.Jobs.Retention,
		SweepInterval:  cfg.Jobs.SweepInterval,
		Logger:         logger,
	})
	defer reg.Close()

	sup := jobs.NewSupervisor(reg, jobs.Command{
		Argv:           prof.Command.Argv,
		Env:            prof.EnvSlice(),
		Extensions:     prof.Output.Extensions,
		ProgressMarker: prof.Command.ProgressMarker,
	}, logger)
	sup.SetHeartbeatInterval(cfg.Jobs.HeartbeatInterval)

	id := reg.Create(ws.Root(), prof.Output.ExpectedCount)
	logger.Info("running job",
		zap.String("job_id", id),
		zap.Strings("argv", prof.Command.Argv),
		zap.Int("inputs", len(args)))

	sup.Run(ctx, id)

	job, ok := reg.Get(id)
	if !ok {
		return exitError(foundry.ExitExternalServiceUnavailable, "Job vanished",
			errors.New("job record missing after run"))
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(jobs.Project(job)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to encode result", err)
		}
	}

	if job.Status != jobs.StatusSucceeded {
		return exitError(foundry.ExitExternalServiceUnavailable, "Anonymization failed",
			errors.New(job.Error))
	}

	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output directory", err)
	}
	for _, f := range job.Output {
		dest := filepath.Join(runOutDir, f.Filename)
		if err := os.WriteFile(dest, f.Data, 0o644); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		logger.Info("wrote output", zap.String("path", dest))
	}

	return nil
}

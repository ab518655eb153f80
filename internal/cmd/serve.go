package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cloakd/internal/observability"
	"github.com/3leaps/cloakd/internal/server"
	"github.com/3leaps/cloakd/internal/server/handlers"
	"github.com/3leaps/cloakd/pkg/archive"
	"github.com/3leaps/cloakd/pkg/audit"
	"github.com/3leaps/cloakd/pkg/jobs"
	"github.com/3leaps/cloakd/pkg/profile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the anonymization HTTP service",
	Long: `Run the cloakd HTTP service.

The service accepts multipart image submissions, runs the profiled
anonymizer per job, and exposes job status, logs, and results over a
JSON API. Configuration comes from defaults, an optional --config file,
and CLOAKD_* environment variables.

Example:
  cloakd serve --config cloakd.yaml
  CLOAKD_PROFILE_PATH=fawkes.yaml cloakd serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// workspaceHealthChecker verifies the workspace root is a usable directory.
type workspaceHealthChecker struct {
	root string
}

func (c workspaceHealthChecker) CheckHealth(ctx context.Context) error {
	root := c.root
	if root == "" {
		root = os.TempDir()
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace root %s is not a directory", root)
	}
	return nil
}

// anonymizerHealthChecker verifies the profiled command resolves to an
// executable. Resolution failure here mirrors the queued-to-failed path a
// submitted job would take.
type anonymizerHealthChecker struct {
	argv0 string
}

func (c anonymizerHealthChecker) CheckHealth(ctx context.Context) error {
	if _, err := exec.LookPath(c.argv0); err != nil {
		return fmt.Errorf("anonymizer command: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.ServerLogger

	if cfg.Profile.Path == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing processing profile",
			fmt.Errorf("set profile.path in the config file or CLOAKD_PROFILE_PATH"))
	}
	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		logger.Error("Failed to load profile",
			zap.String("path", cfg.Profile.Path),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid processing profile", err)
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

	var auditWriter *audit.Writer
	if cfg.Audit.Path != "" {
		f, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open audit trail", err)
		}
		auditWriter = audit.NewWriter(f)
		defer func() { _ = auditWriter.Close() }()
	}

	var uploader *archive.Uploader
	if cfg.Archive.Enabled {
		uploader, err = archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			ForcePathStyle:  cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize archive", err)
		}
	}

	// Audit and archive hang off job completion; both are strictly
	// best-effort and never alter the job outcome.
	sup.OnTerminal = func(job *jobs.Job) {
		if auditWriter != nil {
			if err := auditWriter.WriteJob(context.Background(), audit.FromJob(job)); err != nil {
				logger.Warn("audit write failed",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}
		}
		if uploader != nil && job.Status == jobs.StatusSucceeded {
			if err := uploader.ArchiveJob(context.Background(), job.ID, job.Output); err != nil {
				logger.Warn("archive upload failed",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}
		}
	}

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("workspace", workspaceHealthChecker{root: cfg.Jobs.WorkspaceRoot})
	health.RegisterChecker("anonymizer", anonymizerHealthChecker{argv0: prof.Command.Argv[0]})

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Options{
		Build: handlers.BuildInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
		Health: health,
		Jobs: &handlers.JobsAPI{
			Registry:      reg,
			Supervisor:    sup,
			Profile:       prof,
			WorkspaceRoot: cfg.Jobs.WorkspaceRoot,
			Logger:        logger,
		},
		APIKey:          cfg.Auth.APIKey,
		RateRPS:         cfg.Jobs.RateRPS,
		RateBurst:       cfg.Jobs.RateBurst,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	logger.Info("starting cloakd",
		zap.String("version", versionInfo.Version),
		zap.String("profile", cfg.Profile.Path),
		zap.Strings("argv", prof.Command.Argv),
		zap.Int("expected_outputs", prof.Output.ExpectedCount),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("audit", cfg.Audit.Path != ""))

	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}

	logger.Info("cloakd stopped")
	return nil
}

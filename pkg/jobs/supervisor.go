package jobs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/cloakd/pkg/workspace"
)

// DefaultHeartbeatInterval is how often a running job's heartbeat is
// refreshed while its process is alive, independent of log activity.
const DefaultHeartbeatInterval = 500 * time.Millisecond

// maxLogLineBytes bounds a single scanned line from the anonymizer so a
// pathological process cannot blow up stream draining.
const maxLogLineBytes = 64 * 1024

// Command describes how to invoke the anonymizer and how to interpret its
// workspace afterwards.
type Command struct {
	// Argv is the command and its arguments. Argv[0] must resolve via PATH
	// or be an absolute path.
	Argv []string

	// Env is extra environment appended to the inherited environment, in
	// KEY=value form.
	Env []string

	// Extensions is the allowlist of output file extensions counted and
	// collected from the workspace's output area.
	Extensions []string

	// ProgressMarker, when non-empty, bumps the advisory progress counter
	// each time the substring appears on a stdout line. Cosmetic only; it
	// never gates a status transition.
	ProgressMarker string
}

// Supervisor runs exactly one external command per job inside the job's
// workspace and derives the terminal state solely from the process exit code
// and a post-exit inspection of the output area.
type Supervisor struct {
	reg     *Registry
	cmd     Command
	logger  *zap.Logger
	hbEvery time.Duration

	// OnTerminal, when set, is invoked once with a snapshot of the job
	// after it reaches a terminal state. Used to wire audit trails and
	// result archiving without coupling the core to them.
	OnTerminal func(job *Job)
}

// NewSupervisor creates a supervisor bound to a registry and command
// contract.
func NewSupervisor(reg *Registry, cmd Command, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		reg:     reg,
		cmd:     cmd,
		logger:  logger,
		hbEvery: DefaultHeartbeatInterval,
	}
}

// SetHeartbeatInterval overrides the heartbeat refresh interval.
// Non-positive values are ignored.
func (s *Supervisor) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		s.hbEvery = d
	}
}

// Run executes the job to a terminal state. It never returns an error to
// the caller: every failure mode is recorded on the job record, and an
// internal panic is caught at this boundary so it cannot take down the
// serving process or other jobs.
//
// Run blocks until the process exits and the outcome is recorded; callers
// wanting asynchronous execution dispatch it on their own goroutine.
func (s *Supervisor) Run(ctx context.Context, id string) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("supervisor panic", zap.String("job_id", id), zap.Any("panic", p))
			s.fail(id, fmt.Sprintf("internal error: %v", p))
			s.finish(id)
		}
	}()

	job, ok := s.reg.Get(id)
	if !ok {
		s.logger.Warn("supervisor started for unknown job", zap.String("job_id", id))
		return
	}

	if len(s.cmd.Argv) == 0 {
		s.fail(id, "no anonymizer command configured")
		s.finish(id)
		return
	}

	// Setup failure: a missing command jumps queued -> failed without ever
	// reaching running.
	if _, err := exec.LookPath(s.cmd.Argv[0]); err != nil {
		s.fail(id, fmt.Sprintf("anonymizer command not found: %s", s.cmd.Argv[0]))
		s.finish(id)
		return
	}

	running := StatusRunning
	s.reg.Update(id, Update{Status: &running})

	cmd := exec.CommandContext(ctx, s.cmd.Argv[0], s.cmd.Argv[1:]...)
	cmd.Dir = job.Workspace
	cmd.Env = append(os.Environ(), s.cmd.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.fail(id, fmt.Sprintf("open stdout pipe: %v", err))
		s.finish(id)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.fail(id, fmt.Sprintf("open stderr pipe: %v", err))
		s.finish(id)
		return
	}

	if err := cmd.Start(); err != nil {
		s.fail(id, fmt.Sprintf("start anonymizer: %v", err))
		s.finish(id)
		return
	}

	s.logger.Info("anonymizer started",
		zap.String("job_id", id),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("workspace", job.Workspace))

	stopHeartbeat := s.startHeartbeat(id)

	// Drain both streams concurrently. Interleaving between the two streams
	// is unordered; each stream's own lines stay in order.
	var g errgroup.Group
	g.Go(func() error {
		s.drain(id, "[stdout] ", stdout, true)
		return nil
	})
	g.Go(func() error {
		s.drain(id, "[stderr] ", stderr, false)
		return nil
	})
	_ = g.Wait()

	waitErr := cmd.Wait()
	stopHeartbeat()

	s.classify(id, job, waitErr)
	s.finish(id)
}

// startHeartbeat refreshes the job heartbeat on a fixed interval so
// liveness stays observable even for silent commands. The returned func
// stops the ticker and waits for the goroutine to exit.
func (s *Supervisor) startHeartbeat(id string) func() {
	t := time.NewTicker(s.hbEvery)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.reg.Heartbeat(id)
			}
		}
	}()

	return func() {
		t.Stop()
		close(stop)
		<-done
	}
}

// drain forwards one stream line by line into the job's log buffer.
// Draining never influences job status; the optional progress marker scan
// on stdout is advisory only.
func (s *Supervisor) drain(id, prefix string, r io.Reader, isStdout bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		s.reg.AppendLog(id, prefix+line)
		if isStdout && s.cmd.ProgressMarker != "" && strings.Contains(line, s.cmd.ProgressMarker) {
			s.reg.BumpProgress(id)
		}
	}
	if err := scanner.Err(); err != nil {
		s.reg.AppendLog(id, prefix+fmt.Sprintf("(stream read error: %v)", err))
	}
}

// classify derives the terminal state from the exit status and, on exit
// zero, from an inspection of the workspace's output area.
func (s *Supervisor) classify(id string, job *Job, waitErr error) {
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			s.fail(id, fmt.Sprintf("anonymizer exited with code %d", exitErr.ExitCode()))
		} else {
			s.fail(id, fmt.Sprintf("anonymizer wait: %v", waitErr))
		}
		return
	}

	paths, err := workspace.CollectOutputs(job.Workspace, s.cmd.Extensions)
	if err != nil {
		s.fail(id, fmt.Sprintf("inspect output area: %v", err))
		return
	}
	if len(paths) != job.Progress.Expected {
		s.fail(id, fmt.Sprintf("expected %d output files, found %d", job.Progress.Expected, len(paths)))
		return
	}

	files := make([]OutputFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			s.fail(id, fmt.Sprintf("read output file %s: %v", filepath.Base(path), err))
			return
		}
		files = append(files, OutputFile{
			Filename:    filepath.Base(path),
			ContentType: classifyContentType(path, data),
			Data:        data,
		})
	}

	succeeded := StatusSucceeded
	done := job.Progress.Expected
	s.reg.Update(id, Update{Status: &succeeded, Output: files, ProgressDone: &done})
}

// fail records a terminal failure with a human-readable message.
func (s *Supervisor) fail(id, msg string) {
	failed := StatusFailed
	s.reg.Update(id, Update{Status: &failed, Error: &msg})
}

// finish appends the final diagnostic log line and fires the terminal hook.
// Workspace reclamation is deferred to the reaper so results stay
// inspectable for the retention window.
func (s *Supervisor) finish(id string) {
	job, ok := s.reg.Get(id)
	if !ok {
		return
	}
	s.reg.AppendLog(id, fmt.Sprintf("job finished status=%s", job.Status))

	s.logger.Info("job finished",
		zap.String("job_id", id),
		zap.String("status", string(job.Status)),
		zap.Int("outputs", len(job.Output)))

	if s.OnTerminal != nil {
		// Re-snapshot so the hook sees the final log line too.
		if final, ok := s.reg.Get(id); ok {
			s.OnTerminal(final)
		}
	}
}

// classifyContentType sniffs content first and falls back to the file
// extension, defaulting to application/octet-stream.
func classifyContentType(path string, data []byte) string {
	if mt := mimetype.Detect(data); mt != nil {
		ct := mt.String()
		if ct != "" && ct != "application/octet-stream" {
			return ct
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

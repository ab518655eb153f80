package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/3leaps/cloakd/pkg/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(t.TempDir())
	require.NoError(t, err)
	return ws
}

func shCommand(script string) Command {
	return Command{
		Argv:       []string{"/bin/sh", "-c", script},
		Extensions: []string{".png", ".jpg", ".jpeg"},
	}
}

func runJob(t *testing.T, reg *Registry, cmd Command, ws *workspace.Workspace, expected int) *Job {
	t.Helper()
	sup := NewSupervisor(reg, cmd, nil)
	id := reg.Create(ws.Root(), expected)
	sup.Run(context.Background(), id)

	job, ok := reg.Get(id)
	require.True(t, ok)
	return job
}

func TestSupervisor_SingleOutputSucceeds(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	job := runJob(t, reg, shCommand(`printf 'cloaked' > output/one.png`), ws, 1)

	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Empty(t, job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 1, job.Progress.Done)
	require.Len(t, job.Output, 1)
	assert.Equal(t, "one.png", job.Output[0].Filename)
	assert.Equal(t, []byte("cloaked"), job.Output[0].Data)
	assert.NotEmpty(t, job.Output[0].ContentType)
}

func TestSupervisor_OutputCountMismatchFails(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	script := `printf a > output/1.png; printf b > output/2.png; printf c > output/3.png`
	job := runJob(t, reg, shCommand(script), ws, 4)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "4")
	assert.Contains(t, job.Error, "3")
	assert.Empty(t, job.Output)
}

func TestSupervisor_NonzeroExitFails(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	job := runJob(t, reg, shCommand(`printf x > output/a.png; exit 137`), ws, 1)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "137")
	// Partial output is never returned alongside a failure.
	assert.Empty(t, job.Output)
}

func TestSupervisor_MissingCommandFailsFromQueued(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	cmd := Command{Argv: []string{"/definitely/not/a/real/anonymizer"}}
	job := runJob(t, reg, cmd, ws, 1)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "not found")
	assert.NotNil(t, job.CompletedAt)
	// The process never spawned, so no stream output was captured; the only
	// log line is the terminal diagnostic.
	for _, entry := range job.Logs {
		assert.False(t, strings.HasPrefix(entry.Line, "[stdout]"))
		assert.False(t, strings.HasPrefix(entry.Line, "[stderr]"))
	}
}

func TestSupervisor_DrainsBothStreams(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	script := `echo out-line; echo err-line 1>&2; printf x > output/a.png`
	job := runJob(t, reg, shCommand(script), ws, 1)

	require.Equal(t, StatusSucceeded, job.Status)

	var sawStdout, sawStderr bool
	for _, entry := range job.Logs {
		if entry.Line == "[stdout] out-line" {
			sawStdout = true
		}
		if entry.Line == "[stderr] err-line" {
			sawStderr = true
		}
	}
	assert.True(t, sawStdout, "stdout line not captured: %v", job.Logs)
	assert.True(t, sawStderr, "stderr line not captured: %v", job.Logs)
}

func TestSupervisor_ProgressMarkerIsAdvisory(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	// The marker fires twice but the run still fails on exit code; the
	// counter must not influence the outcome.
	cmd := shCommand(`echo "Generated cloaked image: a.png"; echo "Generated cloaked image: b.png"; exit 1`)
	cmd.ProgressMarker = "Generated cloaked image:"
	job := runJob(t, reg, cmd, ws, 4)

	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 2, job.Progress.Done)
	assert.LessOrEqual(t, job.Progress.Done, job.Progress.Expected)
}

func TestSupervisor_HeartbeatRefreshedWhileSilent(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	sup := NewSupervisor(reg, shCommand(`sleep 0.3; printf x > output/a.png`), nil)
	sup.SetHeartbeatInterval(20 * time.Millisecond)

	id := reg.Create(ws.Root(), 1)
	start, _ := reg.Get(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(context.Background(), id)
	}()

	// While the silent command sleeps, liveness must still advance.
	time.Sleep(150 * time.Millisecond)
	mid, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, mid.Status)
	assert.True(t, mid.LastHeartbeat.After(start.LastHeartbeat))

	<-done
	final, _ := reg.Get(id)
	assert.Equal(t, StatusSucceeded, final.Status)
}

func TestSupervisor_FinalLogLine(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	job := runJob(t, reg, shCommand(`printf x > output/a.png`), ws, 1)

	require.NotEmpty(t, job.Logs)
	assert.Equal(t, "job finished status=succeeded", job.Logs[len(job.Logs)-1].Line)
}

func TestSupervisor_OnTerminalHook(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	sup := NewSupervisor(reg, shCommand(`printf x > output/a.png`), nil)
	var got *Job
	sup.OnTerminal = func(job *Job) { got = job }

	id := reg.Create(ws.Root(), 1)
	sup.Run(context.Background(), id)

	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
}

func TestSupervisor_NestedOutputsAndAllowlist(t *testing.T) {
	reg := newTestRegistry(t, Options{})
	ws := newTestWorkspace(t)

	// Non-allowlisted files are ignored; nested allowlisted files count.
	script := `mkdir -p output/sub; printf a > output/sub/a.PNG; printf b > output/b.jpeg; printf n > output/notes.txt`
	job := runJob(t, reg, shCommand(script), ws, 2)

	require.Equal(t, StatusSucceeded, job.Status)
	require.Len(t, job.Output, 2)
}

// Package jobs implements the asynchronous job core: a thread-safe in-memory
// registry of anonymization jobs, a per-job process supervisor, a bounded log
// buffer, and a background reaper that reclaims terminal jobs and their
// workspaces.
//
// Job outcome is derived purely from process exit status and filesystem
// evidence. The textual output of the anonymizer command is captured for
// diagnostics only and is never used as a correctness signal.
package jobs

import "time"

// Status is the lifecycle state of a job.
//
// Transitions are monotonic: queued -> running -> {succeeded|failed}.
// The only permitted shortcut is queued -> failed when the configured
// command is missing before spawn.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// statusRank orders statuses along the lifecycle so that regressions can be
// rejected at the registry boundary.
func statusRank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// OutputFile is one result file produced by a succeeded job.
//
// Data is raw file content; JSON marshaling renders it base64, matching the
// wire shape consumed by polling clients.
type OutputFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Progress carries the advisory done/expected counters for a job.
//
// Done only ever increases and is capped at Expected. It may be bumped from
// a cosmetic stdout marker while the job runs and is therefore never
// consulted for status decisions.
type Progress struct {
	Expected int `json:"expected"`
	Done     int `json:"done"`
}

// Job is an immutable snapshot of one job record.
//
// Snapshots are deep copies: mutating a returned Job (or its Output or Logs
// slices) never affects registry state.
type Job struct {
	ID            string
	Status        Status
	Workspace     string
	Progress      Progress
	Error         string
	Output        []OutputFile
	Logs          []LogEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat time.Time
	CompletedAt   *time.Time
}

// record is the live, registry-owned form of a job. All access is guarded by
// the registry mutex; callers only ever see snapshots.
type record struct {
	id            string
	status        Status
	workspace     string
	progress      Progress
	errMsg        string
	output        []OutputFile
	logs          *LogBuffer
	createdAt     time.Time
	updatedAt     time.Time
	lastHeartbeat time.Time
	completedAt   *time.Time
}

// snapshot produces a deep copy of the record for external observation.
func (r *record) snapshot() *Job {
	j := &Job{
		ID:            r.id,
		Status:        r.status,
		Workspace:     r.workspace,
		Progress:      r.progress,
		Error:         r.errMsg,
		Logs:          r.logs.Snapshot(),
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
		LastHeartbeat: r.lastHeartbeat,
	}
	if len(r.output) > 0 {
		j.Output = make([]OutputFile, len(r.output))
		copy(j.Output, r.output)
	}
	if r.completedAt != nil {
		t := *r.completedAt
		j.CompletedAt = &t
	}
	return j
}

package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for registry housekeeping.
const (
	DefaultRetention     = 30 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// Options configures a Registry.
type Options struct {
	// LogBufferChars is the per-job log character budget.
	// Zero uses DefaultLogBufferChars.
	LogBufferChars int

	// Retention is how long terminal jobs are kept before the reaper
	// removes them. Zero uses DefaultRetention.
	Retention time.Duration

	// SweepInterval is the reaper tick interval. Zero uses
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// Logger receives housekeeping diagnostics. Nil uses a no-op logger.
	Logger *zap.Logger
}

// Registry is the thread-safe source of truth for job state.
//
// A single mutex guards the keyed store so that no two operations interleave
// destructively on the same record. All reads return snapshots, never live
// references.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*record

	logChars  int
	retention time.Duration
	sweep     time.Duration
	logger    *zap.Logger

	reaperOnce sync.Once
	closeOnce  sync.Once
	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewRegistry creates an empty registry. The reaper is started lazily on
// first Create; call Close to stop it during shutdown.
func NewRegistry(opts Options) *Registry {
	if opts.LogBufferChars <= 0 {
		opts.LogBufferChars = DefaultLogBufferChars
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		jobs:       make(map[string]*record),
		logChars:   opts.LogBufferChars,
		retention:  opts.Retention,
		sweep:      opts.SweepInterval,
		logger:     opts.Logger,
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Create allocates a new queued job that exclusively owns the given
// workspace directory and returns its id. The background reaper is started
// on the first call.
func (r *Registry) Create(workspace string, expected int) string {
	r.reaperOnce.Do(r.startReaper)

	id := uuid.New().String()
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = &record{
		id:            id,
		status:        StatusQueued,
		workspace:     workspace,
		progress:      Progress{Expected: expected},
		logs:          NewLogBuffer(r.logChars),
		createdAt:     now,
		updatedAt:     now,
		lastHeartbeat: now,
	}
	return id
}

// Get returns a deep-copy snapshot of the job, or false if the id is
// unknown (never created, or already reaped).
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// List returns snapshots of all jobs in unspecified order.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.snapshot())
	}
	return out
}

// AppendLog timestamps and appends a diagnostic line to the job's log
// buffer, refreshing the activity timestamps. Unknown ids are a no-op: the
// job may already have been reaped while its streams were still draining.
func (r *Registry) AppendLog(id, line string) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return
	}
	rec.logs.Append(now, line)
	rec.updatedAt = now
	rec.lastHeartbeat = now
}

// Heartbeat refreshes the job's liveness timestamp independent of log
// activity. Unknown ids are a no-op.
func (r *Registry) Heartbeat(id string) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return
	}
	rec.updatedAt = now
	rec.lastHeartbeat = now
}

// Update describes a partial mutation of a job record. Nil fields are left
// untouched.
type Update struct {
	Status       *Status
	Error        *string
	Output       []OutputFile
	ProgressDone *int
}

// Update applies the provided fields to the job.
//
// Status regressions are rejected: a terminal job never changes status
// again, and running never returns to queued. Entering a terminal status
// sets completed_at exactly once. ProgressDone is clamped so done never
// decreases and never exceeds expected.
func (r *Registry) Update(id string, u Update) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return
	}

	if u.Status != nil && statusRank(*u.Status) > statusRank(rec.status) {
		rec.status = *u.Status
		if rec.status.Terminal() && rec.completedAt == nil {
			t := now
			rec.completedAt = &t
		}
	}
	if u.Error != nil {
		rec.errMsg = *u.Error
	}
	if u.Output != nil {
		rec.output = make([]OutputFile, len(u.Output))
		copy(rec.output, u.Output)
	}
	if u.ProgressDone != nil {
		done := *u.ProgressDone
		if done > rec.progress.Expected {
			done = rec.progress.Expected
		}
		if done > rec.progress.Done {
			rec.progress.Done = done
		}
	}
	rec.updatedAt = now
	rec.lastHeartbeat = now
}

// BumpProgress increments the advisory done counter by one, capped at
// expected. It exists for the cosmetic stdout progress marker and has no
// bearing on job outcome.
func (r *Registry) BumpProgress(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return
	}
	if rec.progress.Done < rec.progress.Expected {
		rec.progress.Done++
		rec.updatedAt = time.Now().UTC()
	}
}

// Remove atomically deletes the record and returns its workspace path for
// cleanup. Removing an unknown id is safe and returns false.
func (r *Registry) Remove(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	delete(r.jobs, id)
	return rec.workspace, true
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

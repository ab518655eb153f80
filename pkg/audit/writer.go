// Package audit provides a JSONL audit trail of terminal jobs.
//
// Each terminal job emits one self-contained record envelope per line.
// The trail is diagnostic only; nothing in the job core reads it back.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/3leaps/cloakd/pkg/jobs"
)

// TypeJob identifies terminal job records. Envelope types follow the
// pattern cloakd.<type>.v<version>.
const TypeJob = "cloakd.job.v1"

// Record is the envelope for all JSONL audit output.
type Record struct {
	// Type identifies the record type (e.g., "cloakd.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for a terminal job.
type JobRecord struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Expected    int    `json:"expected"`
	Done        int    `json:"done"`
	OutputCount int    `json:"output_count"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// FromJob builds the payload for a terminal job snapshot.
func FromJob(j *jobs.Job) *JobRecord {
	rec := &JobRecord{
		JobID:       j.ID,
		Status:      string(j.Status),
		Error:       j.Error,
		Expected:    j.Progress.Expected,
		Done:        j.Progress.Done,
		OutputCount: len(j.Output),
		CreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		rec.CompletedAt = j.CompletedAt.UTC().Format(time.RFC3339)
		rec.DurationMS = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return rec
}

// Writer writes audit records as newline-delimited JSON to an io.Writer.
//
// Writer is safe for concurrent use. Writes are serialized with a mutex so
// each record lands as one atomic line.
type Writer struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

// NewWriter creates an audit writer over w (a file, stdout, etc.).
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJob emits a terminal job record.
func (aw *Writer) WriteJob(ctx context.Context, rec *JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	envelope := Record{
		Type: TypeJob,
		TS:   time.Now().UTC(),
		Data: data,
	}
	line, err := json.Marshal(&envelope)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return errors.New("audit writer is closed")
	}
	_, err = aw.w.Write(line)
	return err
}

// Close marks the writer closed and, if the underlying writer is an
// io.Closer, closes it.
func (aw *Writer) Close() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return nil
	}
	aw.closed = true
	if c, ok := aw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

package jobs

import "time"

// JobView is the external-facing projection of a job.
//
// The field set is stable: job_id, status, progress, and the created/updated
// timestamps are always present; completed_at appears only for terminal
// jobs, error only when set, and files only for succeeded jobs with output.
// Internal-only state (workspace path, process handle) is never exposed.
type JobView struct {
	Success     bool         `json:"success"`
	JobID       string       `json:"job_id"`
	Status      Status       `json:"status"`
	Progress    Progress     `json:"progress"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Files       []OutputFile `json:"files,omitempty"`
}

// Project turns a job snapshot into its external view. Pure: it reads the
// snapshot and allocates a new view.
func Project(j *Job) *JobView {
	v := &JobView{
		Success:   j.Status == StatusSucceeded,
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		v.CompletedAt = j.CompletedAt.UTC().Format(time.RFC3339)
	}
	if j.Error != "" {
		v.Error = j.Error
	}
	if j.Status == StatusSucceeded && len(j.Output) > 0 {
		v.Files = make([]OutputFile, len(j.Output))
		copy(v.Files, j.Output)
	}
	return v
}

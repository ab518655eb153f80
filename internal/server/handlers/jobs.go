package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloakd/internal/errors"
	"github.com/3leaps/cloakd/internal/server/middleware"
	"github.com/3leaps/cloakd/pkg/jobs"
	"github.com/3leaps/cloakd/pkg/profile"
	"github.com/3leaps/cloakd/pkg/workspace"
)

// maxUploadBytes caps an entire multipart submission.
const maxUploadBytes = 64 << 20

// uploadField is the multipart field carrying the images.
const uploadField = "files"

// JobsAPI wires the HTTP surface to the job core.
type JobsAPI struct {
	Registry      *jobs.Registry
	Supervisor    *jobs.Supervisor
	Profile       *profile.Profile
	WorkspaceRoot string
	Logger        *zap.Logger
}

// submitResponse is returned by the async submission path.
type submitResponse struct {
	Success bool        `json:"success"`
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
}

// logsResponse is the diagnostic log snapshot payload.
type logsResponse struct {
	JobID string          `json:"job_id"`
	Logs  []jobs.LogEntry `json:"logs"`
}

// SubmitSync handles POST /api/anon: stage uploads, run the job to a
// terminal state on the request, and return the projected result. This is
// the compatibility path for clients that cannot poll.
func (a *JobsAPI) SubmitSync(w http.ResponseWriter, r *http.Request) {
	id, ok := a.stageAndCreate(w, r)
	if !ok {
		return
	}

	// The job is detached from the request context: once accepted it runs
	// to process completion even if the client goes away.
	a.Supervisor.Run(context.Background(), id)

	job, found := a.Registry.Get(id)
	if !found {
		a.respondError(w, r, http.StatusInternalServerError, apperrors.CodeInternal, "job vanished before completion")
		return
	}

	view := jobs.Project(job)
	status := http.StatusOK
	if job.Status != jobs.StatusSucceeded {
		status = http.StatusInternalServerError
	}
	a.respondJSON(w, status, view)
}

// SubmitAsync handles POST /api/anon/jobs: stage uploads, dispatch the
// supervisor, and return the job handle immediately.
func (a *JobsAPI) SubmitAsync(w http.ResponseWriter, r *http.Request) {
	id, ok := a.stageAndCreate(w, r)
	if !ok {
		return
	}

	go a.Supervisor.Run(context.Background(), id)

	a.respondJSON(w, http.StatusAccepted, submitResponse{
		Success: false,
		JobID:   id,
		Status:  jobs.StatusQueued,
	})
}

// Status handles GET /api/anon/jobs/{id}.
func (a *JobsAPI) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := a.Registry.Get(id)
	if !ok {
		a.respondError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "unknown job id: "+id)
		return
	}
	a.respondJSON(w, http.StatusOK, jobs.Project(job))
}

// List handles GET /api/anon/jobs.
func (a *JobsAPI) List(w http.ResponseWriter, r *http.Request) {
	all := a.Registry.List()
	views := make([]*jobs.JobView, 0, len(all))
	for _, job := range all {
		v := jobs.Project(job)
		// Listings stay lightweight; fetch a single job for payloads.
		v.Files = nil
		views = append(views, v)
	}
	a.respondJSON(w, http.StatusOK, views)
}

// Logs handles GET /api/anon/jobs/{id}/logs. Logs are diagnostic only.
func (a *JobsAPI) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := a.Registry.Get(id)
	if !ok {
		a.respondError(w, r, http.StatusNotFound, apperrors.CodeNotFound, "unknown job id: "+id)
		return
	}
	a.respondJSON(w, http.StatusOK, logsResponse{JobID: id, Logs: job.Logs})
}

// stageAndCreate validates the multipart upload, stages it into a fresh
// workspace, and allocates the queued job record. On failure it writes the
// error response and returns ok=false.
func (a *JobsAPI) stageAndCreate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.respondError(w, r, http.StatusBadRequest, apperrors.CodeInvalidArgument,
			"malformed multipart upload: "+err.Error())
		return "", false
	}

	uploads := r.MultipartForm.File[uploadField]
	required := a.Profile.Output.ExpectedCount
	if len(uploads) != required {
		a.respondError(w, r, http.StatusBadRequest, apperrors.CodeInvalidArgument,
			fmt.Sprintf("upload exactly %d images in the %q field, got %d", required, uploadField, len(uploads)))
		return "", false
	}

	ws, err := workspace.Create(a.WorkspaceRoot)
	if err != nil {
		a.respondError(w, r, http.StatusInternalServerError, apperrors.CodeInternal,
			"allocate workspace: "+err.Error())
		return "", false
	}

	for _, header := range uploads {
		f, err := header.Open()
		if err != nil {
			_ = ws.Remove()
			a.respondError(w, r, http.StatusBadRequest, apperrors.CodeInvalidArgument,
				"read upload "+header.Filename+": "+err.Error())
			return "", false
		}
		_, stageErr := ws.StageFile(header.Filename, f)
		_ = f.Close()
		if stageErr != nil {
			_ = ws.Remove()
			a.respondError(w, r, http.StatusInternalServerError, apperrors.CodeInternal,
				"stage upload: "+stageErr.Error())
			return "", false
		}
	}

	id := a.Registry.Create(ws.Root(), required)
	a.Logger.Info("job submitted",
		zap.String("job_id", id),
		zap.Int("inputs", len(uploads)),
		zap.String("request_id", middleware.GetRequestID(r.Context())))
	return id, true
}

func (a *JobsAPI) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *JobsAPI) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	apperrors.RespondWithError(w, status, code, message, middleware.GetRequestID(r.Context()))
}

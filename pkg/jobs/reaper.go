package jobs

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// startReaper launches the single process-wide background sweep. It runs
// until Close and is started lazily by the first Create.
func (r *Registry) startReaper() {
	go func() {
		defer close(r.reaperDone)
		t := time.NewTicker(r.sweep)
		defer t.Stop()
		for {
			select {
			case <-r.reaperStop:
				return
			case <-t.C:
				r.sweepOnce(time.Now().UTC())
			}
		}
	}()
}

// sweepOnce removes terminal jobs whose completed_at is older than the
// retention window and deletes their workspace directories. Each job is
// handled independently; a failed workspace deletion is logged and does not
// block the rest of the sweep. Non-terminal jobs are never touched.
func (r *Registry) sweepOnce(now time.Time) {
	var expired []string
	for _, job := range r.List() {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) > r.retention {
			expired = append(expired, job.ID)
		}
	}

	for _, id := range expired {
		ws, ok := r.Remove(id)
		if !ok {
			continue
		}
		if ws != "" {
			if err := os.RemoveAll(ws); err != nil {
				r.logger.Warn("reap workspace",
					zap.String("job_id", id),
					zap.String("workspace", ws),
					zap.Error(err))
				continue
			}
		}
		r.logger.Info("reaped job", zap.String("job_id", id))
	}
}

// Close stops the reaper and waits for it to exit. Safe to call even if no
// job was ever created.
func (r *Registry) Close() {
	// Ensure the reaper exists so Close has something to stop.
	r.reaperOnce.Do(r.startReaper)
	r.closeOnce.Do(func() { close(r.reaperStop) })
	<-r.reaperDone
}

package jobs

import (
	"context"
	"errors"
	"fmt"

	"clipforge/internal/faults"
	"clipforge/internal/fileutil"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/store"
)

// Get returns a job or a not-found validation error.
func (m *Manager) Get(ctx context.Context, id string) (*store.Job, error) {
	return m.lookup(ctx, id)
}

// List returns jobs newest first.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, faults.Wrap(faults.TypeDatastore, err, "list jobs", faults.WithOperation("jobs", "list"))
	}
	return jobs, nil
}

// Clips returns the unarchived clips of a job in production order.
func (m *Manager) Clips(ctx context.Context, jobID string) ([]*store.Clip, error) {
	if _, err := m.lookup(ctx, jobID); err != nil {
		return nil, err
	}
	clips, err := m.store.ListClips(ctx, store.ClipFilter{JobID: jobID})
	if err != nil {
		return nil, faults.Wrap(faults.TypeDatastore, err, "list clips", faults.WithOperation("jobs", "clips"), faults.WithJob(jobID))
	}
	return clips, nil
}

// Cancel moves an uploaded or processing job to cancelled. A running split
// finishes its current segment and then stops; nothing is refunded.
func (m *Manager) Cancel(ctx context.Context, id string) (*store.Job, error) {
	previous, err := m.store.CancelJob(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, faults.New(faults.TypeValidation, fmt.Sprintf("job %s not found", id),
			faults.WithOperation("jobs", "cancel"), faults.WithJob(id),
			faults.WithHTTPStatus(404), faults.WithCode("job_not_found"),
			faults.WithUserMessage("That job does not exist."))
	case errors.Is(err, store.ErrConflict):
		return nil, conflict(id, fmt.Sprintf("job is %s and cannot be cancelled", previous))
	case err != nil:
		return nil, faults.Wrap(faults.TypeDatastore, err, "cancel job", faults.WithOperation("jobs", "cancel"), faults.WithJob(id))
	}

	job, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(services.WithUserID(ctx, job.UserID), job.ID)
	logging.WithContext(ctx, m.logger).Info("job cancelled",
		logging.String("previous_status", string(previous)),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	m.recordActivity(ctx, job, "cancel", "from "+string(previous))
	return job, nil
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	Job          *store.Job
	ClipsRemoved int
	FilesRemoved int
	FileFailures int
}

// Delete removes a job, its clip rows, and their artifacts. Processing jobs
// are refused. File removal is best effort: missing files are ignored and
// other failures are logged for the orphan sweep to retry.
func (m *Manager) Delete(ctx context.Context, id string) (DeleteResult, error) {
	if !m.guard.acquire(id) {
		return DeleteResult{}, conflict(id, "another request for this job is in progress")
	}
	defer m.guard.release(id)

	job, clips, err := m.store.DeleteJob(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return DeleteResult{}, faults.New(faults.TypeValidation, fmt.Sprintf("job %s not found", id),
			faults.WithOperation("jobs", "delete"), faults.WithJob(id),
			faults.WithHTTPStatus(404), faults.WithCode("job_not_found"),
			faults.WithUserMessage("That job does not exist."))
	case errors.Is(err, store.ErrConflict):
		return DeleteResult{}, conflict(id, "job is processing; cancel it before deleting")
	case err != nil:
		return DeleteResult{}, faults.Wrap(faults.TypeDatastore, err, "delete job", faults.WithOperation("jobs", "delete"), faults.WithJob(id))
	}

	ctx = services.WithJobID(services.WithUserID(ctx, job.UserID), job.ID)
	logger := logging.WithContext(ctx, m.logger)
	result := DeleteResult{Job: job, ClipsRemoved: len(clips)}

	paths := []string{job.InputPath}
	for _, clip := range clips {
		paths = append(paths, clip.Path, clip.ThumbnailPath)
	}
	for _, path := range paths {
		removed, err := fileutil.RemoveIfExists(path)
		if err != nil {
			result.FileFailures++
			logging.WarnWithContext(logger, "artifact removal failed", "artifact_remove_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"),
				logging.String(logging.FieldImpact, "file left for the orphan sweep"),
			)
			continue
		}
		if removed {
			result.FilesRemoved++
		}
	}

	logger.Info("job deleted",
		logging.Int("clips", result.ClipsRemoved),
		logging.Int("files_removed", result.FilesRemoved),
		logging.String(logging.FieldEventType, "job_deleted"),
	)
	m.recordActivity(ctx, job, "delete", fmt.Sprintf("%d clips", result.ClipsRemoved))
	return result, nil
}

// RecoverInterrupted fails jobs left processing by a previous run and
// refunds them when configured. Call it before Start.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	failed, err := m.store.FailInterrupted(ctx, store.InterruptedReason)
	if err != nil {
		return len(failed), faults.Wrap(faults.TypeDatastore, err, "recover interrupted jobs", faults.WithOperation("jobs", "recover"))
	}
	for _, job := range failed {
		jobCtx := services.WithJobID(services.WithUserID(ctx, job.UserID), job.ID)
		logging.WarnWithContext(logging.WithContext(jobCtx, m.logger), "interrupted job marked failed", "job_recovered",
			logging.Int("progress", job.Progress),
			logging.String(logging.FieldErrorHint, "resubmit the job"),
			logging.String(logging.FieldImpact, "partial clips remain until they expire"),
		)
		m.recordActivity(jobCtx, job, "fail", store.InterruptedReason)
		if m.cfg.Credits.RefundOnFailure {
			m.refund(jobCtx, job, store.InterruptedReason)
		}
	}
	return len(failed), nil
}

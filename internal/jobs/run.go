package jobs

import (
	"context"
	"errors"
	"fmt"

	"clipforge/internal/faults"
	"clipforge/internal/logging"
	"clipforge/internal/notifications"
	"clipforge/internal/services"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
)

// run produces the clips for one processing job. It holds the job guard until
// the job reaches a terminal state or the split observes a cancel.
func (m *Manager) run(ctx context.Context, jobID string) {
	m.guard.hold(jobID)
	defer m.guard.release(jobID)

	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, m.logger)

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		if err == nil {
			err = fmt.Errorf("job %s disappeared before processing", jobID)
		}
		m.setLastError(err)
		m.errors.Handle(ctx, faults.Wrap(faults.TypeDatastore, err, "load queued job", faults.WithJob(jobID)), faults.RequestInfo{})
		return
	}
	if job.Status != store.JobProcessing {
		logger.Info("queued job no longer processing; skipping",
			logging.String("status", string(job.Status)),
			logging.String(logging.FieldEventType, "job_skipped"),
		)
		return
	}
	ctx = services.WithUserID(ctx, job.UserID)
	logger = logging.WithContext(ctx, m.logger)

	result, err := m.splitter.Split(ctx, splitter.Request{
		JobID:          job.ID,
		UserID:         job.UserID,
		Input:          job.InputPath,
		SourceDuration: job.DurationSeconds,
		ClipSeconds:    float64(job.ClipSeconds),
		Subtitles:      job.Subtitles,
		Continue:       m.stillProcessing(job.ID),
		OnSegment: func(done, total int) {
			m.updateProgress(ctx, job.ID, segmentProgress(done, total))
		},
	})
	switch {
	case errors.Is(err, splitter.ErrStopped):
		logger.Info("job stopped after cancellation",
			logging.Int("clips", len(result.Clips)),
			logging.String(logging.FieldEventType, "job_cancel_observed"),
		)
		return
	case err != nil && ctx.Err() != nil:
		m.interrupt(context.WithoutCancel(ctx), job.ID)
		return
	case err != nil && m.leftProcessing(ctx, job.ID):
		logger.Info("job left processing during split; dropping segment error",
			logging.Int("clips", len(result.Clips)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_cancel_observed"),
		)
		return
	case err != nil:
		m.failJob(ctx, job.ID, err)
		return
	}

	m.updateProgress(ctx, job.ID, ProgressFinalized)
	if err := m.store.CompleteJob(ctx, job.ID, result.Outputs()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			logger.Info("job left processing before completion; leaving it as is",
				logging.Int("clips", len(result.Clips)),
				logging.String(logging.FieldEventType, "job_complete_skipped"),
			)
			return
		}
		m.failJob(ctx, job.ID, faults.Wrap(faults.TypeDatastore, err, "finalize job",
			faults.WithOperation("jobs", "complete"), faults.WithJob(job.ID)))
		return
	}

	logger.Info("job completed",
		logging.Int("clips", len(result.Clips)),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	m.recordActivity(ctx, job, "complete", fmt.Sprintf("%d clips", len(result.Clips)))
	m.publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"job_id": job.ID,
		"clips":  len(result.Clips),
	})
}

// segmentProgress maps completed segments onto the 10-90 band.
func segmentProgress(done, total int) int {
	if total <= 0 {
		return ProgressIntake
	}
	return ProgressIntake + ProgressSegments*done/total
}

func (m *Manager) stillProcessing(jobID string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job != nil && job.Status == store.JobProcessing, nil
	}
}

// leftProcessing reports whether the job was deleted or moved out of
// processing by someone else, such as a cancel and delete from another
// process.
func (m *Manager) leftProcessing(ctx context.Context, jobID string) bool {
	job, err := m.store.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return false
	}
	return job == nil || job.Status != store.JobProcessing
}

func (m *Manager) updateProgress(ctx context.Context, jobID string, progress int) {
	err := m.store.UpdateJobProgress(ctx, jobID, progress)
	if err == nil || errors.Is(err, store.ErrConflict) {
		return
	}
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "job progress update failed", "progress_update_failed",
		logging.Int("progress", progress),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access"),
		logging.String(logging.FieldImpact, "job progress may lag"),
	)
}

// failJob moves a processing job to failed, forwards the error to the
// handler, and refunds the charge when configured.
func (m *Manager) failJob(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	classified := m.errors.Handle(ctx, cause, faults.RequestInfo{})
	m.setLastError(classified)
	message := classified.Error()

	if err := m.store.FailJob(ctx, jobID, message); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			logging.WithContext(ctx, m.logger).Info("job left processing before failure was recorded",
				logging.String(logging.FieldEventType, "job_fail_skipped"),
			)
			return
		}
		m.errors.Handle(ctx, faults.Wrap(faults.TypeDatastore, err, "record job failure", faults.WithJob(jobID)), faults.RequestInfo{})
		return
	}

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	m.recordActivity(ctx, job, "fail", message)
	if m.cfg.Credits.RefundOnFailure {
		m.refund(ctx, job, classified.Message)
	}
	m.publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"job_id": job.ID,
		"error":  classified.UserMessage,
	})
}

// interrupt fails a processing job whose work was abandoned by shutdown.
func (m *Manager) interrupt(ctx context.Context, jobID string) {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, m.logger)
	if err := m.store.FailJob(ctx, jobID, store.InterruptedReason); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			logging.ErrorWithContext(logger, "failed to mark interrupted job", "job_interrupt_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the job is failed at next daemon start"),
			)
		}
		return
	}
	logging.WarnWithContext(logger, "job interrupted by shutdown", "job_interrupted",
		logging.String(logging.FieldErrorHint, "resubmit the upload after restart"),
		logging.String(logging.FieldImpact, "job marked failed"),
	)
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	m.recordActivity(ctx, job, "fail", store.InterruptedReason)
	if m.cfg.Credits.RefundOnFailure {
		m.refund(ctx, job, store.InterruptedReason)
	}
}

func (m *Manager) refund(ctx context.Context, job *store.Job, reason string) {
	refunded, err := m.ledger.Refund(ctx, job, reason)
	if err != nil {
		m.errors.Handle(ctx, err, faults.RequestInfo{UserID: job.UserID})
		return
	}
	if refunded {
		m.recordActivity(ctx, job, "refund", fmt.Sprintf("%d credits", job.CreditsCharged))
	}
}

func (m *Manager) recordActivity(ctx context.Context, job *store.Job, action, detail string) {
	if err := m.store.RecordActivity(ctx, store.ActivityEntry{
		UserID: job.UserID,
		JobID:  job.ID,
		Action: action,
		Detail: detail,
	}); err != nil {
		m.logger.Debug("activity record failed", logging.String("action", action), logging.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, notification skipped", logging.String("event", string(event)))
			return
		}
		m.logger.Debug("job notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"clipforge/internal/credits"
	"clipforge/internal/faults"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
)

// Progress milestones for the weighted job progress.
const (
	ProgressIntake    = 10
	ProgressSegments  = 80
	ProgressFinalized = 90
)

// UploadEvent announces a stored source video.
type UploadEvent struct {
	UserID      string
	Path        string
	Size        int64
	RawMetadata string
}

// ProcessRequest asks for a job to be cut into clips. CustomSeconds wins
// over RequestedSeconds; both zero means the configured default. ClipCount
// is the caller's estimate and never overrides the planned count.
type ProcessRequest struct {
	JobID            string
	UserID           string
	RequestedSeconds int
	CustomSeconds    int
	Subtitles        bool
	ClipCount        int
}

// CreateFromUpload records an uploaded job for a stored source file.
func (m *Manager) CreateFromUpload(ctx context.Context, event UploadEvent) (*store.Job, error) {
	if strings.TrimSpace(event.UserID) == "" || strings.TrimSpace(event.Path) == "" {
		return nil, faults.New(faults.TypeValidation, "upload requires a user and a stored path",
			faults.WithOperation("jobs", "upload"))
	}
	info, err := os.Stat(event.Path)
	if err != nil {
		return nil, faults.Wrap(faults.TypeFilesystem, err, "uploaded file is not readable",
			faults.WithOperation("jobs", "upload"))
	}
	if info.IsDir() {
		return nil, faults.New(faults.TypeValidation, fmt.Sprintf("upload path %s is a directory", event.Path),
			faults.WithOperation("jobs", "upload"))
	}
	size := event.Size
	if size <= 0 {
		size = info.Size()
	}

	job, err := m.store.CreateJob(ctx, &store.Job{
		UserID:      event.UserID,
		InputPath:   event.Path,
		InputSize:   size,
		RawMetadata: event.RawMetadata,
	})
	if err != nil {
		return nil, faults.Wrap(faults.TypeDatastore, err, "record upload", faults.WithOperation("jobs", "upload"))
	}

	ctx = services.WithJobID(services.WithUserID(ctx, job.UserID), job.ID)
	logging.WithContext(ctx, m.logger).Info("job created from upload",
		logging.String("input_path", job.InputPath),
		logging.Int64("input_size", job.InputSize),
		logging.String(logging.FieldEventType, "job_created"),
	)
	m.recordActivity(ctx, job, "upload", fmt.Sprintf("uploaded %d bytes", job.InputSize))
	return job, nil
}

// RequestProcess probes, prices, and charges a job, then queues it for clip
// production. It returns once the job is processing; completion is observed
// through the job row. Insufficient credits abort before any transcoding.
func (m *Manager) RequestProcess(ctx context.Context, req ProcessRequest) (*store.Job, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return nil, faults.New(faults.TypeValidation, "job id is required", faults.WithOperation("jobs", "process"))
	}
	if !m.guard.acquire(req.JobID) {
		return nil, conflict(req.JobID, "another request for this job is in progress")
	}
	defer m.guard.release(req.JobID)

	job, err := m.lookup(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != job.UserID {
		return nil, faults.New(faults.TypeAuthorization, "job belongs to another user",
			faults.WithOperation("jobs", "process"), faults.WithJob(job.ID))
	}
	switch job.Status {
	case store.JobUploaded:
	case store.JobProcessing:
		return nil, conflict(job.ID, "job is already processing")
	default:
		return nil, conflict(job.ID, fmt.Sprintf("job is %s and cannot be processed", job.Status))
	}

	clipSeconds, err := m.resolveClipSeconds(req)
	if err != nil {
		return nil, err
	}

	ctx = services.WithJobID(services.WithUserID(ctx, job.UserID), job.ID)
	logger := logging.WithContext(ctx, m.logger)

	info, err := m.reader.Read(ctx, job.InputPath)
	if err != nil {
		return nil, faults.Wrap(faults.TypeMediaProcessing, err, "read source metadata",
			faults.WithOperation("jobs", "probe"), faults.WithJob(job.ID))
	}
	count := splitter.CountClips(info.DurationSeconds, float64(clipSeconds))
	if count == 0 {
		return nil, faults.New(faults.TypeValidation,
			fmt.Sprintf("source of %.1fs is too short to produce a clip", info.DurationSeconds),
			faults.WithOperation("jobs", "plan"), faults.WithJob(job.ID),
			faults.WithUserMessage("This video is too short to split into clips."),
		)
	}
	if req.ClipCount > 0 && req.ClipCount != count {
		logger.Info("requested clip count differs from plan",
			logging.Int("requested", req.ClipCount),
			logging.Int("planned", count),
		)
	}
	cost := credits.Cost(info.DurationSeconds, count)

	if _, err := m.ledger.Debit(ctx, job.UserID, cost, credits.Meta{
		Description: fmt.Sprintf("Processing %d clips", count),
		JobID:       job.ID,
	}); err != nil {
		return nil, err
	}

	start := store.ProcessingStart{
		DurationSeconds: info.DurationSeconds,
		ClipSeconds:     clipSeconds,
		Subtitles:       req.Subtitles,
		CreditsCharged:  cost,
		Progress:        ProgressIntake,
	}
	if err := m.store.StartProcessing(ctx, job.ID, start); err != nil {
		charged := *job
		charged.CreditsCharged = cost
		m.refund(ctx, &charged, "job left the uploaded state before processing")
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return nil, conflict(job.ID, "job changed state while it was being charged")
		}
		return nil, faults.Wrap(faults.TypeDatastore, err, "start processing",
			faults.WithOperation("jobs", "process"), faults.WithJob(job.ID))
	}

	logger.Info("job processing requested",
		logging.Float64("source_seconds", info.DurationSeconds),
		logging.Int("clip_seconds", clipSeconds),
		logging.Int("clips", count),
		logging.Int64("credits", cost),
		logging.Bool("subtitles", req.Subtitles),
		logging.String(logging.FieldEventType, "job_processing"),
	)
	m.recordActivity(ctx, job, "process", fmt.Sprintf("%d clips of %ds for %d credits", count, clipSeconds, cost))

	if err := m.submit(job.ID); err != nil {
		reason := "work queue unavailable: " + err.Error()
		m.failJob(ctx, job.ID, faults.New(faults.TypeInternal, reason,
			faults.WithOperation("jobs", "enqueue"), faults.WithJob(job.ID), faults.WithRetryable(true)))
		return nil, faults.Wrap(faults.TypeInternal, err, "queue job",
			faults.WithOperation("jobs", "enqueue"), faults.WithJob(job.ID), faults.WithRetryable(true),
			faults.WithHTTPStatus(http.StatusServiceUnavailable))
	}

	updated, err := m.store.GetJob(ctx, job.ID)
	if err != nil || updated == nil {
		job.Status = store.JobProcessing
		job.Progress = ProgressIntake
		job.CreditsCharged = cost
		return job, nil
	}
	return updated, nil
}

func (m *Manager) resolveClipSeconds(req ProcessRequest) (int, error) {
	seconds := req.CustomSeconds
	if seconds <= 0 {
		seconds = req.RequestedSeconds
	}
	if seconds <= 0 {
		seconds = m.cfg.Media.DefaultClipSeconds
	}
	limit := m.cfg.Media.MaxClipSeconds
	if seconds < int(splitter.MinSegmentSeconds) || (limit > 0 && seconds > limit) {
		allowed := fmt.Sprintf("at least %ds", int(splitter.MinSegmentSeconds))
		if limit > 0 {
			allowed = fmt.Sprintf("%d-%ds", int(splitter.MinSegmentSeconds), limit)
		}
		return 0, faults.New(faults.TypeValidation,
			fmt.Sprintf("clip length %ds is outside %s", seconds, allowed),
			faults.WithOperation("jobs", "process"), faults.WithJob(req.JobID))
	}
	return seconds, nil
}

func (m *Manager) lookup(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, faults.Wrap(faults.TypeDatastore, err, "load job", faults.WithOperation("jobs", "lookup"), faults.WithJob(id))
	}
	if job == nil {
		return nil, faults.New(faults.TypeValidation, fmt.Sprintf("job %s not found", id),
			faults.WithOperation("jobs", "lookup"), faults.WithJob(id),
			faults.WithHTTPStatus(http.StatusNotFound), faults.WithCode("job_not_found"),
			faults.WithUserMessage("That job does not exist."))
	}
	return job, nil
}

func conflict(jobID, message string) error {
	return faults.New(faults.TypeValidation, message,
		faults.WithOperation("jobs", "transition"), faults.WithJob(jobID),
		faults.WithHTTPStatus(http.StatusConflict), faults.WithCode("job_conflict"),
		faults.WithUserMessage("The job cannot be changed in its current state."))
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, user_id, status, input_path, input_size, raw_metadata, duration_seconds, clip_seconds, subtitles, credits_charged, outputs_json, progress, error_message, created_at, updated_at, completed_at"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		statusStr    string
		rawMetadata  sql.NullString
		subtitles    int
		outputsJSON  sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.UserID,
		&statusStr,
		&job.InputPath,
		&job.InputSize,
		&rawMetadata,
		&job.DurationSeconds,
		&job.ClipSeconds,
		&subtitles,
		&job.CreditsCharged,
		&outputsJSON,
		&job.Progress,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(statusStr)
	job.RawMetadata = rawMetadata.String
	job.Subtitles = subtitles != 0
	job.ErrorMessage = errorMessage.String
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &job.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for job %s: %w", job.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.CompletedAt = parseNullTime(completedRaw)
	return &job, nil
}

// CreateJob inserts a job in the uploaded state. An empty ID is replaced with
// a fresh UUID.
func (s *Store) CreateJob(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if strings.TrimSpace(job.UserID) == "" {
		return nil, errors.New("job user id is required")
	}
	if strings.TrimSpace(job.InputPath) == "" {
		return nil, errors.New("job input path is required")
	}
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	timestamp := formatTime(time.Now())

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (
            id, user_id, status, input_path, input_size, raw_metadata,
            duration_seconds, progress, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id,
		job.UserID,
		JobUploaded,
		job.InputPath,
		job.InputSize,
		nullableString(job.RawMetadata),
		job.DurationSeconds,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier. It returns nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	UserID   string
	Statuses []JobStatus
	Limit    int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ProcessingStart carries the values fixed when a job begins processing.
type ProcessingStart struct {
	DurationSeconds float64
	ClipSeconds     int
	Subtitles       bool
	CreditsCharged  int64
	Progress        int
}

// StartProcessing moves an uploaded job to processing. It returns ErrConflict
// when the job is no longer uploaded and ErrNotFound when it does not exist.
func (s *Store) StartProcessing(ctx context.Context, id string, start ProcessingStart) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, duration_seconds = ?, clip_seconds = ?, subtitles = ?,
             credits_charged = ?, progress = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		JobProcessing,
		start.DurationSeconds,
		start.ClipSeconds,
		boolToInt(start.Subtitles),
		start.CreditsCharged,
		start.Progress,
		formatTime(time.Now()),
		id,
		JobUploaded,
	)
	if err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	return s.resolveMiss(ctx, id, res)
}

// UpdateJobProgress records progress for a processing job. ErrConflict means
// the job left the processing state (for example, it was cancelled).
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		progress,
		formatTime(time.Now()),
		id,
		JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return s.resolveMiss(ctx, id, res)
}

// CompleteJob moves a processing job to completed with its output list.
func (s *Store) CompleteJob(ctx context.Context, id string, outputs []string) error {
	encoded, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, outputs_json = ?, progress = 100, updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		JobCompleted,
		string(encoded),
		now,
		now,
		id,
		JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return s.resolveMiss(ctx, id, res)
}

// FailJob moves a processing job to failed, recording the message.
func (s *Store) FailJob(ctx context.Context, id, message string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		JobFailed,
		nullableString(message),
		now,
		now,
		id,
		JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return s.resolveMiss(ctx, id, res)
}

// CancelJob moves an uploaded or processing job to cancelled. It returns the
// status the job held before cancellation.
func (s *Store) CancelJob(ctx context.Context, id string) (JobStatus, error) {
	ctx = ensureContext(ctx)
	var previous JobStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		previous = JobStatus(current)
		if !CanTransition(previous, JobCancelled) {
			return ErrConflict
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			JobCancelled, formatTime(time.Now()), id,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return previous, err
		}
		return previous, fmt.Errorf("cancel job: %w", err)
	}
	return previous, nil
}

// DeleteJob removes a job and its clip rows in one transaction and returns the
// removed clips so callers can delete their artifacts. Processing jobs are
// refused with ErrConflict.
func (s *Store) DeleteJob(ctx context.Context, id string) (*Job, []*Clip, error) {
	ctx = ensureContext(ctx)
	var (
		job   *Job
		clips []*Clip
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		clips = nil
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		found, err := scanJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if found.Status == JobProcessing {
			return ErrConflict
		}
		job = found

		rows, err := tx.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE job_id = ? ORDER BY created_at, id`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			clip, err := scanClip(rows)
			if err != nil {
				rows.Close()
				return err
			}
			clips = append(clips, clip)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE job_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("delete job: %w", err)
	}
	return job, clips, nil
}

// FailInterrupted moves every processing job to failed with reason and
// returns the affected jobs as they were before the update.
func (s *Store) FailInterrupted(ctx context.Context, reason string) ([]*Job, error) {
	jobs, err := s.ListJobs(ctx, JobFilter{Statuses: []JobStatus{JobProcessing}})
	if err != nil {
		return nil, err
	}
	var failed []*Job
	for _, job := range jobs {
		if err := s.FailJob(ctx, job.ID, reason); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return failed, err
		}
		failed = append(failed, job)
	}
	return failed, nil
}

// SummarizeJobs counts jobs grouped by status.
func (s *Store) SummarizeJobs(ctx context.Context) (JobSummary, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return JobSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var summary JobSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return JobSummary{}, err
		}
		summary.Total += count
		switch JobStatus(status) {
		case JobUploaded:
			summary.Uploaded += count
		case JobProcessing:
			summary.Processing += count
		case JobCompleted:
			summary.Completed += count
		case JobFailed:
			summary.Failed += count
		case JobCancelled:
			summary.Cancelled += count
		}
	}
	return summary, rows.Err()
}

// resolveMiss turns a zero-row conditional update into ErrNotFound or ErrConflict.
func (s *Store) resolveMiss(ctx context.Context, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %s is %s", ErrConflict, id, job.Status)
}

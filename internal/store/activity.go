package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordActivity appends an activity log entry.
func (s *Store) RecordActivity(ctx context.Context, entry ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO activity_logs (user_id, job_id, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		nullableString(entry.UserID),
		nullableString(entry.JobID),
		entry.Action,
		nullableString(entry.Detail),
		formatTime(entry.CreatedAt),
	); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListActivity returns activity newest first, optionally for one user.
func (s *Store) ListActivity(ctx context.Context, userID string, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, job_id, action, detail, created_at FROM activity_logs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var (
			entry      ActivityEntry
			user       sql.NullString
			job        sql.NullString
			detail     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &user, &job, &entry.Action, &detail, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.UserID = user.String
		entry.JobID = job.String
		entry.Detail = detail.String
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// PurgeActivity deletes activity entries older than cutoff.
func (s *Store) PurgeActivity(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM activity_logs WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge activity: %w", err)
	}
	return res.RowsAffected()
}

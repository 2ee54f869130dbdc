package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const errorRecordColumns = "id, type, severity, code, http_status, message, user_message, stack, context_json, user_id, session_id, request_id, recoverable, retryable, created_at"

// InsertErrorRecord appends a redacted error record.
func (s *Store) InsertErrorRecord(ctx context.Context, record *ErrorRecord) error {
	if record == nil {
		return errors.New("error record is nil")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO error_records (`+errorRecordColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Type,
		record.Severity,
		nullableString(record.Code),
		record.HTTPStatus,
		record.Message,
		nullableString(record.UserMessage),
		nullableString(record.Stack),
		nullableString(record.ContextJSON),
		nullableString(record.UserID),
		nullableString(record.SessionID),
		nullableString(record.RequestID),
		boolToInt(record.Recoverable),
		boolToInt(record.Retryable),
		formatTime(record.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

// RecentErrorRecords returns the newest persisted error records.
func (s *Store) RecentErrorRecords(ctx context.Context, limit int) ([]*ErrorRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+errorRecordColumns+` FROM error_records ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	var records []*ErrorRecord
	for rows.Next() {
		var (
			record      ErrorRecord
			code        sql.NullString
			userMessage sql.NullString
			stack       sql.NullString
			contextJSON sql.NullString
			userID      sql.NullString
			sessionID   sql.NullString
			requestID   sql.NullString
			recoverable int
			retryable   int
			createdRaw  string
		)
		if err := rows.Scan(
			&record.ID,
			&record.Type,
			&record.Severity,
			&code,
			&record.HTTPStatus,
			&record.Message,
			&userMessage,
			&stack,
			&contextJSON,
			&userID,
			&sessionID,
			&requestID,
			&recoverable,
			&retryable,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		record.Code = code.String
		record.UserMessage = userMessage.String
		record.Stack = stack.String
		record.ContextJSON = contextJSON.String
		record.UserID = userID.String
		record.SessionID = sessionID.String
		record.RequestID = requestID.String
		record.Recoverable = recoverable != 0
		record.Retryable = retryable != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			record.CreatedAt = created
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// CountErrorRecordsSince counts error records created at or after since.
func (s *Store) CountErrorRecordsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM error_records WHERE created_at >= ?`,
		formatTime(since),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count error records: %w", err)
	}
	return count, nil
}

// PurgeErrorRecords deletes records older than cutoff. Records whose severity
// is listed in keep survive regardless of age.
func (s *Store) PurgeErrorRecords(ctx context.Context, cutoff time.Time, keep ...string) (int64, error) {
	query := `DELETE FROM error_records WHERE created_at < ?`
	args := []any{formatTime(cutoff)}
	if len(keep) > 0 {
		query += ` AND severity NOT IN (` + makePlaceholders(len(keep)) + `)`
		for _, severity := range keep {
			args = append(args, severity)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge error records: %w", err)
	}
	return res.RowsAffected()
}

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

// ClipRetention is how long a clip stays active before the reclaimer archives it.
const ClipRetention = 30 * 24 * time.Hour

const clipColumns = "id, job_id, user_id, filename, path, duration_seconds, size_bytes, thumbnail_path, metadata_json, archived, archived_at, created_at, expires_at"

func scanClip(scanner rowScanner) (*Clip, error) {
	var (
		clip         Clip
		thumbnail    sql.NullString
		metadataJSON sql.NullString
		archived     int
		archivedRaw  sql.NullString
		createdRaw   string
		expiresRaw   string
	)
	if err := scanner.Scan(
		&clip.ID,
		&clip.JobID,
		&clip.UserID,
		&clip.Filename,
		&clip.Path,
		&clip.DurationSeconds,
		&clip.SizeBytes,
		&thumbnail,
		&metadataJSON,
		&archived,
		&archivedRaw,
		&createdRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}
	clip.ThumbnailPath = thumbnail.String
	clip.Archived = archived != 0
	clip.ArchivedAt = parseNullTime(archivedRaw)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &clip.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for clip %s: %w", clip.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		clip.CreatedAt = created
	}
	if expires, err := parseTimeString(expiresRaw); err == nil {
		clip.ExpiresAt = expires
	}
	return &clip, nil
}

// InsertClip persists a produced clip. ID and CreatedAt are filled when empty
// and ExpiresAt is always CreatedAt plus ClipRetention.
func (s *Store) InsertClip(ctx context.Context, clip *Clip) error {
	if clip == nil {
		return errors.New("clip is nil")
	}
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	clip.CreatedAt = clip.CreatedAt.UTC()
	clip.ExpiresAt = clip.CreatedAt.Add(ClipRetention)

	metadata, err := json.Marshal(clip.Metadata)
	if err != nil {
		return fmt.Errorf("encode clip metadata: %w", err)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO clips (
            id, job_id, user_id, filename, path, duration_seconds, size_bytes,
            thumbnail_path, metadata_json, archived, created_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		clip.ID,
		clip.JobID,
		clip.UserID,
		clip.Filename,
		clip.Path,
		clip.DurationSeconds,
		clip.SizeBytes,
		nullableString(clip.ThumbnailPath),
		string(metadata),
		formatTime(clip.CreatedAt),
		formatTime(clip.ExpiresAt),
	); err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

// GetClip fetches a clip by identifier. It returns nil when the clip does not exist.
func (s *Store) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	clip, err := scanClip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get clip: %w", err)
	}
	return clip, nil
}

// ClipFilter narrows ListClips. Archived clips are excluded unless requested.
type ClipFilter struct {
	JobID           string
	UserID          string
	IncludeArchived bool
	Limit           int
}

// ListClips returns clips in production order for a job, or newest first otherwise.
func (s *Store) ListClips(ctx context.Context, filter ClipFilter) ([]*Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips`
	var (
		clauses []string
		args    []any
	)
	if filter.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.IncludeArchived {
		clauses = append(clauses, "archived = 0")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if filter.JobID != "" {
		query += " ORDER BY created_at, id"
	} else {
		query += " ORDER BY created_at DESC, id"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.queryClips(ctx, query, args...)
}

// ExpiredClips returns unarchived clips whose expiry is at or before now.
func (s *Store) ExpiredClips(ctx context.Context, now time.Time) ([]*Clip, error) {
	return s.queryClips(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE archived = 0 AND expires_at <= ? ORDER BY expires_at, id`,
		formatTime(now),
	)
}

// ArchiveClip flags a clip archived. Archiving an already archived clip
// returns ErrConflict so repeated sweeps count nothing twice.
func (s *Store) ArchiveClip(ctx context.Context, id string, at time.Time) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE clips SET archived = 1, archived_at = ? WHERE id = ? AND archived = 0`,
		formatTime(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("archive clip: %w", err)
	}
	return requireAffected(res, ErrConflict)
}

// CountClips returns the number of clips, optionally only active ones.
func (s *Store) CountClips(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(1) FROM clips`
	if activeOnly {
		query += ` WHERE archived = 0`
	}
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count clips: %w", err)
	}
	return count, nil
}

// ReferencedPaths returns every artifact path the database still points at:
// job inputs, clip files, and thumbnails. Archived clips keep their row but
// their files are gone, so they are included harmlessly.
func (s *Store) ReferencedPaths(ctx context.Context) (map[string]struct{}, error) {
	ctx = ensureContext(ctx)
	refs := make(map[string]struct{})
	collect := func(query string) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var path sql.NullString
			if err := rows.Scan(&path); err != nil {
				return err
			}
			if path.Valid && path.String != "" {
				refs[path.String] = struct{}{}
			}
		}
		return rows.Err()
	}
	for _, query := range []string{
		`SELECT input_path FROM jobs`,
		`SELECT path FROM clips`,
		`SELECT thumbnail_path FROM clips`,
	} {
		if err := collect(query); err != nil {
			return nil, fmt.Errorf("collect referenced paths: %w", err)
		}
	}
	return refs, nil
}

func (s *Store) queryClips(ctx context.Context, query string, args ...any) ([]*Clip, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		clips = append(clips, clip)
	}
	return clips, rows.Err()
}

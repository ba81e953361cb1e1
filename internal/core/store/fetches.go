package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ingestkit/ingestkit/internal/core"
)

const fetchColumns = `id, method, url, final_url, status, content_type, body_bytes,
	title, excerpt, error, duration_ms, fetched_at`

// RecordFetch inserts a fetch log entry. An empty ID is replaced by a new
// UUID and a zero FetchedAt by the current time; both are written back to rec.
func (s *Store) RecordFetch(ctx context.Context, rec *core.FetchRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if rec == nil {
		return errors.New("fetch record is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(rec.URL) == "" {
		return errors.New("fetch url is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Method == "" {
		rec.Method = "GET"
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO fetch_log (`+fetchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Method,
		rec.URL,
		nullString(rec.FinalURL),
		rec.Status,
		nullString(rec.ContentType),
		rec.BodyBytes,
		nullString(rec.Title),
		nullString(rec.Excerpt),
		nullString(rec.Error),
		rec.DurationMS,
		rec.FetchedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// GetFetch returns the entry with the given ID, or nil when none exists.
func (s *Store) GetFetch(ctx context.Context, id string) (*core.FetchRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("fetch id is required")
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+fetchColumns+` FROM fetch_log WHERE id = ?`, id)
	rec, err := scanFetch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fetch: %w", err)
	}
	return rec, nil
}

// ListFetches returns entries newest first.
func (s *Store) ListFetches(ctx context.Context, offset, limit int) ([]core.FetchRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []core.FetchRecord{}, nil
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+fetchColumns+`
		FROM fetch_log
		ORDER BY fetched_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list fetches: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := []core.FetchRecord{}
	for rows.Next() {
		rec, err := scanFetch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fetches: %w", err)
	}
	return records, nil
}

// CountFetches returns the number of stored entries.
func (s *Store) CountFetches(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetch_log`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count fetches: %w", err)
	}
	return count, nil
}

// DeleteFetch removes the entry with the given ID and reports whether it existed.
func (s *Store) DeleteFetch(ctx context.Context, id string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("fetch id is required")
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM fetch_log WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete fetch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fetch: %w", err)
	}
	return affected > 0, nil
}

// PruneFetches deletes entries fetched before cutoff.
func (s *Store) PruneFetches(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM fetch_log WHERE fetched_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune fetches: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFetch(row rowScanner) (*core.FetchRecord, error) {
	var (
		rec         core.FetchRecord
		finalURL    sql.NullString
		contentType sql.NullString
		title       sql.NullString
		excerpt     sql.NullString
		fetchErr    sql.NullString
		fetchedAt   int64
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Method,
		&rec.URL,
		&finalURL,
		&rec.Status,
		&contentType,
		&rec.BodyBytes,
		&title,
		&excerpt,
		&fetchErr,
		&rec.DurationMS,
		&fetchedAt,
	); err != nil {
		return nil, err
	}

	rec.FinalURL = finalURL.String
	rec.ContentType = contentType.String
	rec.Title = title.String
	rec.Excerpt = excerpt.String
	rec.Error = fetchErr.String
	rec.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	return &rec, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

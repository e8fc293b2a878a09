package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
)

const duplicateColumns = `mam_id, meta, dl_link, cost, duplicate_of, created_at`

// GetDuplicate returns the duplicate record for a tracker id.
func (q *Queries) GetDuplicate(ctx context.Context, mamID int64) (*models.DuplicateRecord, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+duplicateColumns+` FROM duplicate_torrents WHERE mam_id = ?`, mamID)
	rec, err := scanDuplicate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate: %w", err)
	}
	return rec, nil
}

// ListDuplicates returns duplicate records, newest first.
func (q *Queries) ListDuplicates(ctx context.Context, limit, offset int) ([]*models.DuplicateRecord, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+duplicateColumns+` FROM duplicate_torrents
		ORDER BY created_at DESC, mam_id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicates: %w", err)
	}
	defer rows.Close()

	var out []*models.DuplicateRecord
	for rows.Next() {
		rec, err := scanDuplicate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountDuplicates returns the number of duplicate records.
func (q *Queries) CountDuplicates(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duplicate_torrents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count duplicates: %w", err)
	}
	return n, nil
}

// UpsertDuplicate records a rejected candidate, replacing an earlier record
// for the same tracker id.
func (q *Queries) UpsertDuplicate(ctx context.Context, rec *models.DuplicateRecord) error {
	meta, err := marshalJSON(rec.Meta)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO duplicate_torrents (
		mam_id, title_search, meta, dl_link, cost, duplicate_of, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mam_id) DO UPDATE SET
		title_search = excluded.title_search,
		meta = excluded.meta,
		dl_link = excluded.dl_link,
		cost = excluded.cost,
		duplicate_of = excluded.duplicate_of,
		created_at = excluded.created_at`,
		rec.MamID,
		normalize.Title(rec.Meta.Title),
		meta,
		rec.DlLink,
		string(rec.Cost),
		nullableString(rec.DuplicateOf),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert duplicate: %w", err)
	}
	return nil
}

// DeleteDuplicate removes a duplicate record.
func (q *Queries) DeleteDuplicate(ctx context.Context, mamID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM duplicate_torrents WHERE mam_id = ?`, mamID); err != nil {
		return fmt.Errorf("failed to delete duplicate: %w", err)
	}
	return nil
}

func scanDuplicate(row rowScanner) (*models.DuplicateRecord, error) {
	var (
		rec         models.DuplicateRecord
		meta        string
		cost        string
		duplicateOf sql.NullString
		createdAt   string
	)
	if err := row.Scan(&rec.MamID, &meta, &rec.DlLink, &cost, &duplicateOf, &createdAt); err != nil {
		return nil, err
	}
	rec.Cost = models.Cost(cost)
	rec.DuplicateOf = stringPtr(duplicateOf)
	if err := unmarshalJSON(meta, &rec.Meta); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

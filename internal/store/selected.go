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

const selectedColumns = `mam_id, hash, dl_link, unsat_buffer, wedge_buffer, cost, category, tags,
	grabber, meta, created_at, started_at, removed_at`

// GetSelected returns the selection for a tracker id.
func (q *Queries) GetSelected(ctx context.Context, mamID int64) (*models.SelectedTorrent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectedColumns+` FROM selected_torrents WHERE mam_id = ?`, mamID)
	st, err := scanSelected(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selected torrent: %w", err)
	}
	return st, nil
}

// GetSelectedByHash returns the selection with a resolved content hash.
func (q *Queries) GetSelectedByHash(ctx context.Context, hash string) (*models.SelectedTorrent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectedColumns+` FROM selected_torrents WHERE hash = ?`, hash)
	st, err := scanSelected(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selected torrent by hash: %w", err)
	}
	return st, nil
}

// ListSelectedByTitle returns every selection sharing a normalized title.
func (q *Queries) ListSelectedByTitle(ctx context.Context, titleSearch string) ([]*models.SelectedTorrent, error) {
	return q.listSelected(ctx, `WHERE title_search = ? ORDER BY created_at, mam_id`, titleSearch)
}

// ListSelected returns all selections, oldest first.
func (q *Queries) ListSelected(ctx context.Context) ([]*models.SelectedTorrent, error) {
	return q.listSelected(ctx, `ORDER BY created_at, mam_id`)
}

// ListPendingSelected returns selections not yet handed to the download
// client and not retired, oldest first.
func (q *Queries) ListPendingSelected(ctx context.Context) ([]*models.SelectedTorrent, error) {
	return q.listSelected(ctx, `WHERE started_at IS NULL AND removed_at IS NULL ORDER BY created_at, mam_id`)
}

// ListStartedSelected returns selections handed to the download client.
func (q *Queries) ListStartedSelected(ctx context.Context) ([]*models.SelectedTorrent, error) {
	return q.listSelected(ctx, `WHERE started_at IS NOT NULL AND removed_at IS NULL ORDER BY started_at, mam_id`)
}

// CountActiveSelected returns the number of started, unretired selections.
func (q *Queries) CountActiveSelected(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM selected_torrents WHERE started_at IS NOT NULL AND removed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active selections: %w", err)
	}
	return n, nil
}

func (q *Queries) listSelected(ctx context.Context, clause string, args ...any) ([]*models.SelectedTorrent, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+selectedColumns+` FROM selected_torrents `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list selected torrents: %w", err)
	}
	defer rows.Close()

	var out []*models.SelectedTorrent
	for rows.Next() {
		st, err := scanSelected(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan selected torrent: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InsertSelected adds a new selection. A row with the same tracker id
// yields ErrDuplicateKey.
func (q *Queries) InsertSelected(ctx context.Context, st *models.SelectedTorrent) error {
	args, err := selectedArgs(st)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO selected_torrents (
		mam_id, hash, title_search, dl_link, unsat_buffer, wedge_buffer, cost, category, tags,
		grabber, meta, created_at, started_at, removed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("selected torrent %d: %w", st.MamID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert selected torrent: %w", err)
	}
	return nil
}

// UpsertSelected inserts or fully replaces a selection.
func (q *Queries) UpsertSelected(ctx context.Context, st *models.SelectedTorrent) error {
	args, err := selectedArgs(st)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO selected_torrents (
		mam_id, hash, title_search, dl_link, unsat_buffer, wedge_buffer, cost, category, tags,
		grabber, meta, created_at, started_at, removed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mam_id) DO UPDATE SET
		hash = excluded.hash,
		title_search = excluded.title_search,
		dl_link = excluded.dl_link,
		unsat_buffer = excluded.unsat_buffer,
		wedge_buffer = excluded.wedge_buffer,
		cost = excluded.cost,
		category = excluded.category,
		tags = excluded.tags,
		grabber = excluded.grabber,
		meta = excluded.meta,
		created_at = excluded.created_at,
		started_at = excluded.started_at,
		removed_at = excluded.removed_at`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("selected torrent %d: %w", st.MamID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert selected torrent: %w", err)
	}
	return nil
}

// DeleteSelected removes a selection.
func (q *Queries) DeleteSelected(ctx context.Context, mamID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM selected_torrents WHERE mam_id = ?`, mamID); err != nil {
		return fmt.Errorf("failed to delete selected torrent: %w", err)
	}
	return nil
}

// DeleteRemovedSelectedBefore sweeps retired selections removed before t.
func (q *Queries) DeleteRemovedSelectedBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM selected_torrents WHERE removed_at IS NOT NULL AND removed_at < ?`, formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep removed selections: %w", err)
	}
	return res.RowsAffected()
}

func selectedArgs(st *models.SelectedTorrent) ([]any, error) {
	meta, err := marshalJSON(st.Meta)
	if err != nil {
		return nil, err
	}
	tags, err := stringList(st.Tags)
	if err != nil {
		return nil, err
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	return []any{
		st.MamID,
		nullableString(st.Hash),
		normalize.Title(st.Meta.Title),
		st.DlLink,
		nullableInt(st.UnsatBuffer),
		nullableInt(st.WedgeBuffer),
		string(st.Cost),
		st.Category,
		tags,
		st.Grabber,
		meta,
		formatTime(st.CreatedAt),
		nullableTime(st.StartedAt),
		nullableTime(st.RemovedAt),
	}, nil
}

func scanSelected(row rowScanner) (*models.SelectedTorrent, error) {
	var (
		st          models.SelectedTorrent
		hash        sql.NullString
		unsatBuffer sql.NullInt64
		wedgeBuffer sql.NullInt64
		cost        string
		tags        string
		meta        string
		createdAt   string
		startedAt   sql.NullString
		removedAt   sql.NullString
	)
	if err := row.Scan(
		&st.MamID, &hash, &st.DlLink, &unsatBuffer, &wedgeBuffer, &cost, &st.Category, &tags,
		&st.Grabber, &meta, &createdAt, &startedAt, &removedAt,
	); err != nil {
		return nil, err
	}

	st.Hash = stringPtr(hash)
	st.UnsatBuffer = intPtr(unsatBuffer)
	st.WedgeBuffer = intPtr(wedgeBuffer)
	st.Cost = models.Cost(cost)
	if err := unmarshalJSON(tags, &st.Tags); err != nil {
		return nil, err
	}
	if len(st.Tags) == 0 {
		st.Tags = nil
	}
	if err := unmarshalJSON(meta, &st.Meta); err != nil {
		return nil, err
	}

	var err error
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if st.RemovedAt, err = parseNullTime(removedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

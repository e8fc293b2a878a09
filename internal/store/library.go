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

const libraryColumns = `id, mam_id, meta, library_path, library_files, linker, selected_audio_format,
	selected_ebook_format, replaced_with_id, replaced_at, client_status, owner_name, created_at, updated_at`

// GetLibraryItem returns a library item by its local id.
func (q *Queries) GetLibraryItem(ctx context.Context, id string) (*models.LibraryItem, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM library_items WHERE id = ?`, id)
	item, err := scanLibraryItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library item: %w", err)
	}
	return item, nil
}

// GetLibraryItemByMamID returns the library item known under a tracker id.
func (q *Queries) GetLibraryItemByMamID(ctx context.Context, mamID int64) (*models.LibraryItem, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM library_items WHERE mam_id = ?`, mamID)
	item, err := scanLibraryItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library item by mam id: %w", err)
	}
	return item, nil
}

// ListLibraryItemsByTitle returns every library item sharing a normalized title.
func (q *Queries) ListLibraryItemsByTitle(ctx context.Context, titleSearch string) ([]*models.LibraryItem, error) {
	return q.listLibraryItems(ctx, `WHERE title_search = ? ORDER BY created_at, id`, titleSearch)
}

// ListLibraryItems returns all library items, oldest first.
func (q *Queries) ListLibraryItems(ctx context.Context) ([]*models.LibraryItem, error) {
	return q.listLibraryItems(ctx, `ORDER BY created_at, id`)
}

// ListReplacedLibraryItems returns superseded items that still have files.
func (q *Queries) ListReplacedLibraryItems(ctx context.Context) ([]*models.LibraryItem, error) {
	return q.listLibraryItems(ctx, `WHERE replaced_with_id IS NOT NULL AND library_files != '[]' ORDER BY replaced_at, id`)
}

func (q *Queries) listLibraryItems(ctx context.Context, clause string, args ...any) ([]*models.LibraryItem, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM library_items `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list library items: %w", err)
	}
	defer rows.Close()

	var out []*models.LibraryItem
	for rows.Next() {
		item, err := scanLibraryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// InsertLibraryItem adds a library item. A collision on id or tracker id
// yields ErrDuplicateKey.
func (q *Queries) InsertLibraryItem(ctx context.Context, item *models.LibraryItem) error {
	args, err := libraryArgs(item)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO library_items (
		id, mam_id, title_search, meta, library_path, library_files, linker, selected_audio_format,
		selected_ebook_format, replaced_with_id, replaced_at, client_status, owner_name, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("library item %s: %w", item.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert library item: %w", err)
	}
	return nil
}

// UpsertLibraryItem inserts or fully replaces a library item.
func (q *Queries) UpsertLibraryItem(ctx context.Context, item *models.LibraryItem) error {
	item.UpdatedAt = time.Now().UTC()
	args, err := libraryArgs(item)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO library_items (
		id, mam_id, title_search, meta, library_path, library_files, linker, selected_audio_format,
		selected_ebook_format, replaced_with_id, replaced_at, client_status, owner_name, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		mam_id = excluded.mam_id,
		title_search = excluded.title_search,
		meta = excluded.meta,
		library_path = excluded.library_path,
		library_files = excluded.library_files,
		linker = excluded.linker,
		selected_audio_format = excluded.selected_audio_format,
		selected_ebook_format = excluded.selected_ebook_format,
		replaced_with_id = excluded.replaced_with_id,
		replaced_at = excluded.replaced_at,
		client_status = excluded.client_status,
		owner_name = excluded.owner_name,
		updated_at = excluded.updated_at`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("library item %s: %w", item.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert library item: %w", err)
	}
	return nil
}

// DeleteLibraryItem removes a library item.
func (q *Queries) DeleteLibraryItem(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM library_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete library item: %w", err)
	}
	return nil
}

func libraryArgs(item *models.LibraryItem) ([]any, error) {
	meta, err := marshalJSON(item.Meta)
	if err != nil {
		return nil, err
	}
	files, err := stringList(item.LibraryFiles)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if item.ClientStatus == "" {
		item.ClientStatus = models.ClientStatusOK
	}

	var replacedID, replacedAt any
	if item.ReplacedWith != nil {
		replacedID = item.ReplacedWith.ID
		replacedAt = formatTime(item.ReplacedWith.At)
	}

	return []any{
		item.ID,
		nullableInt64(item.MamID),
		normalize.Title(item.Meta.Title),
		meta,
		item.LibraryPath,
		files,
		item.Linker,
		item.SelectedAudioFormat,
		item.SelectedEbookFormat,
		replacedID,
		replacedAt,
		string(item.ClientStatus),
		item.OwnerName,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	}, nil
}

func scanLibraryItem(row rowScanner) (*models.LibraryItem, error) {
	var (
		item         models.LibraryItem
		mamID        sql.NullInt64
		meta         string
		files        string
		replacedID   sql.NullString
		replacedAt   sql.NullString
		clientStatus string
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&item.ID, &mamID, &meta, &item.LibraryPath, &files, &item.Linker, &item.SelectedAudioFormat,
		&item.SelectedEbookFormat, &replacedID, &replacedAt, &clientStatus, &item.OwnerName, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	item.MamID = int64Ptr(mamID)
	item.ClientStatus = models.ClientStatus(clientStatus)
	if err := unmarshalJSON(meta, &item.Meta); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(files, &item.LibraryFiles); err != nil {
		return nil, err
	}
	if len(item.LibraryFiles) == 0 {
		item.LibraryFiles = nil
	}

	if replacedID.Valid {
		at, err := parseNullTime(replacedAt)
		if err != nil {
			return nil, err
		}
		rw := &models.ReplacedWith{ID: replacedID.String}
		if at != nil {
			rw.At = *at
		}
		item.ReplacedWith = rw
	}

	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

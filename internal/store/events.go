package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	Kind          models.EventKind
	MamID         *int64
	LibraryItemID *string
	Limit         int
	Offset        int
}

// eventPayload holds the kind-specific fields of an event.
type eventPayload struct {
	Grabber     string                `json:"grabber,omitempty"`
	Cost        models.Cost           `json:"cost,omitempty"`
	WedgeUsed   bool                  `json:"wedgeUsed,omitempty"`
	Linker      string                `json:"linker,omitempty"`
	LibraryPath string                `json:"libraryPath,omitempty"`
	Files       []string              `json:"files,omitempty"`
	Fields      []models.FieldDiff    `json:"fields,omitempty"`
	Source      models.MetadataSource `json:"source,omitempty"`
}

// InsertEvent appends an event. Events are never updated.
func (q *Queries) InsertEvent(ctx context.Context, ev *models.Event) error {
	payload, err := marshalJSON(eventPayload{
		Grabber:     ev.Grabber,
		Cost:        ev.Cost,
		WedgeUsed:   ev.WedgeUsed,
		Linker:      ev.Linker,
		LibraryPath: ev.LibraryPath,
		Files:       ev.Files,
		Fields:      ev.Fields,
		Source:      ev.Source,
	})
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO events (id, library_item_id, mam_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		nullableString(ev.LibraryItemID),
		nullableInt64(ev.MamID),
		string(ev.Kind),
		payload,
		formatTime(ev.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("event %s: %w", ev.ID, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListEvents returns matching events, newest first.
func (q *Queries) ListEvents(ctx context.Context, f EventFilter) ([]*models.Event, error) {
	where, args := eventWhere(f)
	query := `SELECT id, library_item_id, mam_id, kind, payload, created_at FROM events` + where +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			ev            models.Event
			libraryItemID sql.NullString
			mamID         sql.NullInt64
			kind          string
			payload       string
			createdAt     string
		)
		if err := rows.Scan(&ev.ID, &libraryItemID, &mamID, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.LibraryItemID = stringPtr(libraryItemID)
		ev.MamID = int64Ptr(mamID)
		ev.Kind = models.EventKind(kind)

		var p eventPayload
		if err := unmarshalJSON(payload, &p); err != nil {
			return nil, err
		}
		ev.Grabber, ev.Cost, ev.WedgeUsed = p.Grabber, p.Cost, p.WedgeUsed
		ev.Linker, ev.LibraryPath, ev.Files = p.Linker, p.LibraryPath, p.Files
		ev.Fields, ev.Source = p.Fields, p.Source

		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CountEvents returns the number of matching events, ignoring paging.
func (q *Queries) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := eventWhere(f)
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// DeleteEventsBefore removes events created before t.
func (q *Queries) DeleteEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

func eventWhere(f EventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.MamID != nil {
		conds = append(conds, "mam_id = ?")
		args = append(args, *f.MamID)
	}
	if f.LibraryItemID != nil {
		conds = append(conds, "library_item_id = ?")
		args = append(args, *f.LibraryItemID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/testutil"
)

func TestHistoryService_Append(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Store, tdb.Logger)
	ctx := context.Background()

	ev := &models.Event{Kind: models.EventRemovedFromTracker, MamID: testutil.Int64Ptr(9)}
	if err := service.Append(ctx, ev); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if ev.ID == "" {
		t.Error("Append() left ID empty")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("Append() left CreatedAt zero")
	}

	events, err := service.ListByMamID(ctx, 9)
	if err != nil {
		t.Fatalf("ListByMamID() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.EventRemovedFromTracker {
		t.Fatalf("ListByMamID() = %+v, want one removed_from_tracker event", events)
	}
}

func TestHistoryService_LogHelpers(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Store, tdb.Logger)
	ctx := context.Background()

	hash := "abcdef"
	st := &models.SelectedTorrent{MamID: 5, Hash: &hash, Cost: models.CostUseWedge, Grabber: "fantasy"}
	if err := service.LogGrabbed(ctx, st, true); err != nil {
		t.Fatalf("LogGrabbed() error = %v", err)
	}

	item := &models.LibraryItem{ID: hash, MamID: testutil.Int64Ptr(5), Linker: "main", LibraryPath: "/lib/A/B"}
	if err := service.LogLinked(ctx, item); err != nil {
		t.Fatalf("LogLinked() error = %v", err)
	}
	if err := service.LogCleaned(ctx, item, "/lib/A/B", []string{"b.m4b"}); err != nil {
		t.Fatalf("LogCleaned() error = %v", err)
	}
	diff := []models.FieldDiff{{Field: models.FieldNarrators, From: "", To: "Kate Reading"}}
	if err := service.LogUpdated(ctx, &item.ID, item.MamID, diff, models.SourceTracker); err != nil {
		t.Fatalf("LogUpdated() error = %v", err)
	}

	events, err := service.ListByLibraryItem(ctx, hash)
	if err != nil {
		t.Fatalf("ListByLibraryItem() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("ListByLibraryItem() returned %d events, want 4", len(events))
	}

	byKind := make(map[models.EventKind]*models.Event)
	for _, ev := range events {
		byKind[ev.Kind] = ev
	}
	if g := byKind[models.EventGrabbed]; g == nil || !g.WedgeUsed || g.Grabber != "fantasy" || g.Cost != models.CostUseWedge {
		t.Errorf("grabbed event = %+v", g)
	}
	if l := byKind[models.EventLinked]; l == nil || l.Linker != "main" || l.LibraryPath != "/lib/A/B" {
		t.Errorf("linked event = %+v", l)
	}
	if c := byKind[models.EventCleaned]; c == nil || len(c.Files) != 1 || c.Files[0] != "b.m4b" {
		t.Errorf("cleaned event = %+v", c)
	}
	if u := byKind[models.EventUpdated]; u == nil || len(u.Fields) != 1 || u.Fields[0].To != "Kate Reading" || u.Source != models.SourceTracker {
		t.Errorf("updated event = %+v", u)
	}
}

func TestHistoryService_ListPagination(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Store, tdb.Logger)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := range 7 {
		kind := models.EventGrabbed
		if i%2 == 1 {
			kind = models.EventLinked
		}
		if err := service.Append(ctx, &models.Event{Kind: kind, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	resp, err := service.List(ctx, ListOptions{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if resp.TotalCount != 7 || resp.TotalPages != 3 || len(resp.Items) != 3 {
		t.Errorf("List() = total %d pages %d items %d, want 7/3/3", resp.TotalCount, resp.TotalPages, len(resp.Items))
	}

	resp, err = service.List(ctx, ListOptions{Kind: models.EventLinked, PageSize: 500})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if resp.PageSize != maxPageSize {
		t.Errorf("PageSize = %d, want %d", resp.PageSize, maxPageSize)
	}
	if resp.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", resp.TotalCount)
	}
	if !resp.Items[0].CreatedAt.After(resp.Items[1].CreatedAt) {
		t.Error("List() not ordered newest first")
	}
}

func TestHistoryService_CleanupOldEntries(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Store, tdb.Logger)
	service.SetRetentionDays(30)
	ctx := context.Background()

	old := &models.Event{Kind: models.EventGrabbed, CreatedAt: time.Now().AddDate(0, 0, -31)}
	recent := &models.Event{Kind: models.EventGrabbed, CreatedAt: time.Now().AddDate(0, 0, -1)}
	for _, ev := range []*models.Event{old, recent} {
		if err := service.Append(ctx, ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := service.CleanupOldEntries(ctx); err != nil {
		t.Fatalf("CleanupOldEntries() error = %v", err)
	}

	remaining, err := tdb.Store.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != recent.ID {
		t.Errorf("remaining = %+v, want only the recent event", remaining)
	}

	service.SetRetentionDays(0)
	if service.RetentionSettings().Enabled {
		t.Error("retention 0 should disable cleanup")
	}
}

func TestHandlers_List(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	service := NewService(tdb.Store, tdb.Logger)
	ctx := context.Background()

	if err := service.LogRemovedFromTracker(ctx, 77, nil); err != nil {
		t.Fatalf("LogRemovedFromTracker() error = %v", err)
	}
	if err := service.LogRemovedFromTracker(ctx, 78, nil); err != nil {
		t.Fatalf("LogRemovedFromTracker() error = %v", err)
	}

	e := echo.New()
	NewHandlers(service).RegisterRoutes(e.Group("/api/v1/history"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?mamId=77", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 1 || *resp.Items[0].MamID != 77 {
		t.Errorf("response = %+v, want the single event for 77", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history?mamId=abc", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

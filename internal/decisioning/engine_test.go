package decisioning_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/testutil"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

type fixture struct {
	store   *store.Store
	history *history.Service
	engine  *decisioning.Engine
	sink    *recordingSink
}

type recordingSink struct {
	mu    sync.Mutex
	items []string
}

func (s *recordingSink) Apply(_ context.Context, item *models.LibraryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item.ID)
	return errors.New("library host unavailable")
}

func defaultConfig() decisioning.Config {
	return decisioning.Config{
		Preferred: map[models.MediaType][]string{
			models.MediaTypeAudiobook: {"m4b", "mp3"},
			models.MediaTypeEbook:     {"epub", "azw3"},
		},
	}
}

func newFixture(t *testing.T, cfg decisioning.Config) *fixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	hist := history.NewService(tdb.Store, tdb.Logger)
	sink := &recordingSink{}
	return &fixture{
		store:   tdb.Store,
		history: hist,
		engine:  decisioning.NewEngine(tdb.Store, hist, []decisioning.MetadataSink{sink}, cfg, tdb.Logger),
		sink:    sink,
	}
}

func candidate(id int64, title, author string, filetypes ...string) tracker.CandidateItem {
	return tracker.CandidateItem{
		ID:        id,
		Title:     title,
		Authors:   map[string]string{"1": author},
		Filetypes: filetypes,
		Size:      "400 MiB",
		NumFiles:  1,
		MainCat:   13,
		Language:  "English",
		Free:      true,
		DlLink:    fmt.Sprintf("dl-%d", id),
	}
}

func freeRequest() decisioning.Request {
	return decisioning.Request{Cost: decisioning.CostFree, Grabber: "test"}
}

func (f *fixture) run(t *testing.T, req decisioning.Request, items ...tracker.CandidateItem) int {
	t.Helper()
	n, err := f.engine.SelectTorrents(context.Background(), tracker.Items(items), req)
	require.NoError(t, err)
	return n
}

func (f *fixture) selectedIDs(t *testing.T) []int64 {
	t.Helper()
	all, err := f.store.ListSelected(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, st := range all {
		ids = append(ids, st.MamID)
	}
	return ids
}

func TestSelectTorrents_AcceptsNewCandidate(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req := freeRequest()
	req.UnsatBuffer = testutil.IntPtr(3)
	req.Category = "audiobooks"

	accepted := f.run(t, req, candidate(1, "Project Hail Mary", "Andy Weir", "m4b"))
	assert.Equal(t, 1, accepted)

	st, err := f.store.GetSelected(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "dl-1", st.DlLink)
	assert.Equal(t, models.CostGlobalFreeleech, st.Cost)
	assert.Equal(t, "audiobooks", st.Category)
	assert.Equal(t, 3, *st.UnsatBuffer)
	assert.Equal(t, "test", st.Grabber)
	assert.Equal(t, "Project Hail Mary", st.Meta.Title)
	assert.True(t, st.Pending())
}

// Two equally ranked copies: whichever comes first wins.
func TestSelectTorrents_ScenarioA_FirstEqualWins(t *testing.T) {
	big := candidate(10, "The Name of the Wind", "Patrick Rothfuss", "m4b", "epub")
	big.Size = "900 MiB"
	small := candidate(11, "The Name of the Wind", "Patrick Rothfuss", "m4b")

	tests := []struct {
		name      string
		order     []tracker.CandidateItem
		winner    int64
		duplicate int64
	}{
		{"big first", []tracker.CandidateItem{big, small}, 10, 11},
		{"small first", []tracker.CandidateItem{small, big}, 11, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, decisioning.Config{
				Preferred: map[models.MediaType][]string{models.MediaTypeAudiobook: {"m4b"}},
			})
			accepted := f.run(t, freeRequest(), tt.order...)
			assert.Equal(t, 1, accepted)
			assert.Equal(t, []int64{tt.winner}, f.selectedIDs(t))

			dup, err := f.store.GetDuplicate(context.Background(), tt.duplicate)
			require.NoError(t, err)
			assert.Nil(t, dup.DuplicateOf)
		})
	}
}

func TestSelectTorrents_AtMostOnePreferred(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	accepted := f.run(t, freeRequest(),
		candidate(1, "Dune", "Frank Herbert", "mp3"),
		candidate(2, "Dune", "Frank Herbert", "m4b"),
		candidate(3, "Dune", "Frank Herbert", "mp3"),
		candidate(4, "Dune", "Frank Herbert", "m4b", "mp3"),
	)
	assert.Equal(t, 2, accepted)
	assert.Equal(t, []int64{2}, f.selectedIDs(t))

	for _, id := range []int64{1, 3, 4} {
		_, err := f.store.GetDuplicate(ctx, id)
		assert.NoError(t, err, "torrent %d should be recorded as duplicate", id)
	}
	_, err := f.store.GetDuplicate(ctx, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSelectTorrents_RetiresStartedSelection(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	startedAt := time.Now().UTC().Add(-time.Hour)
	started := &models.SelectedTorrent{
		MamID:     1,
		DlLink:    "dl-1",
		Cost:      models.CostGlobalFreeleech,
		Meta:      testutil.NewMeta(1, "Dune", "Frank Herbert", "mp3"),
		Hash:      testutil.StringPtr("0123456789abcdef0123456789abcdef01234567"),
		StartedAt: &startedAt,
		CreatedAt: startedAt,
	}
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, started)
	}))

	accepted := f.run(t, freeRequest(), candidate(2, "Dune", "Frank Herbert", "m4b"))
	assert.Equal(t, 1, accepted)

	retired, err := f.store.GetSelected(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, retired.RemovedAt)
	assert.Equal(t, *started.Hash, *retired.Hash)
	assert.NotNil(t, retired.StartedAt)

	_, err = f.store.GetDuplicate(ctx, 1)
	assert.NoError(t, err)

	replacement, err := f.store.GetSelected(ctx, 2)
	require.NoError(t, err)
	assert.True(t, replacement.Pending())

	active, err := f.store.ListStartedSelected(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A later run does not compare against the retired row.
	assert.Equal(t, 0, f.run(t, freeRequest(), candidate(2, "Dune", "Frank Herbert", "m4b")))
}

func TestSelectTorrents_DifferentAuthorsAreNotDuplicates(t *testing.T) {
	f := newFixture(t, defaultConfig())

	accepted := f.run(t, freeRequest(),
		candidate(1, "Emma", "Jane Austen", "m4b"),
		candidate(2, "Emma", "Someone Else", "m4b"),
	)
	assert.Equal(t, 2, accepted)
}

func TestSelectTorrents_Idempotent(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	owned := &models.LibraryItem{
		ID:    "owned-1",
		MamID: testutil.Int64Ptr(50),
		Meta:  testutil.NewMeta(50, "Children of Time", "Adrian Tchaikovsky", "m4b"),
	}
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertLibraryItem(ctx, owned)
	}))

	items := []tracker.CandidateItem{
		candidate(1, "Dune", "Frank Herbert", "mp3"),
		candidate(2, "Dune", "Frank Herbert", "m4b"),
		candidate(3, "Dune", "Frank Herbert", "mp3"),
		candidate(4, "Hyperion", "Dan Simmons", "m4b"),
		candidate(5, "Children of Time", "Adrian Tchaikovsky", "mp3"),
		candidate(6, "Piranesi", "Susanna Clarke", "flac"),
	}

	first := f.run(t, freeRequest(), items...)
	assert.Equal(t, 3, first)
	commits := f.store.Commits()

	second := f.run(t, freeRequest(), items...)
	assert.Equal(t, 0, second)
	assert.Equal(t, commits, f.store.Commits(), "second run must not write")
}

func TestSelectTorrents_QuotaNeverExceeded(t *testing.T) {
	var items []tracker.CandidateItem
	for i := int64(1); i <= 6; i++ {
		items = append(items, candidate(i, fmt.Sprintf("Book %d", i), fmt.Sprintf("Author %d", i), "m4b"))
	}

	for _, maxAccept := range []int{0, 1, 2, 5, 6, 10} {
		t.Run(fmt.Sprintf("max %d", maxAccept), func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			req := freeRequest()
			req.MaxAccept = testutil.IntPtr(maxAccept)

			accepted := f.run(t, req, items...)
			assert.LessOrEqual(t, accepted, maxAccept)
			assert.Equal(t, min(maxAccept, len(items)), accepted)
			assert.Len(t, f.selectedIDs(t), accepted)
		})
	}

	t.Run("nil is unlimited", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		assert.Equal(t, len(items), f.run(t, freeRequest(), items...))
	})
}

func TestSelectTorrents_DryRunNeverCommits(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		if err := q.InsertSelected(ctx, &models.SelectedTorrent{
			MamID:       42,
			DlLink:      "dl-42",
			UnsatBuffer: testutil.IntPtr(5),
			Cost:        models.CostRatio,
			Meta:        testutil.NewMeta(42, "Old Title", "Someone", "m4b"),
		}); err != nil {
			return err
		}
		return q.InsertLibraryItem(ctx, &models.LibraryItem{
			ID:    "owned",
			MamID: testutil.Int64Ptr(60),
			Meta:  testutil.NewMeta(60, "Dune", "Frank Herbert", "mp3"),
		})
	}))
	before := f.store.Commits()

	items := []tracker.CandidateItem{
		candidate(1, "Dune", "Frank Herbert", "mp3"),
		candidate(2, "Dune", "Frank Herbert", "m4b"),
		candidate(42, "New Title", "Someone", "m4b"),
		candidate(60, "Dune Renamed", "Frank Herbert", "mp3"),
		candidate(7, "Piranesi", "Susanna Clarke", "flac"),
	}

	req := freeRequest()
	req.DryRun = true
	req.UnsatBuffer = testutil.IntPtr(1)
	accepted := f.run(t, req, items...)
	assert.Equal(t, 1, accepted)

	req.Cost = decisioning.CostMetadataOnly
	f.run(t, req, items...)

	assert.Equal(t, before, f.store.Commits())
	assert.Equal(t, []int64{42}, f.selectedIDs(t))
}

func TestSelectTorrents_ScenarioB_TightensUnsatBuffer(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	item := candidate(42, "The Martian", "Andy Weir", "m4b")
	meta, err := tracker.ToMeta(item)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, &models.SelectedTorrent{
			MamID:       42,
			DlLink:      item.DlLink,
			UnsatBuffer: testutil.IntPtr(5),
			Cost:        models.CostGlobalFreeleech,
			Meta:        meta,
		})
	}))

	looser := freeRequest()
	looser.UnsatBuffer = testutil.IntPtr(10)
	assert.Equal(t, 0, f.run(t, looser, item))
	st, err := f.store.GetSelected(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, *st.UnsatBuffer)

	tighter := freeRequest()
	tighter.UnsatBuffer = testutil.IntPtr(2)
	assert.Equal(t, 0, f.run(t, tighter, item))
	st, err = f.store.GetSelected(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, *st.UnsatBuffer)

	events, err := f.history.ListByMamID(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, events, "buffer changes are not metadata updates")
}

func TestSelectTorrents_ScenarioC_MetadataOnly(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req := decisioning.Request{Cost: decisioning.CostMetadataOnly}
	item := candidate(7, "Mistborn", "Brandon Sanderson", "m4b")
	item.OwnerName = "uploader"

	assert.Equal(t, 0, f.run(t, req, item))

	lib, err := f.store.GetLibraryItemByMamID(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lib.LibraryFiles)
	assert.False(t, lib.Linked())
	assert.Equal(t, "Mistborn", lib.Meta.Title)
	assert.Empty(t, lib.OwnerName)

	_, err = f.store.GetSelected(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	commits := f.store.Commits()
	f.run(t, req, item)
	assert.Equal(t, commits, f.store.Commits(), "unchanged catalog item is not rewritten")

	add := decisioning.Request{Cost: decisioning.CostMetadataOnlyAdd}
	f.run(t, add, item)
	lib, err = f.store.GetLibraryItemByMamID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "uploader", lib.OwnerName)
}

func TestSelectTorrents_ConcurrentCatalogRuns(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	items := make([]tracker.CandidateItem, 0, 40)
	for i := int64(1); i <= 40; i++ {
		items = append(items, candidate(i, fmt.Sprintf("Book %d", i), "Author", "m4b"))
	}

	req := decisioning.Request{Cost: decisioning.CostMetadataOnly}
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SelectTorrents(ctx, tracker.Items(items), req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := f.store.ListLibraryItems(ctx)
	require.NoError(t, err)
	perID := make(map[int64]int)
	for _, lib := range all {
		require.NotNil(t, lib.MamID)
		perID[*lib.MamID]++
	}
	assert.Len(t, perID, 40)
	for id, n := range perID {
		assert.Equal(t, 1, n, "torrent %d cataloged %d times", id, n)
	}
}

func TestSelectTorrents_ScenarioD_NoPreferredFormat(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	item := candidate(9, "Neuromancer", "William Gibson", "mobi")
	item.MainCat = 14

	assert.Equal(t, 0, f.run(t, freeRequest(), item))
	assert.Empty(t, f.selectedIDs(t))

	count, err := f.store.CountDuplicates(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSelectTorrents_OwnedItems(t *testing.T) {
	ctx := context.Background()

	t.Run("owned better copy makes duplicate", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
			return q.InsertLibraryItem(ctx, &models.LibraryItem{
				ID:    "owned-m4b",
				MamID: testutil.Int64Ptr(100),
				Meta:  testutil.NewMeta(100, "Dune", "Frank Herbert", "m4b"),
			})
		}))

		assert.Equal(t, 0, f.run(t, freeRequest(), candidate(1, "Dune", "Frank Herbert", "mp3")))

		dup, err := f.store.GetDuplicate(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, dup.DuplicateOf)
		assert.Equal(t, "owned-m4b", *dup.DuplicateOf)
	})

	t.Run("better candidate is accepted and owned item kept", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
			return q.InsertLibraryItem(ctx, &models.LibraryItem{
				ID:    "owned-mp3",
				MamID: testutil.Int64Ptr(100),
				Meta:  testutil.NewMeta(100, "Dune", "Frank Herbert", "mp3"),
			})
		}))

		assert.Equal(t, 1, f.run(t, freeRequest(), candidate(1, "Dune", "Frank Herbert", "m4b")))

		lib, err := f.store.GetLibraryItem(ctx, "owned-mp3")
		require.NoError(t, err)
		assert.Nil(t, lib.ReplacedWith)
	})
}

func TestSelectTorrents_Filters(t *testing.T) {
	cfg := defaultConfig()
	cfg.Ignore = map[int64]struct{}{1: {}}
	f := newFixture(t, cfg)

	notFree := candidate(2, "Leviathan Wakes", "James S. A. Corey", "m4b")
	notFree.Free = false
	unknown := candidate(3, "Radio Show", "Host", "mp3")
	unknown.MainCat = 99

	accepted := f.run(t, freeRequest(),
		candidate(1, "Ignored", "Nobody", "m4b"),
		notFree,
		unknown,
		candidate(4, "Caliban's War", "James S. A. Corey", "m4b"),
	)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []int64{4}, f.selectedIDs(t))

	ratio := freeRequest()
	ratio.Cost = decisioning.CostRatio
	assert.Equal(t, 1, f.run(t, ratio, notFree))
	st, err := f.store.GetSelected(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, models.CostRatio, st.Cost)
}

func TestSelectTorrents_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing download link aborts the run", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		noLink := candidate(2, "Abaddon's Gate", "James S. A. Corey", "m4b")
		noLink.DlLink = ""

		n, err := f.engine.SelectTorrents(ctx, tracker.Items([]tracker.CandidateItem{
			candidate(1, "Leviathan Wakes", "James S. A. Corey", "m4b"),
			noLink,
			candidate(3, "Cibola Burn", "James S. A. Corey", "m4b"),
		}), freeRequest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, decisioning.ErrMissingDownloadLink))
		assert.Equal(t, 1, n)
		assert.Equal(t, []int64{1}, f.selectedIDs(t), "earlier decisions stay committed")
	})

	t.Run("malformed size aborts the run", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		bad := candidate(2, "Bad", "Someone", "m4b")
		bad.Size = "lots"

		_, err := f.engine.SelectTorrents(ctx, tracker.Items([]tracker.CandidateItem{bad}), freeRequest())
		require.Error(t, err)
		assert.False(t, errors.Is(err, tracker.ErrUnknownMediaType))
	})

	t.Run("sequence error aborts the run", func(t *testing.T) {
		f := newFixture(t, defaultConfig())
		boom := errors.New("search failed")
		seq := func(yield func(tracker.CandidateItem, error) bool) {
			if !yield(candidate(1, "Leviathan Wakes", "James S. A. Corey", "m4b"), nil) {
				return
			}
			yield(tracker.CandidateItem{}, boom)
		}

		n, err := f.engine.SelectTorrents(ctx, seq, freeRequest())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, n)
	})
}

func TestSelectTorrents_TagRules(t *testing.T) {
	cfg := defaultConfig()
	cfg.TagRules = []decisioning.TagRule{
		{Authors: []string{"Brandon Sanderson"}, Category: "cosmere", Tags: []string{"sanderson"}},
	}
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.run(t, freeRequest(), candidate(1, "Elantris", "Brandon Sanderson", "m4b"))
	st, err := f.store.GetSelected(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "cosmere", st.Category)
	assert.Equal(t, []string{"sanderson"}, st.Tags)

	override := freeRequest()
	override.Category = "manual"
	f.run(t, override, candidate(2, "Warbreaker", "Brandon Sanderson", "m4b"))
	st, err = f.store.GetSelected(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "manual", st.Category)
	assert.Equal(t, []string{"sanderson"}, st.Tags)
}

func TestSelectTorrents_MetadataChangesAreAudited(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	f.run(t, freeRequest(), candidate(5, "Red Rising", "Pierce Brown", "m4b"))

	changed := candidate(5, "Red Rising", "Pierce Brown", "m4b")
	changed.Narrators = map[string]string{"1": "Tim Gerard Reynolds"}
	assert.Equal(t, 0, f.run(t, freeRequest(), changed))

	st, err := f.store.GetSelected(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tim Gerard Reynolds"}, st.Meta.Narrators)

	events, err := f.history.ListByMamID(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventUpdated, events[0].Kind)
	assert.Equal(t, models.SourceTracker, events[0].Source)
	require.Len(t, events[0].Fields, 1)
	assert.Equal(t, models.FieldNarrators, events[0].Fields[0].Field)
	assert.Equal(t, "Tim Gerard Reynolds", events[0].Fields[0].To)

	silent := changed
	silent.NumFiles = 20
	f.run(t, freeRequest(), silent)
	events, err = f.history.ListByMamID(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, events, 1, "file count changes are applied silently")
}

func TestUpdateLibraryMeta_NotifiesSinks(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	linked := &models.LibraryItem{
		ID:           "linked",
		MamID:        testutil.Int64Ptr(8),
		Meta:         testutil.NewMeta(8, "Old", "Author", "m4b"),
		LibraryPath:  "/library/Author/Old",
		LibraryFiles: []string{"Old.m4b"},
	}
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertLibraryItem(ctx, linked)
	}))

	fresh := testutil.NewMeta(8, "New", "Author", "m4b")
	require.NoError(t, f.engine.UpdateLibraryMeta(ctx, "linked", fresh, decisioning.UpdateOptions{}))

	got, err := f.store.GetLibraryItem(ctx, "linked")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Meta.Title)
	assert.Equal(t, []string{"linked"}, f.sink.items, "sink errors are logged only")

	events, err := f.history.ListByLibraryItem(ctx, "linked")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.FieldTitle, events[0].Fields[0].Field)

	err = f.engine.UpdateLibraryMeta(ctx, "missing", fresh, decisioning.UpdateOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateSelectedMeta_NonTrackerSource(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	manual := testutil.NewMeta(9, "Curated Title", "Author", "m4b")
	manual.Source = models.SourceManual
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, &models.SelectedTorrent{MamID: 9, DlLink: "dl-9", Cost: models.CostRatio, Meta: manual})
	}))

	fresh := testutil.NewMeta(9, "Tracker Title", "Author", "m4b")
	fresh.UploadedAt = fresh.UploadedAt.Add(time.Hour)
	require.NoError(t, f.engine.UpdateSelectedMeta(ctx, 9, fresh, decisioning.UpdateOptions{}))

	st, err := f.store.GetSelected(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "Curated Title", st.Meta.Title)
	assert.True(t, st.Meta.UploadedAt.Equal(fresh.UploadedAt))

	events, err := f.history.ListByMamID(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSelectTorrents_HoldsClassLock(t *testing.T) {
	f := newFixture(t, defaultConfig())

	var mu sync.Mutex
	mu.Lock()

	req := freeRequest()
	req.Lock = &mu
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.engine.SelectTorrents(context.Background(), tracker.Items([]tracker.CandidateItem{
			candidate(1, "Dune", "Frank Herbert", "m4b"),
		}), req)
	}()

	select {
	case <-done:
		t.Fatal("run started while the class lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after the lock was released")
	}
	assert.Equal(t, []int64{1}, f.selectedIDs(t))
}

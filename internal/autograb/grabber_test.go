package autograb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/testutil"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
	"github.com/shelfgrab/shelfgrab/internal/tracker/mock"
)

func books(n int) []tracker.CandidateItem {
	items := make([]tracker.CandidateItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, tracker.CandidateItem{
			ID:        int64(i),
			Title:     fmt.Sprintf("Book %d", i),
			Authors:   map[string]string{"1": fmt.Sprintf("Author %d", i)},
			Filetypes: []string{"m4b"},
			Size:      "300 MiB",
			MainCat:   13,
			Free:      true,
			DlLink:    fmt.Sprintf("dl-%d", i),
			OwnerName: "owner",
		})
	}
	return items
}

func newEngine(t *testing.T) (*store.Store, *decisioning.Engine) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	cfg, err := decisioning.ConfigFromSearch(config.Default().Search)
	require.NoError(t, err)
	hist := history.NewService(tdb.Store, tdb.Logger)
	return tdb.Store, decisioning.NewEngine(tdb.Store, hist, nil, cfg, tdb.Logger)
}

func TestGrabber_RunPaginatesIntoEngine(t *testing.T) {
	st, engine := newEngine(t)
	client := mock.NewClient(books(5), 2)

	g := NewGrabber(config.GrabberConfig{
		Name:        "everything",
		Cost:        config.CostFree,
		MaxPages:    2,
		UnsatBuffer: testutil.IntPtr(4),
		Category:    "books",
	}, client, engine, &sync.Mutex{}, 0, testutil.NopLogger())

	require.NoError(t, g.Run(context.Background()))

	selected, err := st.ListSelected(context.Background())
	require.NoError(t, err)
	assert.Len(t, selected, 4, "only two pages of two are read")
	for _, s := range selected {
		assert.Equal(t, "everything", s.Grabber)
		assert.Equal(t, "books", s.Category)
		assert.Equal(t, 4, *s.UnsatBuffer)
	}
	assert.Len(t, client.Queries(), 2)
}

func TestGrabber_MaxAccept(t *testing.T) {
	st, engine := newEngine(t)
	client := mock.NewClient(books(5), 10)

	g := NewGrabber(config.GrabberConfig{Name: "limited", Cost: config.CostFree, MaxAccept: testutil.IntPtr(2)},
		client, engine, &sync.Mutex{}, 0, testutil.NopLogger())
	require.NoError(t, g.Run(context.Background()))

	selected, err := st.ListSelected(context.Background())
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func TestGrabber_SearchErrorFailsRun(t *testing.T) {
	_, engine := newEngine(t)
	client := mock.NewClient(books(1), 10)
	client.FailWith(tracker.ErrRateLimit)

	g := NewGrabber(config.GrabberConfig{Name: "broken", Cost: config.CostFree}, client, engine, nil, 0, testutil.NopLogger())
	err := g.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracker.ErrRateLimit))
	assert.Contains(t, err.Error(), "broken")
}

func TestSnatchlist_CatalogsOwnedItems(t *testing.T) {
	st, engine := newEngine(t)
	client := mock.NewClient(books(3), 10)

	g := NewSnatchlist(config.GrabberConfig{Name: "snatched"}, client, engine, &sync.Mutex{}, 0, testutil.NopLogger())
	assert.Equal(t, decisioning.CostMetadataOnlyAdd, g.Request().Cost)
	assert.Equal(t, "snatched", g.Name())

	require.NoError(t, g.Run(context.Background()))

	queries := client.Queries()
	require.NotEmpty(t, queries)
	assert.Equal(t, tracker.KindSnatched, queries[0].Kind)

	items, err := st.ListLibraryItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Empty(t, item.LibraryFiles)
		assert.Equal(t, "owner", item.OwnerName)
		assert.Equal(t, models.ClientStatusOK, item.ClientStatus)
	}

	selected, err := st.ListSelected(context.Background())
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestQueryFromConfig(t *testing.T) {
	q := QueryFromConfig(config.QueryConfig{
		Text:       "sanderson",
		SearchIn:   []string{"author"},
		Categories: []string{"41"},
		Languages:  []string{"1"},
		MinSize:    10,
		MaxSize:    20,
	})
	assert.Equal(t, tracker.KindSearch, q.Kind)
	assert.Equal(t, "sanderson", q.Text)
	assert.Equal(t, []string{"author"}, q.SearchIn)
	assert.Equal(t, int64(20), q.MaxSize)
}

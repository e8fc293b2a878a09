package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/downloader"
	dlmock "github.com/shelfgrab/shelfgrab/internal/downloader/mock"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/testutil"
)

var preferred = map[models.MediaType][]string{
	models.MediaTypeAudiobook: {"m4b", "mp3"},
	models.MediaTypeEbook:     {"epub", "pdf"},
}

type countingFirer struct{ n int }

func (c *countingFirer) Fire() { c.n++ }

type fixture struct {
	t           *testing.T
	store       *store.Store
	history     *history.Service
	client      *dlmock.Client
	downloadDir string
	libraryDir  string
	cleaner     *countingFirer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return &fixture{
		t:           t,
		store:       tdb.Store,
		history:     history.NewService(tdb.Store, tdb.Logger),
		client:      dlmock.New(""),
		downloadDir: t.TempDir(),
		libraryDir:  t.TempDir(),
		cleaner:     &countingFirer{},
	}
}

func (f *fixture) linker(category string) *Linker {
	cfg := config.LinkerConfig{
		Name:         "audio",
		DownloadDir:  f.downloadDir,
		LibraryDir:   f.libraryDir,
		Category:     category,
		WriteSidecar: true,
	}
	return NewLinker(cfg, f.store, f.history, f.client, preferred, f.cleaner, testutil.NopLogger())
}

// download registers a started selection with a completed torrent holding
// files under the download dir.
func (f *fixture) download(mamID int64, meta models.ItemMeta, category string, files ...string) string {
	f.t.Helper()
	hash := fmt.Sprintf("%040x", mamID)
	ctx := context.Background()

	require.NoError(f.t, f.client.Add(ctx, downloader.AddOptions{Hash: hash, FileContent: []byte("x"), Category: category}))
	var dlFiles []downloader.File
	for _, name := range files {
		path := filepath.Join(f.downloadDir, filepath.FromSlash(name))
		require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(f.t, os.WriteFile(path, []byte(name), 0o644))
		dlFiles = append(dlFiles, downloader.File{Path: name, Size: int64(len(name))})
	}
	f.client.Complete(hash, dlFiles...)

	now := time.Now().UTC()
	sel := &models.SelectedTorrent{
		MamID:     mamID,
		Hash:      &hash,
		DlLink:    fmt.Sprintf("dl-%d", mamID),
		Cost:      models.CostGlobalFreeleech,
		Category:  category,
		Meta:      meta,
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(f.t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, sel)
	}))
	return hash
}

func TestLinker_LinksCompletedDownload(t *testing.T) {
	f := newFixture(t)
	meta := testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b", "mp3")
	meta.Series = []models.Series{{Name: "Dune", Entries: "1"}}
	hash := f.download(1, meta, "audiobooks",
		"Dune/Dune.m4b", "Dune/Dune.mp3", "Dune/cover.jpg")

	require.NoError(t, f.linker("audiobooks").Run(context.Background()))

	item, err := f.store.GetLibraryItem(context.Background(), hash)
	require.NoError(t, err)
	dir := filepath.Join(f.libraryDir, "Frank Herbert", "Dune #1", "Dune")
	assert.Equal(t, dir, item.LibraryPath)
	assert.ElementsMatch(t, []string{"Dune.m4b", "cover.jpg"}, item.LibraryFiles)
	assert.Equal(t, "m4b", item.SelectedAudioFormat)
	assert.Equal(t, "audio", item.Linker)

	assert.FileExists(t, filepath.Join(dir, "Dune.m4b"))
	assert.FileExists(t, filepath.Join(dir, "cover.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "Dune.mp3"))
	assert.FileExists(t, filepath.Join(f.downloadDir, "Dune", "Dune.m4b"), "source stays for seeding")

	raw, err := os.ReadFile(filepath.Join(dir, SidecarName))
	require.NoError(t, err)
	var sm sidecarMeta
	require.NoError(t, json.Unmarshal(raw, &sm))
	assert.Equal(t, "Dune", sm.Title)
	assert.Equal(t, []string{"Frank Herbert"}, sm.Authors)
	assert.Equal(t, []string{"Dune #1"}, sm.Series)
	assert.Equal(t, "1", sm.MamID)

	_, err = f.store.GetSelected(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	linked, err := f.history.List(context.Background(), history.ListOptions{Kind: models.EventLinked})
	require.NoError(t, err)
	require.Len(t, linked.Items, 1)
	assert.Equal(t, dir, linked.Items[0].LibraryPath)
	assert.Equal(t, 1, f.cleaner.n)
	assert.Equal(t, models.ClientStatusOK, item.ClientStatus)
}

func TestLinker_SkipsIncompleteAndOtherCategories(t *testing.T) {
	f := newFixture(t)
	f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b"), "ebooks", "Dune.m4b")

	hash := fmt.Sprintf("%040x", 2)
	ctx := context.Background()
	require.NoError(t, f.client.Add(ctx, downloader.AddOptions{Hash: hash, FileContent: []byte("x")}))
	now := time.Now().UTC()
	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, &models.SelectedTorrent{
			MamID: 2, Hash: &hash, DlLink: "dl-2", Cost: models.CostRatio,
			Category: "audiobooks", Meta: testutil.NewMeta(2, "Emma", "Jane Austen", "mp3"),
			CreatedAt: now, StartedAt: &now,
		})
	}))

	require.NoError(t, f.linker("audiobooks").Run(ctx))

	items, err := f.store.ListLibraryItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	started, err := f.store.ListStartedSelected(ctx)
	require.NoError(t, err)
	assert.Len(t, started, 2)
}

func TestLinker_ClientFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b"), "audiobooks", "Dune.m4b")
	f.client.FailWith(downloader.ErrNotConnected)

	err := f.linker("").Run(context.Background())
	assert.ErrorIs(t, err, downloader.ErrNotConnected)
}

func TestLinker_ReplacesWorseCopyAndCleans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldHash := f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "mp3"), "audiobooks", "old/Dune.mp3")
	require.NoError(t, f.linker("").Run(ctx))

	newHash := f.download(2, testutil.NewMeta(2, "Dune", "Frank Herbert", "m4b"), "audiobooks", "new/Dune.m4b")
	require.NoError(t, f.linker("").Run(ctx))
	assert.Equal(t, 2, f.cleaner.n)

	old, err := f.store.GetLibraryItem(ctx, oldHash)
	require.NoError(t, err)
	require.NotNil(t, old.ReplacedWith)
	assert.Equal(t, newHash, old.ReplacedWith.ID)

	// Both copies share a folder; the old file is removed, the new one stays.
	dir := old.LibraryPath
	assert.FileExists(t, filepath.Join(dir, "Dune.mp3"))

	cleaner := NewCleaner([]string{f.libraryDir}, f.store, f.history, testutil.NopLogger())
	require.NoError(t, cleaner.Run(ctx))

	assert.NoFileExists(t, filepath.Join(dir, "Dune.mp3"))
	assert.FileExists(t, filepath.Join(dir, "Dune.m4b"))
	assert.FileExists(t, filepath.Join(dir, SidecarName))

	old, err = f.store.GetLibraryItem(ctx, oldHash)
	require.NoError(t, err)
	assert.Empty(t, old.LibraryFiles)
	assert.Empty(t, old.LibraryPath)

	cleaned, err := f.history.List(ctx, history.ListOptions{Kind: models.EventCleaned})
	require.NoError(t, err)
	require.Len(t, cleaned.Items, 1)
	assert.Equal(t, []string{"Dune.mp3"}, cleaned.Items[0].Files)

	// Nothing left to clean.
	require.NoError(t, cleaner.Run(ctx))
	cleaned, err = f.history.List(ctx, history.ListOptions{Kind: models.EventCleaned})
	require.NoError(t, err)
	assert.Len(t, cleaned.Items, 1)
}

func TestLinker_KeepsBetterCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	goodHash := f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b"), "audiobooks", "a/Dune.m4b")
	require.NoError(t, f.linker("").Run(ctx))
	f.download(2, testutil.NewMeta(2, "Dune", "Frank Herbert", "mp3"), "audiobooks", "b/Dune.mp3")
	require.NoError(t, f.linker("").Run(ctx))

	good, err := f.store.GetLibraryItem(ctx, goodHash)
	require.NoError(t, err)
	assert.Nil(t, good.ReplacedWith)
}

func TestLinker_FiresCleanerOnlyAfterLinking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.linker("").Run(ctx))
	assert.Zero(t, f.cleaner.n)

	f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b"), "audiobooks", "a/Dune.m4b")
	f.download(2, testutil.NewMeta(2, "Emma", "Jane Austen", "m4b"), "audiobooks", "b/Emma.m4b")
	require.NoError(t, f.linker("").Run(ctx))
	assert.Equal(t, 1, f.cleaner.n)

	require.NoError(t, f.linker("").Run(ctx))
	assert.Equal(t, 1, f.cleaner.n)
}

func TestLinker_TracksClientStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hash := f.download(1, testutil.NewMeta(1, "Dune", "Frank Herbert", "m4b"), "audiobooks", "a/Dune.m4b")
	require.NoError(t, f.linker("").Run(ctx))

	f.client.Remove(hash)
	require.NoError(t, f.linker("").Run(ctx))
	item, err := f.store.GetLibraryItem(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, models.ClientStatusNotInClient, item.ClientStatus)

	require.NoError(t, f.client.Add(ctx, downloader.AddOptions{Hash: hash, FileContent: []byte("x")}))
	require.NoError(t, f.linker("").Run(ctx))
	item, err = f.store.GetLibraryItem(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, models.ClientStatusOK, item.ClientStatus)

	// Items of other linkers are not checked.
	f.client.Remove(hash)
	other := f.linker("")
	other.cfg.Name = "ebooks"
	require.NoError(t, other.Run(ctx))
	item, err = f.store.GetLibraryItem(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, models.ClientStatusOK, item.ClientStatus)
}

func TestCleaner_RemovesEmptyFolders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dir := ItemDir(f.libraryDir, testutil.NewMeta(1, "Emma", "Jane Austen"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CD1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CD1", "01.mp3"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SidecarName), []byte("{}"), 0o644))

	require.NoError(t, f.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertLibraryItem(ctx, &models.LibraryItem{
			ID:           "old",
			Meta:         testutil.NewMeta(1, "Emma", "Jane Austen"),
			LibraryPath:  dir,
			LibraryFiles: []string{"CD1/01.mp3"},
			ReplacedWith: &models.ReplacedWith{ID: "new", At: time.Now().UTC()},
		})
	}))

	require.NoError(t, NewCleaner([]string{f.libraryDir}, f.store, f.history, testutil.NopLogger()).Run(ctx))

	assert.NoDirExists(t, filepath.Join(f.libraryDir, "Jane Austen"))
	assert.DirExists(t, f.libraryDir)
}

func TestItemDir(t *testing.T) {
	meta := testutil.NewMeta(1, "Harry Potter: The Goblet of Fire", "J.K. Rowling")
	assert.Equal(t,
		filepath.Join("/lib", "J.K. Rowling", "Harry Potter - The Goblet of Fire"),
		ItemDir("/lib", meta))

	meta.Series = []models.Series{{Name: "Harry Potter", Entries: "4"}}
	meta.Edition = &models.Edition{Name: "Full Cast"}
	assert.Equal(t,
		filepath.Join("/lib", "J.K. Rowling", "Harry Potter #4", "Harry Potter - The Goblet of Fire (Full Cast)"),
		ItemDir("/lib", meta))

	meta.Authors = nil
	meta.Series = nil
	meta.Edition = nil
	meta.Title = "A/B?"
	assert.Equal(t, filepath.Join("/lib", unknownAuthor, "AB"), ItemDir("/lib", meta))
}

func TestFileSelection(t *testing.T) {
	files := []string{"Book/a.mp3", "Book/b.MP3", "Book/book.m4b", "Book/cover.jpg", "Book/info.txt"}

	assert.Equal(t, "m4b", chooseFormat(files, []string{"m4b", "mp3"}))
	assert.Equal(t, "mp3", chooseFormat(files, []string{"flac", "mp3"}))
	assert.Equal(t, "", chooseFormat(files, []string{"epub"}))

	assert.Equal(t, []string{"Book/a.mp3", "Book/b.MP3", "Book/cover.jpg"}, selectFiles(files, "mp3"))
	assert.Equal(t, files, selectFiles(files, ""))

	assert.Equal(t, map[string]string{"Book/a.mp3": "a.mp3", "Book/CD2/b.mp3": "CD2/b.mp3"},
		relativePaths([]string{"Book/a.mp3", "Book/CD2/b.mp3"}))
	assert.Equal(t, map[string]string{"a.mp3": "a.mp3", "Book/b.mp3": "Book/b.mp3"},
		relativePaths([]string{"a.mp3", "Book/b.mp3"}))
}

func TestSidecar_SkipsUnlinkedItems(t *testing.T) {
	s := NewSidecar(testutil.NopLogger(), "audio")
	require.NoError(t, s.Apply(context.Background(), &models.LibraryItem{ID: "x", Linker: "audio"}))
	assert.Error(t, s.Apply(context.Background(), &models.LibraryItem{ID: "x", Linker: "audio", LibraryPath: filepath.Join(t.TempDir(), "missing")}))
}

func TestSidecar_OnlyEnabledLinkers(t *testing.T) {
	s := NewSidecar(testutil.NopLogger(), "audio")
	ctx := context.Background()
	meta := testutil.NewMeta(1, "Emma", "Jane Austen", "epub")

	ebookDir := t.TempDir()
	require.NoError(t, s.Apply(ctx, &models.LibraryItem{ID: "e", Linker: "ebooks", LibraryPath: ebookDir, Meta: meta}))
	assert.NoFileExists(t, filepath.Join(ebookDir, SidecarName))

	audioDir := t.TempDir()
	require.NoError(t, s.Apply(ctx, &models.LibraryItem{ID: "a", Linker: "audio", LibraryPath: audioDir, Meta: meta}))
	assert.FileExists(t, filepath.Join(audioDir, SidecarName))
}

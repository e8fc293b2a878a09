// Package testutil provides helpers for tests that need a real database.
package testutil

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/database"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

// TestDB wraps a migrated test database.
type TestDB struct {
	DB     *database.DB
	Store  *store.Store
	Conn   *sql.DB
	Path   string
	Logger zerolog.Logger
}

// NewTestDB creates a migrated database in a temp directory. It is closed
// and removed when the test ends; calling Close earlier is allowed.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "shelfgrab_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	logger := NewTestLogger(t)

	db, err := database.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	tdb := &TestDB{
		DB:     db,
		Store:  store.NewStore(db.Conn()),
		Conn:   db.Conn(),
		Path:   tmpDir,
		Logger: logger,
	}
	t.Cleanup(tdb.Close)
	return tdb
}

// Close closes the database and removes the temp directory.
func (tdb *TestDB) Close() {
	if tdb.DB != nil {
		tdb.DB.Close()
		tdb.DB = nil
	}
	if tdb.Path != "" {
		os.RemoveAll(tdb.Path)
		tdb.Path = ""
	}
}

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// NewMeta builds tracker-sourced audiobook metadata for tests.
func NewMeta(mamID int64, title, author string, filetypes ...string) models.ItemMeta {
	return models.ItemMeta{
		IDs:        map[models.IDNamespace]string{models.IDMam: strconv.FormatInt(mamID, 10)},
		MediaType:  models.MediaTypeAudiobook,
		MainCat:    models.MainCatAudio,
		Language:   "English",
		Filetypes:  filetypes,
		NumFiles:   1,
		Size:       400 << 20,
		Title:      title,
		Authors:    []string{author},
		Source:     models.SourceTracker,
		UploadedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// StringPtr returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to an int.
func IntPtr(i int) *int {
	return &i
}

// Int64Ptr returns a pointer to an int64.
func Int64Ptr(i int64) *int64 {
	return &i
}

// TimePtr returns a pointer to a time.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// TorrentFile builds a single-file .torrent and returns it with its infohash.
func TorrentFile(t *testing.T, name string, length int64) ([]byte, string) {
	t.Helper()

	info := metainfo.Info{
		Name:        name,
		PieceLength: 16 << 10,
		Length:      length,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to encode torrent info: %v", err)
	}

	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("Failed to write torrent: %v", err)
	}
	return buf.Bytes(), mi.HashInfoBytes().HexString()
}

package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/models"
)

// SidecarName is the metadata file written next to linked files.
const SidecarName = "metadata.json"

// sidecarMeta is the on-disk metadata format read by library servers.
type sidecarMeta struct {
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle,omitempty"`
	Authors       []string `json:"authors"`
	Narrators     []string `json:"narrators"`
	Series        []string `json:"series"`
	Genres        []string `json:"genres"`
	Tags          []string `json:"tags"`
	Language      string   `json:"language,omitempty"`
	Description   string   `json:"description,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
	ASIN          string   `json:"asin,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	MamID         string   `json:"mamId,omitempty"`
}

// Sidecar writes metadata.json into item folders. It is a metadata sink,
// so metadata updates rewrite the file.
type Sidecar struct {
	linkers map[string]bool
	logger  zerolog.Logger
}

var _ decisioning.MetadataSink = (*Sidecar)(nil)

// NewSidecar creates a sidecar writer for items placed by the named
// linkers. Items of other linkers are left alone.
func NewSidecar(logger zerolog.Logger, linkers ...string) *Sidecar {
	enabled := make(map[string]bool, len(linkers))
	for _, name := range linkers {
		enabled[name] = true
	}
	return &Sidecar{
		linkers: enabled,
		logger:  logger.With().Str("component", "sidecar").Logger(),
	}
}

// Apply atomically rewrites the item's metadata.json.
func (s *Sidecar) Apply(_ context.Context, item *models.LibraryItem) error {
	if item.LibraryPath == "" || !s.linkers[item.Linker] {
		return nil
	}
	if _, err := os.Stat(item.LibraryPath); err != nil {
		return fmt.Errorf("library folder of %s: %w", item.ID, err)
	}

	data, err := renderSidecar(item.Meta)
	if err != nil {
		return err
	}

	path := filepath.Join(item.LibraryPath, SidecarName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Debug().Str("id", item.ID).Str("path", path).Msg("Wrote sidecar")
	return nil
}

func renderSidecar(meta models.ItemMeta) ([]byte, error) {
	sm := sidecarMeta{
		Title:       meta.Title,
		Authors:     nonNil(meta.Authors),
		Narrators:   nonNil(meta.Narrators),
		Series:      []string{},
		Genres:      nonNil(meta.Categories),
		Tags:        nonNil(meta.Tags),
		Language:    meta.Language,
		Description: meta.Description,
		ISBN:        meta.IDs[models.IDISBN],
		ASIN:        meta.IDs[models.IDASIN],
		MamID:       meta.IDs[models.IDMam],
	}
	if meta.Edition != nil {
		sm.Subtitle = meta.Edition.Name
	}
	for _, series := range meta.Series {
		name := series.Name
		if series.Entries != "" {
			name += " #" + series.Entries
		}
		sm.Series = append(sm.Series, name)
	}
	if !meta.UploadedAt.IsZero() {
		sm.PublishedDate = meta.UploadedAt.UTC().Format("2006-01-02")
	}

	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return append(data, '\n'), nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Package decisioning is the selection and deduplication engine. It turns a
// stream of tracker candidates into selections, duplicate records and
// catalog entries, reconciling each candidate against the store.
package decisioning

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
)

// ErrMissingDownloadLink is returned when an accepted candidate has no
// download link token.
var ErrMissingDownloadLink = errors.New("missing download link")

// CostPolicy is the configured way a pipeline pays for grabs.
type CostPolicy string

const (
	CostFree            CostPolicy = config.CostFree
	CostWedge           CostPolicy = config.CostWedge
	CostTryWedge        CostPolicy = config.CostTryWedge
	CostRatio           CostPolicy = config.CostRatio
	CostMetadataOnly    CostPolicy = config.CostMetadataOnly
	CostMetadataOnlyAdd CostPolicy = config.CostMetadataOnlyAdd
)

// MetadataOnly reports whether the policy only catalogs items.
func (c CostPolicy) MetadataOnly() bool {
	return c == CostMetadataOnly || c == CostMetadataOnlyAdd
}

// Request is one engine run.
type Request struct {
	Cost        CostPolicy
	UnsatBuffer *int
	WedgeBuffer *int
	Category    string
	DryRun      bool
	// MaxAccept caps the accepted count; nil means unlimited.
	MaxAccept *int
	Grabber   string
	// Lock is held for the whole run when set.
	Lock sync.Locker
}

// Config holds the selection rules shared by all runs.
type Config struct {
	Preferred map[models.MediaType][]string
	Ignore    map[int64]struct{}
	TagRules  []TagRule
}

// ConfigFromSearch builds engine rules from the search configuration.
func ConfigFromSearch(sc config.SearchConfig) (Config, error) {
	cfg := Config{
		Preferred: map[models.MediaType][]string{
			models.MediaTypeAudiobook: filetypeList(sc.AudioTypes),
			models.MediaTypeEbook:     filetypeList(sc.EbookTypes),
		},
		Ignore: make(map[int64]struct{}, len(sc.IgnoreTorrents)),
	}
	for _, id := range sc.IgnoreTorrents {
		cfg.Ignore[id] = struct{}{}
	}

	for i, rc := range sc.TagRules {
		rule := TagRule{
			Categories: rc.Categories,
			Languages:  rc.Languages,
			Authors:    rc.Authors,
			Category:   rc.Category,
			Tags:       rc.Tags,
		}
		for _, name := range rc.Flags {
			flag, ok := models.ParseFlag(strings.ToLower(strings.TrimSpace(name)))
			if !ok {
				return Config{}, fmt.Errorf("tag rule %d: unknown flag %q", i, name)
			}
			rule.Flags |= flag
		}
		cfg.TagRules = append(cfg.TagRules, rule)
	}

	return cfg, nil
}

func filetypeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ft := range in {
		if ft = normalize.Filetype(ft); ft != "" {
			out = append(out, ft)
		}
	}
	return out
}

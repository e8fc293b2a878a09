package tracker

import (
	"fmt"
	"html"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
)

const addedLayout = "2006-01-02 15:04:05"

var mainCats = map[int]struct {
	mediaType models.MediaType
	mainCat   models.MainCat
}{
	13: {models.MediaTypeAudiobook, models.MainCatAudio},
	14: {models.MediaTypeEbook, models.MainCatEbook},
	15: {models.MediaTypeMusicology, models.MainCatMusicology},
	16: {models.MediaTypeRadio, models.MainCatRadio},
}

var sizeUnits = map[string]float64{
	"b":   1,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"gb":  1 << 30,
	"gib": 1 << 30,
	"tb":  1 << 40,
	"tib": 1 << 40,
}

// ToMeta converts a search result into normalized metadata. Candidates in
// an unknown main category yield ErrUnknownMediaType; any other malformed
// field is returned as a wrapped error.
func ToMeta(item CandidateItem) (models.ItemMeta, error) {
	cat, ok := mainCats[item.MainCat]
	if !ok {
		return models.ItemMeta{}, fmt.Errorf("torrent %d main_cat %d: %w", item.ID, item.MainCat, ErrUnknownMediaType)
	}

	size, err := ParseSize(item.Size)
	if err != nil {
		return models.ItemMeta{}, fmt.Errorf("torrent %d: %w", item.ID, err)
	}

	var uploaded time.Time
	if item.Added != "" {
		uploaded, err = time.ParseInLocation(addedLayout, item.Added, time.UTC)
		if err != nil {
			return models.ItemMeta{}, fmt.Errorf("torrent %d added %q: %w", item.ID, item.Added, err)
		}
	}

	series := make([]models.Series, 0, len(item.Series))
	for _, id := range sortedKeys(item.Series) {
		ref := item.Series[id]
		name := strings.TrimSpace(html.UnescapeString(ref.Name))
		if name == "" {
			return models.ItemMeta{}, fmt.Errorf("torrent %d: series %s has an empty name", item.ID, id)
		}
		series = append(series, models.Series{Name: name, Entries: strings.TrimSpace(ref.Number)})
	}

	title, edition := normalize.ParseEdition(html.UnescapeString(item.Title))

	meta := models.ItemMeta{
		IDs:         map[models.IDNamespace]string{models.IDMam: strconv.FormatInt(item.ID, 10)},
		MediaType:   cat.mediaType,
		MainCat:     cat.mainCat,
		Categories:  categories(item.CategoryName),
		Tags:        splitTags(item.Tags),
		Language:    item.Language,
		Flags:       models.Flags(item.BrowseFlags) & allFlags,
		Filetypes:   filetypes(item.Filetypes),
		NumFiles:    item.NumFiles,
		Size:        size,
		Title:       title,
		Edition:     edition,
		Description: normalize.CleanHTML(item.Description),
		Authors:     names(item.Authors),
		Narrators:   names(item.Narrators),
		Source:      models.SourceTracker,
		Vip:         models.VipStatus{Vip: item.Vip},
		UploadedAt:  uploaded,
	}
	if len(series) > 0 {
		meta.Series = series
	}
	if item.Vip && item.VipExpire > 0 {
		until := time.Unix(item.VipExpire, 0).UTC()
		meta.Vip.Until = &until
	}
	if isbn := strings.TrimSpace(item.ISBN); isbn != "" {
		if asin, ok := cutPrefixFold(isbn, "asin:"); ok {
			meta.IDs[models.IDASIN] = strings.TrimSpace(asin)
		} else {
			meta.IDs[models.IDISBN] = isbn
		}
	}

	return meta, nil
}

const allFlags = models.FlagCrudeLanguage | models.FlagViolence | models.FlagSomeExplicit |
	models.FlagExplicit | models.FlagAbridged | models.FlagLGBT

// ParseSize parses a human size such as "1.2 GiB" or a plain byte count.
func ParseSize(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	idx := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if idx <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	value, err := strconv.ParseFloat(s[:idx], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	unit, ok := sizeUnits[strings.ToLower(strings.TrimSpace(s[idx:]))]
	if !ok {
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
	return int64(math.Round(value * unit)), nil
}

// names returns map values ordered by their numeric id.
func names(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, id := range sortedKeys(m) {
		if name := strings.TrimSpace(html.UnescapeString(m[id])); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai, aErr := strconv.ParseInt(a, 10, 64)
		bi, bErr := strconv.ParseInt(b, 10, 64)
		if aErr == nil && bErr == nil {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			}
			return 0
		}
		return strings.Compare(a, b)
	})
	return keys
}

func filetypes(in []string) []string {
	var out []string
	for _, ft := range in {
		ft = normalize.Filetype(ft)
		if ft != "" && !slices.Contains(out, ft) {
			out = append(out, ft)
		}
	}
	return out
}

// categories turns "Audiobooks - Fantasy" into ["Fantasy"].
func categories(name string) []string {
	name = strings.TrimSpace(html.UnescapeString(name))
	if name == "" {
		return nil
	}
	if _, sub, ok := strings.Cut(name, " - "); ok {
		name = strings.TrimSpace(sub)
	}
	return []string{name}
}

func splitTags(s string) []string {
	var out []string
	for _, tag := range strings.Split(html.UnescapeString(s), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

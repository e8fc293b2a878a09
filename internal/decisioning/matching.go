package decisioning

import (
	"math"
	"slices"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
)

// Matches is the duplicate heuristic: same main category, intersecting
// authors, and either no narrators on both sides or intersecting narrators.
func Matches(a, b models.ItemMeta) bool {
	if a.MainCat != b.MainCat {
		return false
	}
	if !intersects(a.Authors, b.Authors) {
		return false
	}
	if len(a.Narrators) == 0 && len(b.Narrators) == 0 {
		return true
	}
	return intersects(a.Narrators, b.Narrators)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, name := range a {
		seen[normalize.Name(name)] = struct{}{}
	}
	for _, name := range b {
		if _, ok := seen[normalize.Name(name)]; ok {
			return true
		}
	}
	return false
}

// PreferenceRank returns the best (lowest) index in the preferred list for
// the item's media type among its filetypes. The bool is false when none
// of the filetypes are preferred.
func PreferenceRank(meta models.ItemMeta, preferred map[models.MediaType][]string) (int, bool) {
	list := preferred[meta.MediaType]
	best := -1
	for _, ft := range meta.Filetypes {
		idx := slices.Index(list, normalize.Filetype(ft))
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Rank is PreferenceRank with unpreferred items ranked last. Lower is better.
func Rank(meta models.ItemMeta, preferred map[models.MediaType][]string) int {
	if rank, ok := PreferenceRank(meta, preferred); ok {
		return rank
	}
	return math.MaxInt
}

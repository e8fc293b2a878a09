package decisioning

import (
	"slices"
	"strings"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

// TagRule assigns a download client category and tags to items matching
// all of its non-empty conditions.
type TagRule struct {
	Categories []string
	Languages  []string
	Flags      models.Flags
	Authors    []string
	Category   string
	Tags       []string
}

// Match reports whether the rule applies to meta.
func (r TagRule) Match(meta models.ItemMeta) bool {
	if len(r.Categories) > 0 && !anyFold(r.Categories, meta.Categories) {
		return false
	}
	if len(r.Languages) > 0 && !anyFold(r.Languages, []string{meta.Language}) {
		return false
	}
	if r.Flags != 0 && !meta.Flags.Has(r.Flags) {
		return false
	}
	if len(r.Authors) > 0 && !intersects(r.Authors, meta.Authors) {
		return false
	}
	return true
}

// ApplyTagRules returns the category of the first matching rule and the
// tags of every matching rule.
func ApplyTagRules(rules []TagRule, meta models.ItemMeta) (string, []string) {
	var category string
	var tags []string
	for _, rule := range rules {
		if !rule.Match(meta) {
			continue
		}
		if category == "" {
			category = rule.Category
		}
		for _, tag := range rule.Tags {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	return category, tags
}

func anyFold(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(strings.TrimSpace(w), strings.TrimSpace(h)) {
				return true
			}
		}
	}
	return false
}

package decisioning

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

// fieldRenderers lists every diffable field in the order diffs are reported.
var fieldRenderers = []struct {
	tag    models.FieldTag
	render func(m *models.ItemMeta) string
}{
	{models.FieldIDs, func(m *models.ItemMeta) string { return renderIDs(m.IDs) }},
	{models.FieldTitle, func(m *models.ItemMeta) string { return m.Title }},
	{models.FieldEdition, func(m *models.ItemMeta) string { return renderEdition(m.Edition) }},
	{models.FieldAuthors, func(m *models.ItemMeta) string { return strings.Join(m.Authors, ", ") }},
	{models.FieldNarrators, func(m *models.ItemMeta) string { return strings.Join(m.Narrators, ", ") }},
	{models.FieldSeries, func(m *models.ItemMeta) string { return renderSeries(m.Series) }},
	{models.FieldLanguage, func(m *models.ItemMeta) string { return m.Language }},
	{models.FieldMediaType, func(m *models.ItemMeta) string { return string(m.MediaType) }},
	{models.FieldMainCat, func(m *models.ItemMeta) string { return string(m.MainCat) }},
	{models.FieldCategories, func(m *models.ItemMeta) string { return renderSet(m.Categories) }},
	{models.FieldTags, func(m *models.ItemMeta) string { return strings.Join(m.Tags, ", ") }},
	{models.FieldFlags, func(m *models.ItemMeta) string { return m.Flags.String() }},
	{models.FieldFiletypes, func(m *models.ItemMeta) string { return strings.Join(m.Filetypes, ", ") }},
	{models.FieldNumFiles, func(m *models.ItemMeta) string { return strconv.Itoa(m.NumFiles) }},
	{models.FieldSize, func(m *models.ItemMeta) string { return strconv.FormatInt(m.Size, 10) }},
	{models.FieldDescription, func(m *models.ItemMeta) string { return m.Description }},
	{models.FieldVip, func(m *models.ItemMeta) string { return renderVip(m.Vip) }},
	{models.FieldUploadedAt, func(m *models.ItemMeta) string { return renderTime(m.UploadedAt) }},
	{models.FieldSource, func(m *models.ItemMeta) string { return string(m.Source) }},
}

// DiffMeta compares two metadata records field by field. Empty and nil
// collections compare equal.
func DiffMeta(from, to models.ItemMeta) []models.FieldDiff {
	var diffs []models.FieldDiff
	for _, fr := range fieldRenderers {
		a, b := fr.render(&from), fr.render(&to)
		if a != b {
			diffs = append(diffs, models.FieldDiff{Field: fr.tag, From: a, To: b})
		}
	}
	return diffs
}

func renderIDs(ids map[models.IDNamespace]string) string {
	parts := make([]string, 0, len(ids))
	for ns, id := range ids {
		parts = append(parts, string(ns)+":"+id)
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}

func renderEdition(e *models.Edition) string {
	if e == nil {
		return ""
	}
	if e.Number > 0 {
		return fmt.Sprintf("%s %d", e.Name, e.Number)
	}
	return e.Name
}

func renderSeries(series []models.Series) string {
	parts := make([]string, 0, len(series))
	for _, s := range series {
		if s.Entries != "" {
			parts = append(parts, s.Name+" #"+s.Entries)
		} else {
			parts = append(parts, s.Name)
		}
	}
	return strings.Join(parts, ", ")
}

func renderSet(values []string) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return strings.Join(sorted, ", ")
}

func renderVip(v models.VipStatus) string {
	switch {
	case !v.Vip:
		return "not vip"
	case v.Until != nil:
		return "vip until " + renderTime(*v.Until)
	default:
		return "vip"
	}
}

func renderTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// onlyFields reports whether every diff is one of the given fields.
func onlyFields(diffs []models.FieldDiff, fields ...models.FieldTag) bool {
	for _, d := range diffs {
		if !slices.Contains(fields, d.Field) {
			return false
		}
	}
	return true
}

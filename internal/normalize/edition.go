package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

var (
	ordinalEditionRegex = regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)\s+(?:(\w+)\s+)?edition\b`)
	namedEditionRegex   = regexp.MustCompile(`(?i)\b(revised|anniversary|collector'?s|special|expanded|deluxe|illustrated|annotated|unabridged|dramati[sz]ed)(?:\s+edition)?\b`)
	bracketRegex        = regexp.MustCompile(`\s*[\(\[]([^\)\]]*)[\)\]]`)
	subtitleSeparators  = []string{": ", " - ", " – ", " — "}
)

// ParseEdition extracts an edition designation from a raw title. The
// returned title has the edition segment removed. Only bracketed segments
// and trailing subtitle segments are considered, so "The Revised Standard"
// keeps its title.
func ParseEdition(title string) (string, *models.Edition) {
	title = strings.TrimSpace(title)

	for _, m := range bracketRegex.FindAllStringSubmatchIndex(title, -1) {
		inner := title[m[2]:m[3]]
		if ed := matchEdition(inner); ed != nil {
			clean := strings.TrimSpace(title[:m[0]] + title[m[1]:])
			return clean, ed
		}
	}

	main, sub := SplitSubtitle(title)
	if sub != "" {
		if ed := matchEdition(sub); ed != nil && isEditionOnly(sub) {
			return main, ed
		}
	}

	return title, nil
}

// SplitSubtitle splits "Main: Subtitle" or "Main - Subtitle".
func SplitSubtitle(title string) (string, string) {
	for _, sep := range subtitleSeparators {
		if main, sub, ok := strings.Cut(title, sep); ok && strings.TrimSpace(main) != "" {
			return strings.TrimSpace(main), strings.TrimSpace(sub)
		}
	}
	return strings.TrimSpace(title), ""
}

func matchEdition(s string) *models.Edition {
	if m := ordinalEditionRegex.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		name := "Edition"
		if m[2] != "" {
			name = titleCaseWord(m[2]) + " Edition"
		}
		return &models.Edition{Name: name, Number: n}
	}
	if m := namedEditionRegex.FindStringSubmatch(s); m != nil {
		word := titleCaseWord(m[1])
		if strings.Contains(strings.ToLower(m[0]), "edition") {
			return &models.Edition{Name: word + " Edition"}
		}
		return &models.Edition{Name: word}
	}
	return nil
}

// isEditionOnly guards against treating a real subtitle that merely
// mentions an edition word as an edition.
func isEditionOnly(s string) bool {
	stripped := ordinalEditionRegex.ReplaceAllString(s, "")
	stripped = namedEditionRegex.ReplaceAllString(stripped, "")
	return strings.Trim(stripped, " ,.-") == ""
}

func titleCaseWord(w string) string {
	return cases.Title(language.English).String(strings.ToLower(w))
}

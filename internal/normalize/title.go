// Package normalize provides the pure string helpers used to index and
// compare item metadata.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	apostropheRegex    = regexp.MustCompile(`['\x60\x{2018}\x{2019}\x{02BC}]`)
	specialCharsRegex  = regexp.MustCompile(`[^a-z0-9\s]`)
	multipleSpaceRegex = regexp.MustCompile(`\s+`)
	leadingArticles    = []string{"the ", "a ", "an "}
)

// Title converts a title to the normalized form used as the title index key.
// It folds diacritics, lowercases, strips apostrophes (so "Ender's" and
// "Enders" agree), turns "&" into "and", replaces remaining punctuation with
// spaces, drops leading articles and collapses whitespace.
func Title(title string) string {
	normalized := foldDiacritics(title)
	normalized = strings.ToLower(normalized)
	normalized = apostropheRegex.ReplaceAllString(normalized, "")
	normalized = strings.ReplaceAll(normalized, "&", " and ")
	normalized = specialCharsRegex.ReplaceAllString(normalized, " ")
	normalized = multipleSpaceRegex.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	return stripArticles(normalized)
}

// stripArticles drops leading articles until none remain, so "the a team"
// and "a team" share a key.
func stripArticles(s string) string {
	for {
		stripped := false
		for _, article := range leadingArticles {
			if rest, ok := strings.CutPrefix(s, article); ok && rest != "" {
				s = rest
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// Name normalizes a person name for set comparisons.
func Name(name string) string {
	normalized := strings.ToLower(foldDiacritics(name))
	normalized = strings.ReplaceAll(normalized, ".", " ")
	normalized = multipleSpaceRegex.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// Filetype lowercases an extension and strips the leading dot.
func Filetype(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

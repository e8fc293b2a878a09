package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	bbcodeRegex      = regexp.MustCompile(`(?i)\[/?(?:b|i|u|s|url|color|size|font|quote|center|img|spoiler)(?:=[^\]]*)?\]`)
	blankLinesRegex  = regexp.MustCompile(`\n{3,}`)
	inlineSpaceRegex = regexp.MustCompile(`[ \t\x{00A0}]+`)
)

// CleanHTML turns a tracker description into plain text. Line breaks and
// block elements become newlines, entities are decoded, BBCode tags are
// dropped and runs of blank lines are collapsed.
func CleanHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(bbcodeRegex.ReplaceAllString(s, ""))
	}

	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, blockquote").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	text := bbcodeRegex.ReplaceAllString(doc.Text(), "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpaceRegex.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

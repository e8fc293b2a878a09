package listimport

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// Entry is one book on a shelf.
type Entry struct {
	Title  string
	Author string
	Link   string
}

// SearchText is the tracker search text for the entry.
func (e Entry) SearchText() string {
	return strings.TrimSpace(e.Title + " " + e.Author)
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title      string `xml:"title"`
	Link       string `xml:"link"`
	GUID       string `xml:"guid"`
	AuthorName string `xml:"author_name"`
	Creator    string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Author     string `xml:"author"`
}

// seriesSuffix matches a trailing "(Series, #3)" annotation.
var seriesSuffix = regexp.MustCompile(`\s*\([^()]*#[^()]*\)\s*$`)

// ParseFeed parses an RSS shelf into entries. Items without a title are
// dropped.
func ParseFeed(data []byte) ([]Entry, error) {
	var feed rssFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse shelf feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		title := strings.TrimSpace(seriesSuffix.ReplaceAllString(item.Title, ""))
		if title == "" {
			continue
		}

		author := item.AuthorName
		if author == "" {
			author = item.Creator
		}
		if author == "" {
			author = item.Author
		}

		link := item.Link
		if link == "" {
			link = item.GUID
		}

		entries = append(entries, Entry{
			Title:  title,
			Author: strings.TrimSpace(author),
			Link:   strings.TrimSpace(link),
		})
	}
	return entries, nil
}

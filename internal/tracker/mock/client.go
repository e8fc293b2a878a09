// Package mock provides an in-memory tracker for tests and local runs.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// Client implements tracker.API from fixed data.
type Client struct {
	mu       sync.Mutex
	items    []tracker.CandidateItem
	perPage  int
	status   tracker.UserStatus
	torrents map[string][]byte
	queries  []tracker.Query
	wedged   []int64
	err      error
}

var _ tracker.API = (*Client)(nil)

// NewClient creates a mock tracker that serves items in pages of perPage.
func NewClient(items []tracker.CandidateItem, perPage int) *Client {
	if perPage <= 0 {
		perPage = len(items)
	}
	return &Client{
		items:    items,
		perPage:  perPage,
		torrents: make(map[string][]byte),
		status:   tracker.UserStatus{Username: "mock", UnsatLimit: 100},
	}
}

// SetStatus sets the user status returned by UserStatus.
func (c *Client) SetStatus(s tracker.UserStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// AddTorrent registers .torrent bytes for a download link.
func (c *Client) AddTorrent(dlLink string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.torrents[dlLink] = data
}

// FailWith makes every call return err.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Queries returns the queries searched so far.
func (c *Client) Queries() []tracker.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tracker.Query(nil), c.queries...)
}

func (c *Client) Search(_ context.Context, q tracker.Query, startNumber int) (*tracker.SearchPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.queries = append(c.queries, q)

	var matched []tracker.CandidateItem
	for _, item := range c.items {
		if matchesText(item, q.Text) {
			matched = append(matched, item)
		}
	}

	page := &tracker.SearchPage{Found: len(matched)}
	if startNumber >= len(matched) {
		return page, nil
	}
	end := min(startNumber+c.perPage, len(matched))
	page.Items = matched[startNumber:end]
	page.Total = len(page.Items)
	return page, nil
}

func (c *Client) UserStatus(context.Context) (*tracker.UserStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := c.status
	return &s, nil
}

func (c *Client) DownloadTorrent(_ context.Context, dlLink string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	data, ok := c.torrents[dlLink]
	if !ok {
		return nil, tracker.ErrTorrentNotFound
	}
	return data, nil
}

// UseWedge spends one of the status wedges.
func (c *Client) UseWedge(_ context.Context, mamID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.status.Wedges <= 0 {
		return tracker.ErrWedge
	}
	c.status.Wedges--
	c.wedged = append(c.wedged, mamID)
	return nil
}

// Wedged returns the torrent ids wedges were spent on.
func (c *Client) Wedged() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.wedged...)
}

// matchesText reports whether every word of text appears in the title or
// an author name.
func matchesText(item tracker.CandidateItem, text string) bool {
	haystack := strings.ToLower(item.Title)
	for _, name := range item.Authors {
		haystack += " " + strings.ToLower(name)
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if !strings.Contains(haystack, word) {
			return false
		}
	}
	return true
}

// Package mock provides an in-memory download client for tests and local runs.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/downloader/types"
)

// MockDownloadDir is the simulated download directory.
const MockDownloadDir = "/mock/downloads/shelfgrab"

// mockDownload represents a torrent held by the mock client.
type mockDownload struct {
	Item    types.DownloadItem
	Options types.AddOptions
	Files   []types.File
}

// Client implements types.Client in memory. Torrents stay queued until
// Complete is called.
type Client struct {
	mu          sync.RWMutex
	downloads   map[string]*mockDownload
	order       []string
	downloadDir string
	err         error
}

// Compile-time check that Client implements Client.
var _ types.Client = (*Client)(nil)

// New creates an empty mock client storing data under downloadDir.
func New(downloadDir string) *Client {
	if downloadDir == "" {
		downloadDir = MockDownloadDir
	}
	return &Client{
		downloads:   make(map[string]*mockDownload),
		downloadDir: downloadDir,
	}
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeMock
}

// Test verifies the client connection.
func (c *Client) Test(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Add stores a torrent as queued.
func (c *Client) Add(_ context.Context, opts types.AddOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}

	hash := strings.ToLower(opts.Hash)
	if _, exists := c.downloads[hash]; exists {
		return nil
	}

	dir := opts.DownloadDir
	if dir == "" {
		dir = c.downloadDir
	}
	c.downloads[hash] = &mockDownload{
		Item: types.DownloadItem{
			ID:          hash,
			Name:        hash,
			Status:      types.StatusQueued,
			DownloadDir: dir,
			Category:    opts.Category,
			AddedAt:     time.Now(),
		},
		Options: opts,
	}
	c.order = append(c.order, hash)
	return nil
}

// Get returns a torrent by hash.
func (c *Client) Get(_ context.Context, hash string) (*types.DownloadItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}

	d, ok := c.downloads[strings.ToLower(hash)]
	if !ok {
		return nil, types.ErrNotFound
	}
	item := d.Item
	return &item, nil
}

// Files returns the files registered by Complete.
func (c *Client) Files(_ context.Context, hash string) ([]types.File, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}

	d, ok := c.downloads[strings.ToLower(hash)]
	if !ok {
		return nil, types.ErrNotFound
	}
	return slices.Clone(d.Files), nil
}

// Complete marks a torrent as seeding with the given files.
func (c *Client) Complete(hash string, files ...types.File) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.downloads[strings.ToLower(hash)]
	if !ok {
		return
	}
	d.Item.Status = types.StatusSeeding
	d.Item.Progress = 100
	d.Files = files
	var size int64
	for _, f := range files {
		size += f.Size
	}
	d.Item.Size = size
}

// Remove drops a torrent, as if it was deleted in the client.
func (c *Client) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash = strings.ToLower(hash)
	delete(c.downloads, hash)
	c.order = slices.DeleteFunc(c.order, func(h string) bool { return h == hash })
}

// FailWith makes every call return err.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Added returns the add options of every torrent, in insertion order.
func (c *Client) Added() []types.AddOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.AddOptions, 0, len(c.order))
	for _, hash := range c.order {
		out = append(out, c.downloads[hash].Options)
	}
	return out
}

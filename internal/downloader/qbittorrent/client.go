// Package qbittorrent implements the download client on the qBittorrent Web API.
package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/downloader/types"
)

// Config holds the configuration for a qBittorrent client.
type Config struct {
	URL      string
	Username string
	Password string
	Category string
	SavePath string
	Timeout  time.Duration
}

// Client implements types.Client against a qBittorrent instance.
type Client struct {
	config Config
	api    *qbt.Client

	mu       sync.Mutex
	loggedIn bool
}

// Compile-time check that Client implements Client.
var _ types.Client = (*Client)(nil)

// New creates a new qBittorrent client. No request is made until first use.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		api: qbt.NewClient(qbt.Config{
			Host:     cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  int(timeout.Seconds()),
		}),
	}
}

// NewFromConfig creates a client from the application config.
func NewFromConfig(cfg config.QBittorrentConfig) *Client {
	return New(Config{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Category: cfg.Category,
		SavePath: cfg.SavePath,
		Timeout:  cfg.Timeout,
	})
}

// Type returns the client type.
func (c *Client) Type() types.ClientType {
	return types.ClientTypeQBittorrent
}

// Test logs in and reads the application version.
func (c *Client) Test(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return err
	}
	if _, err := c.api.GetAppVersionCtx(ctx); err != nil {
		return fmt.Errorf("failed to read qBittorrent version: %w", err)
	}
	return nil
}

// Add uploads .torrent content.
func (c *Client) Add(ctx context.Context, opts types.AddOptions) error {
	if len(opts.FileContent) == 0 {
		return fmt.Errorf("no torrent content to add")
	}
	if err := c.login(ctx); err != nil {
		return err
	}

	if err := c.api.AddTorrentFromMemoryCtx(ctx, opts.FileContent, c.addOptions(opts)); err != nil {
		return fmt.Errorf("failed to add torrent %s: %w", opts.Hash, err)
	}
	return nil
}

func (c *Client) addOptions(opts types.AddOptions) map[string]string {
	options := make(map[string]string)

	category := opts.Category
	if category == "" {
		category = c.config.Category
	}
	if category != "" {
		options["category"] = category
	}
	if len(opts.Tags) > 0 {
		options["tags"] = strings.Join(opts.Tags, ",")
	}

	savePath := opts.DownloadDir
	if savePath == "" {
		savePath = c.config.SavePath
	}
	if savePath != "" {
		options["savepath"] = savePath
		options["autoTMM"] = "false"
	}
	if opts.Paused {
		options["paused"] = "true"
		options["stopped"] = "true"
	}
	return options
}

// Get returns one torrent by infohash.
func (c *Client) Get(ctx context.Context, hash string) (*types.DownloadItem, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, fmt.Errorf("failed to get torrent %s: %w", hash, err)
	}
	if len(torrents) == 0 {
		return nil, types.ErrNotFound
	}

	t := torrents[0]
	return &types.DownloadItem{
		ID:          strings.ToLower(t.Hash),
		Name:        t.Name,
		Status:      mapState(t.State, t.Progress),
		Progress:    t.Progress * 100,
		Size:        t.Size,
		DownloadDir: t.SavePath,
		Category:    t.Category,
		AddedAt:     time.Unix(t.AddedOn, 0),
	}, nil
}

// Files lists a torrent's files relative to its download directory.
func (c *Client) Files(ctx context.Context, hash string) ([]types.File, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	files, err := c.api.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", hash, err)
	}
	if files == nil {
		return nil, types.ErrNotFound
	}

	out := make([]types.File, 0, len(*files))
	for _, f := range *files {
		out = append(out, types.File{Path: f.Name, Size: f.Size})
	}
	return out, nil
}

func (c *Client) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	if err := c.api.LoginCtx(ctx); err != nil {
		if errors.Is(err, qbt.ErrBadCredentials) || errors.Is(err, qbt.ErrIPBanned) {
			return fmt.Errorf("%w: %v", types.ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", types.ErrNotConnected, err)
	}
	c.loggedIn = true
	return nil
}

func mapState(state qbt.TorrentState, progress float64) types.Status {
	switch state {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return types.StatusError
	case qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl:
		return types.StatusPaused
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateMetaDl:
		return types.StatusQueued
	case qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp:
		return types.StatusCompleted
	}
	if progress >= 1 {
		return types.StatusSeeding
	}
	return types.StatusDownloading
}

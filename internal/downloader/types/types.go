// Package types defines shared types for download clients.
package types

import (
	"context"
	"errors"
	"time"
)

// Common errors for download clients.
var (
	ErrNotConnected = errors.New("client not connected")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotFound     = errors.New("download not found")
)

// ClientType represents the type of download client.
type ClientType string

const (
	ClientTypeQBittorrent ClientType = "qbittorrent"
	ClientTypeMock        ClientType = "mock"
)

// Client is the download client surface the pipelines use. Torrents are
// addressed by their lowercase hex infohash.
type Client interface {
	Type() ClientType

	// Connection
	Test(ctx context.Context) error

	// Download operations
	Add(ctx context.Context, opts AddOptions) error
	Get(ctx context.Context, hash string) (*DownloadItem, error)
	Files(ctx context.Context, hash string) ([]File, error)
}

// AddOptions specifies options for adding a torrent.
type AddOptions struct {
	FileContent []byte // Raw .torrent content
	Hash        string // Infohash of FileContent

	// Destination
	DownloadDir string // Override default download directory
	Category    string // Category/label for the download
	Tags        []string

	// Control
	Paused bool
}

// DownloadItem represents a torrent in the client.
type DownloadItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"` // 0-100
	Size        int64     `json:"size"`
	DownloadDir string    `json:"downloadDir"`
	Category    string    `json:"category,omitempty"`
	AddedAt     time.Time `json:"addedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Complete reports whether all data has been downloaded.
func (d *DownloadItem) Complete() bool {
	return d.Status == StatusCompleted || d.Status == StatusSeeding
}

// File is one file of a torrent, relative to the download directory.
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Status represents the status of a download.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusSeeding     Status = "seeding"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
)

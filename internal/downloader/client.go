// Package downloader hands pending selections to the download client and
// provides the download client abstraction.
package downloader

import (
	"github.com/shelfgrab/shelfgrab/internal/downloader/types"
)

// Re-export types for convenience.
// This allows external packages to use downloader.Client instead of types.Client.

type (
	ClientType   = types.ClientType
	Client       = types.Client
	AddOptions   = types.AddOptions
	DownloadItem = types.DownloadItem
	File         = types.File
	Status       = types.Status
)

// Re-export constants.
const (
	ClientTypeQBittorrent = types.ClientTypeQBittorrent
	ClientTypeMock        = types.ClientTypeMock

	StatusQueued      = types.StatusQueued
	StatusDownloading = types.StatusDownloading
	StatusPaused      = types.StatusPaused
	StatusCompleted   = types.StatusCompleted
	StatusSeeding     = types.StatusSeeding
	StatusError       = types.StatusError
	StatusUnknown     = types.StatusUnknown
)

// Re-export errors.
var (
	ErrNotConnected = types.ErrNotConnected
	ErrAuthFailed   = types.ErrAuthFailed
	ErrNotFound     = types.ErrNotFound
)

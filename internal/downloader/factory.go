package downloader

import (
	"errors"
	"fmt"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/downloader/mock"
	"github.com/shelfgrab/shelfgrab/internal/downloader/qbittorrent"
)

// ErrUnsupportedClient is returned for an unknown client type.
var ErrUnsupportedClient = errors.New("unsupported client type")

// NewClient creates the configured download client.
func NewClient(cfg config.QBittorrentConfig) (Client, error) {
	switch ClientType(cfg.Client) {
	case ClientTypeQBittorrent, "":
		return qbittorrent.NewFromConfig(cfg), nil
	case ClientTypeMock:
		return mock.New(cfg.SavePath), nil
	default:
		return nil, fmt.Errorf("%w: unknown client type %s", ErrUnsupportedClient, cfg.Client)
	}
}

// SupportedClientTypes returns the client types NewClient accepts.
func SupportedClientTypes() []ClientType {
	return []ClientType{ClientTypeQBittorrent, ClientTypeMock}
}

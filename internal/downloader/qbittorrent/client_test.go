package qbittorrent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/downloader/types"
)

func TestClient_Type(t *testing.T) {
	client := NewFromConfig(config.QBittorrentConfig{URL: "http://localhost:8080"})

	if client.Type() != types.ClientTypeQBittorrent {
		t.Errorf("expected ClientTypeQBittorrent, got %s", client.Type())
	}
}

func TestClient_AddRequiresContent(t *testing.T) {
	client := New(Config{URL: "http://127.0.0.1:1"})

	if err := client.Add(context.Background(), types.AddOptions{Hash: "abc"}); err == nil {
		t.Error("expected an error for empty torrent content")
	}
}

func TestClient_AddOptions(t *testing.T) {
	client := New(Config{URL: "http://localhost:8080", Category: "shelfgrab", SavePath: "/downloads"})

	tests := []struct {
		name string
		opts types.AddOptions
		want map[string]string
	}{
		{
			name: "defaults from config",
			opts: types.AddOptions{},
			want: map[string]string{"category": "shelfgrab", "savepath": "/downloads", "autoTMM": "false"},
		},
		{
			name: "per torrent overrides",
			opts: types.AddOptions{Category: "audiobooks", Tags: []string{"fantasy", "tolkien"}, DownloadDir: "/books", Paused: true},
			want: map[string]string{
				"category": "audiobooks",
				"tags":     "fantasy,tolkien",
				"savepath": "/books",
				"autoTMM":  "false",
				"paused":   "true",
				"stopped":  "true",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.addOptions(tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("addOptions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapState(t *testing.T) {
	tests := []struct {
		state    qbt.TorrentState
		progress float64
		want     types.Status
	}{
		{qbt.TorrentStateError, 0.5, types.StatusError},
		{qbt.TorrentStateMissingFiles, 1, types.StatusError},
		{qbt.TorrentStatePausedDl, 0.2, types.StatusPaused},
		{qbt.TorrentStateQueuedDl, 0, types.StatusQueued},
		{qbt.TorrentStatePausedUp, 1, types.StatusCompleted},
		{qbt.TorrentStateUploading, 1, types.StatusSeeding},
		{qbt.TorrentStateStalledUp, 1, types.StatusSeeding},
		{qbt.TorrentStateDownloading, 0.4, types.StatusDownloading},
	}

	for _, tt := range tests {
		if got := mapState(tt.state, tt.progress); got != tt.want {
			t.Errorf("mapState(%s, %v) = %s, want %s", tt.state, tt.progress, got, tt.want)
		}
	}
}

func TestClient_LoginErrors(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Fails."))
	}))
	defer rejecting.Close()

	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachableURL := unreachable.URL
	unreachable.Close()

	tests := []struct {
		name string
		url  string
		want error
	}{
		{"bad credentials", rejecting.URL, types.ErrAuthFailed},
		{"unreachable", unreachableURL, types.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(Config{URL: tt.url, Username: "admin", Password: "secret"})
			err := client.Test(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Test() error = %v, want %v", err, tt.want)
			}
		})
	}
}

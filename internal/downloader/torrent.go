package downloader

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// TorrentFile is the parsed content of a .torrent file.
type TorrentFile struct {
	Hash  string
	Name  string
	Size  int64
	Files []File
}

// ParseTorrent reads the infohash and file list of .torrent content.
func ParseTorrent(data []byte) (*TorrentFile, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load torrent: %w", err)
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to decode torrent info: %w", err)
	}

	tf := &TorrentFile{
		Hash: mi.HashInfoBytes().HexString(),
		Name: info.Name,
		Size: info.TotalLength(),
	}
	for _, f := range info.UpvertedFiles() {
		tf.Files = append(tf.Files, File{Path: f.DisplayPath(&info), Size: f.Length})
	}
	return tf, nil
}

package models

import "time"

// Cost is how an accepted torrent will be paid for.
type Cost string

const (
	CostVip               Cost = "vip"
	CostPersonalFreeleech Cost = "personal_freeleech"
	CostGlobalFreeleech   Cost = "global_freeleech"
	CostUseWedge          Cost = "use_wedge"
	CostTryWedge          Cost = "try_wedge"
	CostRatio             Cost = "ratio"
)

// IsFree reports whether downloading does not affect ratio.
func (c Cost) IsFree() bool {
	return c == CostVip || c == CostPersonalFreeleech || c == CostGlobalFreeleech
}

// SelectedTorrent is a pending acquisition decision keyed by tracker id.
type SelectedTorrent struct {
	MamID       int64      `json:"mamId"`
	Hash        *string    `json:"hash,omitempty"`
	DlLink      string     `json:"dlLink"`
	UnsatBuffer *int       `json:"unsatBuffer,omitempty"`
	WedgeBuffer *int       `json:"wedgeBuffer,omitempty"`
	Cost        Cost       `json:"cost"`
	Category    string     `json:"category,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Meta        ItemMeta   `json:"meta"`
	Grabber     string     `json:"grabber,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	RemovedAt   *time.Time `json:"removedAt,omitempty"`
}

// Pending reports whether the selection still waits for the downloader.
func (s *SelectedTorrent) Pending() bool {
	return s.StartedAt == nil && s.RemovedAt == nil
}

// ClientStatus is the last known state of a library item's torrent in the
// download client.
type ClientStatus string

const (
	ClientStatusOK          ClientStatus = "ok"
	ClientStatusNotInClient ClientStatus = "not_in_client"
)

// ReplacedWith points at the library item that superseded another.
type ReplacedWith struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// LibraryItem is a confirmed acquisition. Items with no LibraryFiles are
// metadata-only catalog entries.
type LibraryItem struct {
	ID                  string        `json:"id"`
	MamID               *int64        `json:"mamId,omitempty"`
	Meta                ItemMeta      `json:"meta"`
	LibraryPath         string        `json:"libraryPath,omitempty"`
	LibraryFiles        []string      `json:"libraryFiles,omitempty"`
	Linker              string        `json:"linker,omitempty"`
	SelectedAudioFormat string        `json:"selectedAudioFormat,omitempty"`
	SelectedEbookFormat string        `json:"selectedEbookFormat,omitempty"`
	ReplacedWith        *ReplacedWith `json:"replacedWith,omitempty"`
	ClientStatus        ClientStatus  `json:"clientStatus,omitempty"`
	OwnerName           string        `json:"ownerName,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Linked reports whether the item has files in the library.
func (l *LibraryItem) Linked() bool {
	return l.LibraryPath != ""
}

// DuplicateRecord logs a candidate rejected as a duplicate.
type DuplicateRecord struct {
	MamID       int64     `json:"mamId"`
	Meta        ItemMeta  `json:"meta"`
	DlLink      string    `json:"dlLink,omitempty"`
	Cost        Cost      `json:"cost,omitempty"`
	DuplicateOf *string   `json:"duplicateOf,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

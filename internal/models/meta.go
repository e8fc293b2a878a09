// Package models holds the persisted entities shared by the store, the
// selection engine and the pipelines.
package models

import (
	"slices"
	"strings"
	"time"
)

// IDNamespace names an external identifier space.
type IDNamespace string

const (
	IDMam       IDNamespace = "mam"
	IDISBN      IDNamespace = "isbn"
	IDASIN      IDNamespace = "asin"
	IDGoodreads IDNamespace = "goodreads"
)

// MediaType is the kind of media an item contains.
type MediaType string

const (
	MediaTypeAudiobook  MediaType = "audiobook"
	MediaTypeEbook      MediaType = "ebook"
	MediaTypeMusicology MediaType = "musicology"
	MediaTypeRadio      MediaType = "radio"
)

// MainCat is the tracker's top level category.
type MainCat string

const (
	MainCatAudio      MainCat = "audio"
	MainCatEbook      MainCat = "ebook"
	MainCatMusicology MainCat = "musicology"
	MainCatRadio      MainCat = "radio"
)

// MetadataSource records where an ItemMeta came from.
type MetadataSource string

const (
	SourceTracker MetadataSource = "tracker"
	SourceManual  MetadataSource = "manual"
	SourceFile    MetadataSource = "file"
	SourceMatch   MetadataSource = "match"
)

// Flags is a bitmask of content flags set by the uploader.
type Flags uint8

const (
	FlagCrudeLanguage Flags = 1 << iota
	FlagViolence
	FlagSomeExplicit
	FlagExplicit
	FlagAbridged
	FlagLGBT
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCrudeLanguage, "crude_language"},
	{FlagViolence, "violence"},
	{FlagSomeExplicit, "some_explicit"},
	{FlagExplicit, "explicit"},
	{FlagAbridged, "abridged"},
	{FlagLGBT, "lgbt"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names returns the set flag names in declaration order.
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	return strings.Join(f.Names(), ",")
}

// ParseFlag returns the flag with the given name.
func ParseFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, true
		}
	}
	return 0, false
}

// Edition is a named, optionally numbered edition of a title.
type Edition struct {
	Name   string `json:"name"`
	Number int    `json:"number,omitempty"`
}

// Series is a series membership with its entry designation ("3", "1-3", "2.5").
type Series struct {
	Name    string `json:"name"`
	Entries string `json:"entries,omitempty"`
}

// VipStatus tracks whether an item is VIP on the tracker and until when.
type VipStatus struct {
	Vip   bool       `json:"vip"`
	Until *time.Time `json:"until,omitempty"`
}

// Expiring reports whether the VIP status is temporary.
func (v VipStatus) Expiring() bool {
	return v.Vip && v.Until != nil
}

// ItemMeta is the normalized metadata of an item.
type ItemMeta struct {
	IDs         map[IDNamespace]string `json:"ids"`
	MediaType   MediaType              `json:"mediaType"`
	MainCat     MainCat                `json:"mainCat"`
	Categories  []string               `json:"categories,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Flags       Flags                  `json:"flags,omitempty"`
	Filetypes   []string               `json:"filetypes,omitempty"`
	NumFiles    int                    `json:"numFiles,omitempty"`
	Size        int64                  `json:"size,omitempty"`
	Title       string                 `json:"title"`
	Edition     *Edition               `json:"edition,omitempty"`
	Description string                 `json:"description,omitempty"`
	Authors     []string               `json:"authors,omitempty"`
	Narrators   []string               `json:"narrators,omitempty"`
	Series      []Series               `json:"series,omitempty"`
	Source      MetadataSource         `json:"source"`
	Vip         VipStatus              `json:"vip"`
	UploadedAt  time.Time              `json:"uploadedAt"`
}

// MamID returns the tracker id, if known.
func (m *ItemMeta) MamID() string {
	return m.IDs[IDMam]
}

// Clone returns a deep copy.
func (m ItemMeta) Clone() ItemMeta {
	c := m
	if m.IDs != nil {
		c.IDs = make(map[IDNamespace]string, len(m.IDs))
		for k, v := range m.IDs {
			c.IDs[k] = v
		}
	}
	c.Categories = slices.Clone(m.Categories)
	c.Tags = slices.Clone(m.Tags)
	c.Filetypes = slices.Clone(m.Filetypes)
	c.Authors = slices.Clone(m.Authors)
	c.Narrators = slices.Clone(m.Narrators)
	c.Series = slices.Clone(m.Series)
	if m.Edition != nil {
		e := *m.Edition
		c.Edition = &e
	}
	if m.Vip.Until != nil {
		u := *m.Vip.Until
		c.Vip.Until = &u
	}
	return c
}

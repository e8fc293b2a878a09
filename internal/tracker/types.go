// Package tracker is the client side of the private tracker API: search,
// user status and torrent downloads, plus the conversion of search results
// into normalized item metadata.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Query kinds.
const (
	KindSearch   = ""
	KindSnatched = "snatched"
)

// Query is a tracker search filter.
type Query struct {
	Kind       string
	Text       string
	SearchIn   []string
	Categories []string
	Languages  []string
	Flags      []string
	MinSize    int64
	MaxSize    int64
	PerPage    int
}

// SeriesRef is one series entry of a candidate.
type SeriesRef struct {
	Name   string
	Number string
}

// CandidateItem is a search result as returned by the tracker.
type CandidateItem struct {
	ID                int64
	Title             string
	Authors           map[string]string
	Narrators         map[string]string
	Series            map[string]SeriesRef
	Filetypes         []string
	Size              string
	NumFiles          int
	Category          int
	CategoryName      string
	MainCat           int
	Language          string
	Tags              string
	Description       string
	Added             string
	ISBN              string
	BrowseFlags       int
	Vip               bool
	VipExpire         int64
	Free              bool
	PersonalFreeleech bool
	FlVip             bool
	OwnerName         string
	DlLink            string
}

// SearchPage is one page of search results. Found is the total number of
// matches across all pages.
type SearchPage struct {
	Items []CandidateItem
	Total int
	Found int
}

// UserStatus is the account state relevant to download quotas.
type UserStatus struct {
	Username   string  `json:"username"`
	UnsatCount int     `json:"unsatCount"`
	UnsatLimit int     `json:"unsatLimit"`
	Wedges     int     `json:"wedges"`
	Ratio      float64 `json:"ratio"`
}

// SearchClient runs one page of a search starting at startNumber.
type SearchClient interface {
	Search(ctx context.Context, query Query, startNumber int) (*SearchPage, error)
}

// API is the full tracker surface used by the pipelines.
type API interface {
	SearchClient
	UserStatus(ctx context.Context) (*UserStatus, error)
	DownloadTorrent(ctx context.Context, dlLink string) ([]byte, error)
	UseWedge(ctx context.Context, mamID int64) error
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts JSON booleans, 0/1 numbers and strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

type searchResponse struct {
	Data  []rawItem `json:"data"`
	Total flexInt   `json:"total"`
	Found flexInt   `json:"found"`
	Error string    `json:"error"`
}

type rawItem struct {
	ID                flexInt  `json:"id"`
	Title             string   `json:"title"`
	AuthorInfo        string   `json:"author_info"`
	NarratorInfo      string   `json:"narrator_info"`
	SeriesInfo        string   `json:"series_info"`
	Filetype          string   `json:"filetype"`
	Size              string   `json:"size"`
	NumFiles          flexInt  `json:"numfiles"`
	Category          flexInt  `json:"category"`
	CatName           string   `json:"catname"`
	MainCat           flexInt  `json:"main_cat"`
	LangCode          string   `json:"lang_code"`
	Tags              string   `json:"tags"`
	Description       string   `json:"description"`
	Added             string   `json:"added"`
	ISBN              string   `json:"isbn"`
	BrowseFlags       flexInt  `json:"browseflags"`
	Vip               flexBool `json:"vip"`
	VipExpire         flexInt  `json:"vip_expire"`
	Free              flexBool `json:"free"`
	PersonalFreeleech flexBool `json:"personal_freeleech"`
	FlVip             flexBool `json:"fl_vip"`
	OwnerName         string   `json:"owner_name"`
	Dl                string   `json:"dl"`
}

func (r rawItem) toCandidate() (CandidateItem, error) {
	item := CandidateItem{
		ID:                int64(r.ID),
		Title:             r.Title,
		Size:              r.Size,
		NumFiles:          int(r.NumFiles),
		Category:          int(r.Category),
		CategoryName:      r.CatName,
		MainCat:           int(r.MainCat),
		Language:          r.LangCode,
		Tags:              r.Tags,
		Description:       r.Description,
		Added:             r.Added,
		ISBN:              r.ISBN,
		BrowseFlags:       int(r.BrowseFlags),
		Vip:               bool(r.Vip),
		VipExpire:         int64(r.VipExpire),
		Free:              bool(r.Free),
		PersonalFreeleech: bool(r.PersonalFreeleech),
		FlVip:             bool(r.FlVip),
		OwnerName:         r.OwnerName,
		DlLink:            r.Dl,
	}

	var err error
	if item.Authors, err = decodeNameMap(r.AuthorInfo); err != nil {
		return item, fmt.Errorf("torrent %d author_info: %w", item.ID, err)
	}
	if item.Narrators, err = decodeNameMap(r.NarratorInfo); err != nil {
		return item, fmt.Errorf("torrent %d narrator_info: %w", item.ID, err)
	}
	if item.Series, err = decodeSeriesMap(r.SeriesInfo); err != nil {
		return item, fmt.Errorf("torrent %d series_info: %w", item.ID, err)
	}
	item.Filetypes = strings.FieldsFunc(r.Filetype, func(c rune) bool { return c == ' ' || c == ',' })
	return item, nil
}

// decodeNameMap parses the JSON-in-a-string id→name maps.
func decodeNameMap(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeSeriesMap parses id→[name, number] series maps.
func decodeSeriesMap(raw string) (map[string]SeriesRef, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string][]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	out := make(map[string]SeriesRef, len(m))
	for id, v := range m {
		if len(v) == 0 {
			return nil, fmt.Errorf("series %s has no name", id)
		}
		ref := SeriesRef{Name: v[0]}
		if len(v) > 1 {
			ref.Number = v[1]
		}
		out[id] = ref
	}
	return out, nil
}

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/config"
)

const (
	searchPath   = "/tor/js/loadSearchJSONbasic.php"
	statusPath   = "/jsonLoad.php"
	downloadPath = "/tor/download.php/"
	bonusPath    = "/json/bonusBuy.php/"

	defaultPerPage = 100
	maxTorrentSize = 10 << 20
)

// Client talks to the tracker's JSON API with a session cookie.
type Client struct {
	httpClient *http.Client
	config     config.TrackerConfig
	logger     zerolog.Logger
}

var _ API = (*Client)(nil)

// NewClient creates a new tracker client.
func NewClient(cfg config.TrackerConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
		logger:     logger.With().Str("component", "tracker").Logger(),
	}
}

type searchRequest struct {
	Tor         torQuery `json:"tor"`
	PerPage     int      `json:"perpage"`
	DlLink      string   `json:"dlLink"`
	Description string   `json:"description"`
	ISBN        string   `json:"isbn"`
}

type torQuery struct {
	Text        string   `json:"text"`
	SrchIn      []string `json:"srchIn"`
	SearchType  string   `json:"searchType"`
	SearchIn    string   `json:"searchIn"`
	Cat         []string `json:"cat"`
	BrowseLang  []string `json:"browse_lang"`
	BrowseFlags []string `json:"browseFlags,omitempty"`
	MinSize     int64    `json:"minSize,omitempty"`
	MaxSize     int64    `json:"maxSize,omitempty"`
	Unit        int      `json:"unit,omitempty"`
	SortType    string   `json:"sortType"`
	StartNumber string   `json:"startNumber"`
}

// Search runs one page of a search.
func (c *Client) Search(ctx context.Context, q Query, startNumber int) (*SearchPage, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	searchIn := "torrents"
	if q.Kind == KindSnatched {
		searchIn = "mySnatched"
	}
	srchIn := q.SearchIn
	if len(srchIn) == 0 {
		srchIn = []string{"title", "author", "narrator", "series"}
	}

	body := searchRequest{
		Tor: torQuery{
			Text:        q.Text,
			SrchIn:      srchIn,
			SearchType:  "all",
			SearchIn:    searchIn,
			Cat:         orAll(q.Categories),
			BrowseLang:  q.Languages,
			BrowseFlags: q.Flags,
			MinSize:     q.MinSize,
			MaxSize:     q.MaxSize,
			SortType:    "dateDesc",
			StartNumber: strconv.Itoa(startNumber),
		},
		PerPage:     perPage,
		DlLink:      "true",
		Description: "true",
		ISBN:        "true",
	}
	if q.MinSize > 0 || q.MaxSize > 0 {
		body.Tor.Unit = 1
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, ErrCodeSearch, "search failed")
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, newError(ErrCodeParse, "failed to decode search response", false, err)
	}

	if sr.Error != "" {
		// The API reports an empty result set as an error string.
		if strings.HasPrefix(sr.Error, "Nothing returned") {
			return &SearchPage{}, nil
		}
		return nil, newError(ErrCodeSearch, sr.Error, false, nil)
	}

	page := &SearchPage{
		Items: make([]CandidateItem, 0, len(sr.Data)),
		Total: int(sr.Total),
		Found: int(sr.Found),
	}
	for _, raw := range sr.Data {
		item, err := raw.toCandidate()
		if err != nil {
			return nil, newError(ErrCodeParse, "malformed search result", false, err)
		}
		page.Items = append(page.Items, item)
	}

	c.logger.Debug().
		Str("text", q.Text).
		Int("start", startNumber).
		Int("items", len(page.Items)).
		Int("found", page.Found).
		Msg("Search page fetched")

	return page, nil
}

type statusResponse struct {
	Username string    `json:"username"`
	Ratio    flexFloat `json:"ratio"`
	Wedges   flexInt   `json:"wedges"`
	Unsat    struct {
		Count flexInt `json:"count"`
		Limit flexInt `json:"limit"`
	} `json:"unsat"`
}

// UserStatus returns the account's unsatisfied-torrent and wedge counts.
func (c *Client) UserStatus(ctx context.Context) (*UserStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, statusPath+"?snatch_summary", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, ErrCodeSearch, "user status failed")
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, newError(ErrCodeParse, "failed to decode user status", false, err)
	}

	return &UserStatus{
		Username:   sr.Username,
		UnsatCount: int(sr.Unsat.Count),
		UnsatLimit: int(sr.Unsat.Limit),
		Wedges:     int(sr.Wedges),
		Ratio:      float64(sr.Ratio),
	}, nil
}

// DownloadTorrent fetches the .torrent file for a download link token.
// A torrent deleted from the tracker yields ErrTorrentNotFound.
func (c *Client) DownloadTorrent(ctx context.Context, dlLink string) ([]byte, error) {
	if dlLink == "" {
		return nil, newError(ErrCodeDownload, "empty download link", false, nil)
	}

	req, err := c.newRequest(ctx, http.MethodGet, downloadPath+dlLink, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTorrentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, ErrCodeDownload, "download failed")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize))
	if err != nil {
		return nil, newError(ErrCodeNetwork, "failed to read torrent", true, err)
	}
	return data, nil
}

type bonusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// UseWedge spends a freeleech wedge on a torrent.
func (c *Client) UseWedge(ctx context.Context, mamID int64) error {
	path := bonusPath + "?spendtype=personalFL&torrentid=" + strconv.FormatInt(mamID, 10)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, ErrCodeWedge, "wedge purchase failed")
	}

	var br bonusResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return newError(ErrCodeParse, "failed to decode wedge response", false, err)
	}
	if !br.Success {
		return newError(ErrCodeWedge, fmt.Sprintf("wedge purchase refused: %s", br.Error), false, nil)
	}

	c.logger.Info().Int64("mamId", mamID).Msg("Used wedge")
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.MamID != "" {
		req.AddCookie(&http.Cookie{Name: "mam_id", Value: c.config.MamID})
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("path", req.URL.Path).Msg("HTTP request failed")
		return nil, newError(ErrCodeNetwork, "HTTP request failed", true, err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response, code, message string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return newError(ErrCodeAuthentication, fmt.Sprintf("status %d", resp.StatusCode), false, nil)
	case http.StatusTooManyRequests:
		return newError(ErrCodeRateLimit, "rate limit exceeded", true, nil)
	}
	return newError(code, fmt.Sprintf("%s: status %d", message, resp.StatusCode), resp.StatusCode >= 500, nil)
}

func orAll(cats []string) []string {
	if len(cats) == 0 {
		return []string{"0"}
	}
	return cats
}

// flexFloat accepts JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "Inf" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

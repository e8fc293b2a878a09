package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// PageResponse is a page of records.
type PageResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// listSelected returns selections, optionally only pending or started ones.
// GET /api/v1/selected?state=pending|started
func (s *Server) listSelected(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		items []*models.SelectedTorrent
		err   error
	)
	switch c.QueryParam("state") {
	case "":
		items, err = s.store.ListSelected(ctx)
	case "pending":
		items, err = s.store.ListPendingSelected(ctx)
	case "started":
		items, err = s.store.ListStartedSelected(ctx)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "state must be pending or started")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*models.SelectedTorrent{}
	}
	return c.JSON(http.StatusOK, items)
}

// listDuplicates returns duplicate records, newest first.
// GET /api/v1/duplicates?limit=&offset=
func (s *Server) listDuplicates(c echo.Context) error {
	ctx := c.Request().Context()
	limit, offset := pageParams(c)

	items, err := s.store.ListDuplicates(ctx, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	total, err := s.store.CountDuplicates(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*models.DuplicateRecord{}
	}

	return c.JSON(http.StatusOK, PageResponse[*models.DuplicateRecord]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// listLibrary returns library items. linked=true drops metadata-only
// entries and replaced items.
// GET /api/v1/library?linked=true
func (s *Server) listLibrary(c echo.Context) error {
	items, err := s.store.ListLibraryItems(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]*models.LibraryItem, 0, len(items))
	linkedOnly := c.QueryParam("linked") == "true"
	for _, item := range items {
		if linkedOnly && (!item.Linked() || item.ReplacedWith != nil) {
			continue
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, out)
}

// getLibraryItem returns one library item with its events.
// GET /api/v1/library/:id
func (s *Server) getLibraryItem(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	item, err := s.store.GetLibraryItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "library item not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	events, err := s.history.ListByLibraryItem(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []*models.Event{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"item":   item,
		"events": events,
	})
}

func pageParams(c echo.Context) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxLimit)
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

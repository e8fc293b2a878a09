package history

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shelfgrab/shelfgrab/internal/models"
)

// Handlers provides HTTP handlers for history operations.
type Handlers struct {
	service *Service
}

// NewHandlers creates a new history handlers instance.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers history routes on an Echo group.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
}

// List returns paginated events.
// GET /api/v1/history
func (h *Handlers) List(c echo.Context) error {
	opts := ListOptions{
		Kind:     models.EventKind(c.QueryParam("kind")),
		Page:     intParam(c, "page", 1),
		PageSize: intParam(c, "pageSize", defaultPageSize),
	}

	if v := c.QueryParam("mamId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid mamId")
		}
		opts.MamID = &id
	}
	if v := c.QueryParam("libraryItemId"); v != "" {
		opts.LibraryItemID = &v
	}

	result, err := h.service.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, result)
}

func intParam(c echo.Context, name string, def int) int {
	if p := c.QueryParam(name); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			return v
		}
	}
	return def
}

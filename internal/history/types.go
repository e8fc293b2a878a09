package history

import "github.com/shelfgrab/shelfgrab/internal/models"

// ListOptions contains options for listing history.
type ListOptions struct {
	Kind          models.EventKind
	MamID         *int64
	LibraryItemID *string
	Page          int
	PageSize      int
}

// ListResponse contains paginated history results.
type ListResponse struct {
	Items      []*models.Event `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalCount int             `json:"totalCount"`
	TotalPages int             `json:"totalPages"`
}

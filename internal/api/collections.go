// internal/api/collections.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// defaultLargeFileBytes is the large-files threshold when the request does
// not give one.
const defaultLargeFileBytes = 10 * 1024 * 1024

// initCollectionRoutes registers the event, duplicate and large-file
// endpoints.
func (c *Controller) initCollectionRoutes() {
	c.Group.GET("/events", c.ListEvents)
	c.Group.GET("/events/:id", c.GetEvent)
	c.Group.GET("/events/:id/photos", c.EventPhotos)
	c.Group.GET("/duplicates", c.ListDuplicates)
	c.Group.GET("/large-files", c.LargeFiles)
}

// EventItem is the list view of one event.
type EventItem struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	City       string    `json:"city,omitempty"`
	Country    string    `json:"country,omitempty"`
	PhotoCount int64     `json:"photo_count"`
	CoverURL   string    `json:"cover_url,omitempty"`
}

func eventItem(e *datastore.EventSummary) EventItem {
	item := EventItem{
		ID:         e.ID,
		Name:       e.Name,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		City:       e.City,
		Country:    e.Country,
		PhotoCount: e.PhotoCount,
	}
	if e.CoverHash != "" {
		item.CoverURL = fmt.Sprintf("/api/photos/%s/thumbnail/%d", e.CoverHash, artifacts.ThumbMedium)
	}
	return item
}

// ListEvents handles GET /api/events, newest first.
func (c *Controller) ListEvents(ctx echo.Context) error {
	events, err := c.DS.ListEvents()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list events", http.StatusInternalServerError)
	}

	items := make([]EventItem, 0, len(events))
	for i := range events {
		items = append(items, eventItem(&events[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"events": items})
}

// GetEvent handles GET /api/events/:id.
func (c *Controller) GetEvent(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid event ID", http.StatusBadRequest)
	}

	event, err := c.DS.GetEvent(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Event not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load event", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, eventItem(event))
}

// EventPhotos handles GET /api/events/:id/photos, oldest first so the
// event reads chronologically.
func (c *Controller) EventPhotos(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid event ID", http.StatusBadRequest)
	}

	return c.searchAndRespond(ctx, &datastore.PhotoFilter{
		EventID: id,
		Sort:    "date_asc",
	})
}

// DuplicateGroupItem is one group of near-identical photos. Members are
// ordered largest first, so the first entry is the keep candidate.
type DuplicateGroupItem struct {
	GroupID uint        `json:"group_id"`
	Photos  []PhotoItem `json:"photos"`
}

// DuplicatePage is one page of duplicate groups.
type DuplicatePage struct {
	Items    []DuplicateGroupItem `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	HasMore  bool                 `json:"has_more"`
}

// ListDuplicates handles GET /api/duplicates.
func (c *Controller) ListDuplicates(ctx echo.Context) error {
	page, pageSize := pageParams(ctx)

	groups, total, err := c.DS.DuplicateGroups(page, pageSize)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list duplicates", http.StatusInternalServerError)
	}

	items := make([]DuplicateGroupItem, 0, len(groups))
	for i := range groups {
		photos := make([]PhotoItem, 0, len(groups[i].Photos))
		for j := range groups[i].Photos {
			photos = append(photos, photoItem(&groups[i].Photos[j]))
		}
		items = append(items, DuplicateGroupItem{GroupID: groups[i].GroupID, Photos: photos})
	}

	return ctx.JSON(http.StatusOK, DuplicatePage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  int64(page)*int64(pageSize) < total,
	})
}

// LargeFiles handles GET /api/large-files?min_size=, biggest first.
func (c *Controller) LargeFiles(ctx echo.Context) error {
	minSize := int64(queryInt(ctx, "min_size", 0))
	if minSize <= 0 {
		minSize = defaultLargeFileBytes
	}

	return c.searchAndRespond(ctx, &datastore.PhotoFilter{
		MinSize: minSize,
		Sort:    "size_desc",
	})
}

// internal/api/people.go
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// initPeopleRoutes registers the person endpoints.
func (c *Controller) initPeopleRoutes() {
	c.Group.GET("/persons", c.ListPersons)
	c.Group.GET("/persons/:id", c.GetPerson)
	c.Group.GET("/persons/:id/photos", c.PersonPhotos)
	c.Group.GET("/persons/:id/thumbnail", c.PersonThumbnail)
	c.Group.PUT("/persons/:id", c.RenamePerson)
	c.Group.POST("/persons/merge", c.MergePersons)
}

// PersonItem is the list view of a person.
type PersonItem struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	FaceCount    int64  `json:"face_count"`
	PhotoCount   int64  `json:"photo_count"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

func personItem(s *datastore.PersonSummary) PersonItem {
	item := PersonItem{
		ID:         s.ID,
		Name:       s.Name,
		FaceCount:  s.FaceCount,
		PhotoCount: s.PhotoCount,
	}
	if s.CoverCrop != "" {
		item.ThumbnailURL = fmt.Sprintf("/api/persons/%d/thumbnail", s.ID)
	}
	return item
}

// ListPersons handles GET /api/persons, most photographed first.
func (c *Controller) ListPersons(ctx echo.Context) error {
	summaries, err := c.DS.ListPersons()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list persons", http.StatusInternalServerError)
	}

	items := make([]PersonItem, 0, len(summaries))
	for i := range summaries {
		items = append(items, personItem(&summaries[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"persons": items})
}

// GetPerson handles GET /api/persons/:id.
func (c *Controller) GetPerson(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid person ID", http.StatusBadRequest)
	}

	person, err := c.DS.GetPerson(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Person not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load person", http.StatusInternalServerError)
	}

	// The summaries carry the counts and cover; the list is small
	summaries, err := c.DS.ListPersons()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load person", http.StatusInternalServerError)
	}
	for i := range summaries {
		if summaries[i].ID == person.ID {
			return ctx.JSON(http.StatusOK, personItem(&summaries[i]))
		}
	}

	return ctx.JSON(http.StatusOK, PersonItem{ID: person.ID, Name: person.Name})
}

// PersonPhotos handles GET /api/persons/:id/photos.
func (c *Controller) PersonPhotos(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid person ID", http.StatusBadRequest)
	}

	return c.searchAndRespond(ctx, &datastore.PhotoFilter{PersonID: id})
}

// PersonThumbnail handles GET /api/persons/:id/thumbnail, serving the
// person's cover face crop.
func (c *Controller) PersonThumbnail(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid person ID", http.StatusBadRequest)
	}

	crop, err := c.DS.PersonCoverCrop(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Person has no face crop", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load person thumbnail", http.StatusInternalServerError)
	}

	return c.files.ServeRelative(ctx, crop)
}

// RenamePersonRequest is the body of PUT /api/persons/:id.
type RenamePersonRequest struct {
	Name string `json:"name"`
}

// RenamePerson handles PUT /api/persons/:id.
func (c *Controller) RenamePerson(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid person ID", http.StatusBadRequest)
	}

	var req RenamePersonRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	if err := c.DS.RenamePerson(id, req.Name); err != nil {
		switch {
		case errors.IsCategory(err, errors.CategoryValidation):
			return c.HandleError(ctx, err, "Invalid person name", http.StatusBadRequest)
		case errors.IsNotFound(err):
			return c.HandleError(ctx, err, "Person not found", http.StatusNotFound)
		default:
			return c.HandleError(ctx, err, "Failed to rename person", http.StatusInternalServerError)
		}
	}

	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "name": req.Name})
}

// MergePersonsRequest is the body of POST /api/persons/merge. Every face of
// the source person moves to the target; the source disappears.
type MergePersonsRequest struct {
	SourceID uint `json:"source_id"`
	TargetID uint `json:"target_id"`
}

// MergePersons handles POST /api/persons/merge.
func (c *Controller) MergePersons(ctx echo.Context) error {
	var req MergePersonsRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.SourceID == 0 || req.TargetID == 0 {
		return c.HandleError(ctx, nil, "source_id and target_id are required", http.StatusBadRequest)
	}

	if err := c.DS.MergePersons(req.SourceID, req.TargetID); err != nil {
		switch {
		case errors.IsCategory(err, errors.CategoryValidation):
			return c.HandleError(ctx, err, "Invalid merge request", http.StatusBadRequest)
		case errors.IsNotFound(err):
			return c.HandleError(ctx, err, "Person not found", http.StatusNotFound)
		default:
			return c.HandleError(ctx, err, "Failed to merge persons", http.StatusInternalServerError)
		}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":    "merged",
		"person_id": req.TargetID,
	})
}

// internal/api/browse.go
package api

import (
	"net/http"
	"path"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// initBrowseRoutes registers the directory, timeline, location and tag
// endpoints.
func (c *Controller) initBrowseRoutes() {
	c.Group.GET("/directories", c.DirectoryTree)
	c.Group.GET("/directories/photos", c.DirectoryPhotos)
	c.Group.GET("/timeline", c.Timeline)
	c.Group.GET("/timeline/years", c.TimelineYears)
	c.Group.GET("/locations/countries", c.Countries)
	c.Group.GET("/locations/cities", c.Cities)
	c.Group.GET("/locations/map-points", c.MapPoints)
	c.Group.GET("/locations/photos", c.LocationPhotos)
	c.Group.GET("/tags", c.ListTags)
	c.Group.GET("/tags/:id/photos", c.TagPhotos)
}

// DirectoryNode is one directory of the library tree. Counts and sizes
// include everything below the directory.
type DirectoryNode struct {
	Name       string           `json:"name"`
	Path       string           `json:"path"`
	PhotoCount int64            `json:"photo_count"`
	TotalSize  int64            `json:"total_size"`
	Children   []*DirectoryNode `json:"children,omitempty"`
}

// buildDirectoryTree nests the flat per-directory aggregates into a tree
// rooted at the library root. Directories holding photos only in
// subdirectories get synthesized nodes so the tree has no gaps.
func buildDirectoryTree(dirs []datastore.DirectoryInfo) *DirectoryNode {
	root := &DirectoryNode{Name: "/", Path: ""}
	nodes := map[string]*DirectoryNode{"": root}

	var ensure func(dir string) *DirectoryNode
	ensure = func(dir string) *DirectoryNode {
		if node, ok := nodes[dir]; ok {
			return node
		}
		node := &DirectoryNode{Name: path.Base(dir), Path: dir}
		nodes[dir] = node
		parent := ensure(parentDir(dir))
		parent.Children = append(parent.Children, node)
		return node
	}

	for _, info := range dirs {
		ensure(info.Path)
		// Direct counts roll up into the directory and all its ancestors
		for dir := info.Path; ; dir = parentDir(dir) {
			node := nodes[dir]
			node.PhotoCount += info.PhotoCount
			node.TotalSize += info.TotalSize
			if dir == "" {
				break
			}
		}
	}

	for _, node := range nodes {
		sort.Slice(node.Children, func(i, j int) bool {
			return node.Children[i].Name < node.Children[j].Name
		})
	}
	return root
}

// parentDir returns the parent of a library-relative directory, "" for
// top-level directories and the root itself.
func parentDir(dir string) string {
	parent := path.Dir(dir)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

// DirectoryTree handles GET /api/directories.
func (c *Controller) DirectoryTree(ctx echo.Context) error {
	dirs, err := c.DS.Directories()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list directories", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, buildDirectoryTree(dirs))
}

// DirectoryPhotos handles GET /api/directories/photos?path=. The path is
// matched exactly; photos in subdirectories belong to their own nodes.
func (c *Controller) DirectoryPhotos(ctx echo.Context) error {
	return c.searchAndRespond(ctx, &datastore.PhotoFilter{
		Directory: ctx.QueryParam("path"),
	})
}

// TimelineDay is one day bucket of the timeline tree.
type TimelineDay struct {
	Day   int   `json:"day"`
	Count int64 `json:"count"`
}

// TimelineMonth is one month bucket, with its days when the full tree is
// requested.
type TimelineMonth struct {
	Month int           `json:"month"`
	Count int64         `json:"count"`
	Days  []TimelineDay `json:"days,omitempty"`
}

// TimelineYear is one year bucket with its months.
type TimelineYear struct {
	Year   int             `json:"year"`
	Count  int64           `json:"count"`
	Months []TimelineMonth `json:"months"`
}

// Timeline handles GET /api/timeline. Without parameters it returns the
// full year/month/day tree; with ?year= it returns that year's months.
func (c *Controller) Timeline(ctx echo.Context) error {
	if year := queryInt(ctx, "year", 0); year != 0 {
		rows, err := c.DS.TimelineMonths(year)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to load timeline", http.StatusInternalServerError)
		}
		months := make([]TimelineMonth, 0, len(rows))
		for _, m := range rows {
			months = append(months, TimelineMonth{Month: m.Month, Count: m.Count})
		}
		return ctx.JSON(http.StatusOK, map[string]any{"year": year, "months": months})
	}

	days, err := c.DS.TimelineDays()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load timeline", http.StatusInternalServerError)
	}

	// Rows arrive newest first; nesting preserves that order
	years := make([]TimelineYear, 0)
	for _, d := range days {
		if len(years) == 0 || years[len(years)-1].Year != d.Year {
			years = append(years, TimelineYear{Year: d.Year})
		}
		y := &years[len(years)-1]
		y.Count += d.Count
		if len(y.Months) == 0 || y.Months[len(y.Months)-1].Month != d.Month {
			y.Months = append(y.Months, TimelineMonth{Month: d.Month})
		}
		m := &y.Months[len(y.Months)-1]
		m.Count += d.Count
		m.Days = append(m.Days, TimelineDay{Day: d.Day, Count: d.Count})
	}

	return ctx.JSON(http.StatusOK, map[string]any{"years": years})
}

// TimelineYears handles GET /api/timeline/years.
func (c *Controller) TimelineYears(ctx echo.Context) error {
	years, err := c.DS.TimelineYears()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load timeline years", http.StatusInternalServerError)
	}

	response := make([]map[string]any, 0, len(years))
	for _, y := range years {
		response = append(response, map[string]any{"year": y.Year, "count": y.Count})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"years": response})
}

// PlaceItem is one country or city with its photo count.
type PlaceItem struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Countries handles GET /api/locations/countries.
func (c *Controller) Countries(ctx echo.Context) error {
	places, err := c.DS.Countries()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list countries", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"countries": placeItems(places)})
}

// Cities handles GET /api/locations/cities?country=.
func (c *Controller) Cities(ctx echo.Context) error {
	country := ctx.QueryParam("country")
	if country == "" {
		return c.HandleError(ctx, nil, "Missing country parameter", http.StatusBadRequest)
	}

	places, err := c.DS.Cities(country)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list cities", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"country": country, "cities": placeItems(places)})
}

func placeItems(places []datastore.PlaceCount) []PlaceItem {
	items := make([]PlaceItem, 0, len(places))
	for _, p := range places {
		items = append(items, PlaceItem{Name: p.Name, Count: p.Count})
	}
	return items
}

// MapPointItem is one geocoded photo for map display.
type MapPointItem struct {
	FileHash  string  `json:"file_hash"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	DateTaken string  `json:"date_taken,omitempty"`
}

// MapPoints handles GET /api/locations/map-points.
func (c *Controller) MapPoints(ctx echo.Context) error {
	points, err := c.DS.MapPoints()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load map points", http.StatusInternalServerError)
	}

	items := make([]MapPointItem, 0, len(points))
	for _, p := range points {
		item := MapPointItem{
			FileHash:  p.FileHash,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
		}
		if p.DateTaken != nil {
			item.DateTaken = p.DateTaken.Format("2006-01-02")
		}
		items = append(items, item)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"points": items})
}

// LocationPhotos handles GET /api/locations/photos?country=&city=.
func (c *Controller) LocationPhotos(ctx echo.Context) error {
	filter := &datastore.PhotoFilter{
		Country: ctx.QueryParam("country"),
		City:    ctx.QueryParam("city"),
	}
	if filter.Country == "" && filter.City == "" {
		return c.HandleError(ctx, nil, "Missing country or city parameter", http.StatusBadRequest)
	}
	return c.searchAndRespond(ctx, filter)
}

// TagItem is one tag with its usage count.
type TagItem struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ListTags handles GET /api/tags.
func (c *Controller) ListTags(ctx echo.Context) error {
	tags, err := c.DS.ListTags()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list tags", http.StatusInternalServerError)
	}

	items := make([]TagItem, 0, len(tags))
	for _, t := range tags {
		items = append(items, TagItem{ID: t.ID, Name: t.Name, Count: t.Count})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"tags": items})
}

// TagPhotos handles GET /api/tags/:id/photos.
func (c *Controller) TagPhotos(ctx echo.Context) error {
	id, err := parseIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid tag ID", http.StatusBadRequest)
	}

	tag, err := c.DS.GetTag(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Tag not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load tag", http.StatusInternalServerError)
	}

	return c.searchAndRespond(ctx, &datastore.PhotoFilter{TagName: tag.Name})
}

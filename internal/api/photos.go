// internal/api/photos.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// statsCacheKey names the cached library stats response.
const statsCacheKey = "photo-stats"

// initPhotoRoutes registers the photo listing and media endpoints.
func (c *Controller) initPhotoRoutes() {
	c.Group.GET("/photos", c.ListPhotos)
	c.Group.GET("/photos/stats", c.PhotoStats)
	c.Group.GET("/photos/:hash", c.PhotoDetail)
	c.Group.GET("/photos/:hash/thumbnail/:size", c.PhotoThumbnail)
	c.Group.GET("/photos/:hash/original", c.PhotoOriginal)
	c.Group.GET("/photos/:hash/live", c.PhotoLiveVideo)
	c.Group.GET("/photos/:hash/faces/:index", c.PhotoFaceCrop)
	c.Group.POST("/photos/:hash/favorite", c.ToggleFavorite)
}

// PhotoItem is the list view of a single photo.
type PhotoItem struct {
	FileHash     string     `json:"file_hash"`
	FilePath     string     `json:"file_path"`
	FileName     string     `json:"file_name"`
	FileSize     int64      `json:"file_size"`
	MimeType     string     `json:"mime_type"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	DateTaken    *time.Time `json:"date_taken"`
	IsFavorite   bool       `json:"is_favorite"`
	ThumbnailURL string     `json:"thumbnail_url"`
	HasLivePhoto bool       `json:"has_live_photo"`
}

// PhotoPage is one page of photos plus paging metadata.
type PhotoPage struct {
	Items    []PhotoItem `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	HasMore  bool        `json:"has_more"`
}

// photoItem converts a catalog photo into its list representation.
func photoItem(p *datastore.Photo) PhotoItem {
	return PhotoItem{
		FileHash:     p.FileHash,
		FilePath:     p.FilePath,
		FileName:     p.FileName,
		FileSize:     p.FileSize,
		MimeType:     p.MimeType,
		Width:        p.Width,
		Height:       p.Height,
		DateTaken:    p.DateTaken,
		IsFavorite:   p.IsFavorite,
		ThumbnailURL: fmt.Sprintf("/api/photos/%s/thumbnail/%d", p.FileHash, artifacts.ThumbSmall),
		HasLivePhoto: p.HasLivePhoto,
	}
}

// photoPage assembles a page envelope from a search result.
func photoPage(photos []datastore.Photo, total int64, page, pageSize int) PhotoPage {
	items := make([]PhotoItem, 0, len(photos))
	for i := range photos {
		items = append(items, photoItem(&photos[i]))
	}
	return PhotoPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  int64(page)*int64(pageSize) < total,
	}
}

// searchAndRespond runs a photo search with paging filled in and writes the
// page envelope. Shared by every endpoint that returns photo lists.
func (c *Controller) searchAndRespond(ctx echo.Context, filter *datastore.PhotoFilter) error {
	page, pageSize := pageParams(ctx)
	filter.Page = page
	filter.PageSize = pageSize

	photos, total, err := c.DS.SearchPhotos(filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to search photos", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, photoPage(photos, total, page, pageSize))
}

// sortToken maps the API's sort and order parameters onto the catalog sort
// vocabulary. Unknown values fall back to newest-first.
func sortToken(sort, order string) string {
	var base string
	switch sort {
	case "file_name":
		base = "name"
	case "file_size":
		base = "size"
	case "indexed_at":
		base = "indexed"
	default:
		base = "date"
	}
	switch order {
	case "asc":
		return base + "_asc"
	case "desc":
		return base + "_desc"
	}
	// Default order: names ascend, everything else newest or biggest first
	if base == "name" {
		return "name_asc"
	}
	return base + "_desc"
}

// ListPhotos handles GET /api/photos with filtering, sorting and paging.
func (c *Controller) ListPhotos(ctx echo.Context) error {
	filter := &datastore.PhotoFilter{
		Query:        ctx.QueryParam("search"),
		Country:      ctx.QueryParam("country"),
		City:         ctx.QueryParam("city"),
		CameraMake:   ctx.QueryParam("camera_make"),
		CameraModel:  ctx.QueryParam("camera_model"),
		Year:         queryInt(ctx, "year", 0),
		Month:        queryInt(ctx, "month", 0),
		Favorite:     queryBoolPtr(ctx, "favorite"),
		HasGPS:       queryBoolPtr(ctx, "has_gps"),
		HasFaces:     queryBoolPtr(ctx, "has_faces"),
		HasLivePhoto: queryBoolPtr(ctx, "has_live_photo"),
		Sort:         sortToken(ctx.QueryParam("sort"), ctx.QueryParam("order")),
	}

	if mimeClass := ctx.QueryParam("type"); mimeClass == "image" || mimeClass == "video" {
		filter.MimeClass = mimeClass
	}

	dateFrom, err := parseDateParam(ctx.QueryParam("date_from"), false)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid date_from parameter", http.StatusBadRequest)
	}
	filter.DateFrom = dateFrom

	dateTo, err := parseDateParam(ctx.QueryParam("date_to"), true)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid date_to parameter", http.StatusBadRequest)
	}
	filter.DateTo = dateTo

	return c.searchAndRespond(ctx, filter)
}

// DiskStats describes data directory disk usage.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// CameraStats is one camera make/model bucket.
type CameraStats struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Count int64  `json:"count"`
}

// LibraryStatsResponse aggregates the whole catalog for the stats endpoint.
type LibraryStatsResponse struct {
	TotalPhotos       int64         `json:"total_photos"`
	TotalVideos       int64         `json:"total_videos"`
	TotalSizeBytes    int64         `json:"total_size_bytes"`
	Favorites         int64         `json:"favorites"`
	WithGPS           int64         `json:"with_gps"`
	WithFaces         int64         `json:"with_faces"`
	WithLivePhoto     int64         `json:"with_live_photo"`
	Captioned         int64         `json:"captioned"`
	MissingFiles      int64         `json:"missing_files"`
	Persons           int64         `json:"persons"`
	Events            int64         `json:"events"`
	DuplicateGroups   int64         `json:"duplicate_groups"`
	Tags              int64         `json:"tags"`
	EarliestTaken     *time.Time    `json:"earliest_taken"`
	LatestTaken       *time.Time    `json:"latest_taken"`
	Cameras           []CameraStats `json:"cameras"`
	DatabaseSizeBytes int64         `json:"database_size_bytes"`
	Disk              *DiskStats    `json:"disk,omitempty"`
}

// PhotoStats handles GET /api/photos/stats. Responses are cached briefly;
// the aggregates cost several full-table scans.
func (c *Controller) PhotoStats(ctx echo.Context) error {
	if cached, found := c.statsCache.Get(statsCacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	stats, err := c.DS.GetLibraryStats()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute library stats", http.StatusInternalServerError)
	}

	cameras, err := c.DS.CameraCounts()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute camera stats", http.StatusInternalServerError)
	}

	response := &LibraryStatsResponse{
		TotalPhotos:     stats.TotalPhotos,
		TotalVideos:     stats.TotalVideos,
		TotalSizeBytes:  stats.TotalSizeBytes,
		Favorites:       stats.Favorites,
		WithGPS:         stats.WithGPS,
		WithFaces:       stats.WithFaces,
		WithLivePhoto:   stats.WithLivePhoto,
		Captioned:       stats.Captioned,
		MissingFiles:    stats.MissingFiles,
		Persons:         stats.Persons,
		Events:          stats.Events,
		DuplicateGroups: stats.DuplicateGroups,
		Tags:            stats.Tags,
		EarliestTaken:   stats.EarliestTaken,
		LatestTaken:     stats.LatestTaken,
	}

	response.Cameras = make([]CameraStats, 0, len(cameras))
	for _, cam := range cameras {
		response.Cameras = append(response.Cameras, CameraStats{Make: cam.Make, Model: cam.Model, Count: cam.Count})
	}

	// Best effort extras, the stats page renders without them
	if size, err := c.DS.DatabaseSizeBytes(); err == nil {
		response.DatabaseSizeBytes = size
	}
	if usage, err := disk.Usage(c.Settings.Library.DataDir); err == nil {
		response.Disk = &DiskStats{
			Path:        usage.Path,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedBytes:   usage.Used,
			UsedPercent: usage.UsedPercent,
		}
	} else if c.apiLogger != nil {
		c.apiLogger.Warn("Disk usage unavailable", "path", c.Settings.Library.DataDir, "error", err)
	}

	c.statsCache.Set(statsCacheKey, response, cache.DefaultExpiration)
	return ctx.JSON(http.StatusOK, response)
}

// ExifInfo is the capture metadata block of a photo detail.
type ExifInfo struct {
	CameraMake   string  `json:"camera_make,omitempty"`
	CameraModel  string  `json:"camera_model,omitempty"`
	LensModel    string  `json:"lens_model,omitempty"`
	ISO          int     `json:"iso,omitempty"`
	FNumber      float64 `json:"f_number,omitempty"`
	ExposureTime string  `json:"exposure_time,omitempty"`
	FocalLength  float64 `json:"focal_length,omitempty"`
	Orientation  int     `json:"orientation,omitempty"`
}

// LocationInfo is the geo block of a photo detail.
type LocationInfo struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// TagRef names one tag attached to a photo.
type TagRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// PersonRef names one person recognized in a photo.
type PersonRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// FaceInfo is one detected face with its crop.
type FaceInfo struct {
	Index      int     `json:"index"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	PersonID   *uint   `json:"person_id,omitempty"`
	CropURL    string  `json:"crop_url"`
}

// EventRef names the event a photo belongs to.
type EventRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// LivePhotoInfo describes the companion video of a live photo.
type LivePhotoInfo struct {
	Source string `json:"source"` // "embedded" or "sidecar"
	URL    string `json:"url"`
}

// PhotoDetailResponse is the full single-photo view.
type PhotoDetailResponse struct {
	PhotoItem
	Directory        string         `json:"directory"`
	MTime            time.Time      `json:"mtime"`
	IndexedAt        time.Time      `json:"indexed_at"`
	Exif             ExifInfo       `json:"exif"`
	Location         *LocationInfo  `json:"location,omitempty"`
	Caption          string         `json:"caption,omitempty"`
	Tags             []TagRef       `json:"tags"`
	Persons          []PersonRef    `json:"persons"`
	Faces            []FaceInfo     `json:"faces"`
	Event            *EventRef      `json:"event,omitempty"`
	LivePhoto        *LivePhotoInfo `json:"live_photo,omitempty"`
	DuplicateGroupID *uint          `json:"duplicate_group_id,omitempty"`
	Missing          bool           `json:"missing,omitempty"`
	OriginalURL      string         `json:"original_url"`
}

// PhotoDetail handles GET /api/photos/:hash.
func (c *Controller) PhotoDetail(ctx echo.Context) error {
	hash := ctx.Param("hash")

	photo, err := c.DS.GetPhotoDetail(hash)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Photo not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load photo", http.StatusInternalServerError)
	}

	detail := &PhotoDetailResponse{
		PhotoItem: photoItem(photo),
		Directory: photo.Directory,
		MTime:     photo.MTime,
		IndexedAt: photo.CreatedAt,
		Exif: ExifInfo{
			CameraMake:   photo.CameraMake,
			CameraModel:  photo.CameraModel,
			LensModel:    photo.LensModel,
			ISO:          photo.ISO,
			FNumber:      photo.FNumber,
			ExposureTime: photo.ExposureTime,
			FocalLength:  photo.FocalLength,
			Orientation:  photo.Orientation,
		},
		Caption:          photo.Caption,
		Tags:             make([]TagRef, 0, len(photo.Tags)),
		Persons:          []PersonRef{},
		Faces:            make([]FaceInfo, 0, len(photo.Faces)),
		DuplicateGroupID: photo.DuplicateGroupID,
		Missing:          photo.Missing,
		OriginalURL:      fmt.Sprintf("/api/photos/%s/original", photo.FileHash),
	}

	if photo.Latitude != nil && photo.Longitude != nil {
		detail.Location = &LocationInfo{
			Latitude:  *photo.Latitude,
			Longitude: *photo.Longitude,
			Altitude:  photo.Altitude,
			Country:   photo.Country,
			City:      photo.City,
			Address:   photo.Address,
		}
	}

	for _, tag := range photo.Tags {
		detail.Tags = append(detail.Tags, TagRef{ID: tag.ID, Name: tag.Name})
	}

	seenPersons := make(map[uint]bool)
	for i := range photo.Faces {
		face := &photo.Faces[i]
		detail.Faces = append(detail.Faces, FaceInfo{
			Index:      face.FaceIndex,
			X:          face.X,
			Y:          face.Y,
			Width:      face.Width,
			Height:     face.Height,
			Confidence: face.Confidence,
			PersonID:   face.PersonID,
			CropURL:    fmt.Sprintf("/api/photos/%s/faces/%d", photo.FileHash, face.FaceIndex),
		})
		if face.Person != nil && !seenPersons[face.Person.ID] {
			seenPersons[face.Person.ID] = true
			detail.Persons = append(detail.Persons, PersonRef{ID: face.Person.ID, Name: face.Person.Name})
		}
	}

	if photo.Event != nil {
		detail.Event = &EventRef{ID: photo.Event.ID, Name: photo.Event.Name}
	}

	if photo.HasLivePhoto && photo.LivePhotoPath != "" {
		detail.LivePhoto = &LivePhotoInfo{
			Source: photo.LivePhotoSource,
			URL:    fmt.Sprintf("/api/photos/%s/live", photo.FileHash),
		}
	}

	return ctx.JSON(http.StatusOK, detail)
}

// PhotoThumbnail handles GET /api/photos/:hash/thumbnail/:size, serving the
// smallest generated thumbnail that covers the requested edge length.
func (c *Controller) PhotoThumbnail(ctx echo.Context) error {
	hash := ctx.Param("hash")
	size, err := strconv.Atoi(ctx.Param("size"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid thumbnail size", http.StatusBadRequest)
	}

	relPath := artifacts.ThumbPath(hash, artifacts.ClosestThumbSize(size))
	return c.files.ServeRelative(ctx, relPath)
}

// PhotoOriginal handles GET /api/photos/:hash/original, streaming the file
// from the library.
func (c *Controller) PhotoOriginal(ctx echo.Context) error {
	photo, err := c.DS.GetPhotoByHash(ctx.Param("hash"))
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Photo not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load photo", http.StatusInternalServerError)
	}

	return c.originals.ServeRelative(ctx, photo.FilePath)
}

// PhotoLiveVideo handles GET /api/photos/:hash/live. Sidecar videos stream
// from the library, embedded ones from the extracted artifact.
func (c *Controller) PhotoLiveVideo(ctx echo.Context) error {
	photo, err := c.DS.GetPhotoByHash(ctx.Param("hash"))
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Photo not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load photo", http.StatusInternalServerError)
	}

	if !photo.HasLivePhoto || photo.LivePhotoPath == "" {
		return c.HandleError(ctx, nil, "Photo has no live video", http.StatusNotFound)
	}

	if photo.LivePhotoSource == "sidecar" {
		return c.originals.ServeRelative(ctx, photo.LivePhotoPath)
	}
	return c.files.ServeRelative(ctx, photo.LivePhotoPath)
}

// PhotoFaceCrop handles GET /api/photos/:hash/faces/:index, serving one
// face crop artifact.
func (c *Controller) PhotoFaceCrop(ctx echo.Context) error {
	hash := ctx.Param("hash")
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil || index < 0 {
		return c.HandleError(ctx, err, "Invalid face index", http.StatusBadRequest)
	}

	return c.files.ServeRelative(ctx, artifacts.FaceCropPath(hash, index))
}

// ToggleFavorite handles POST /api/photos/:hash/favorite.
func (c *Controller) ToggleFavorite(ctx echo.Context) error {
	hash := ctx.Param("hash")

	photo, err := c.DS.GetPhotoByHash(hash)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Photo not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to load photo", http.StatusInternalServerError)
	}

	favorite := !photo.IsFavorite
	if err := c.DS.SetFavorite(hash, favorite); err != nil {
		return c.HandleError(ctx, err, "Failed to update favorite", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"file_hash":   hash,
		"is_favorite": favorite,
	})
}

// queries.go: read-side queries behind the browsing and search API
package datastore

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tphakala/photoindex/internal/errors"
)

const (
	defaultPageSize = 60
	maxPageSize     = 500
)

// SearchPhotos returns one page of photos matching the filter plus the total
// match count.
func (ds *DataStore) SearchPhotos(filter *PhotoFilter) ([]Photo, int64, error) {
	if filter == nil {
		filter = &PhotoFilter{}
	}

	base := applyPhotoFilter(ds.DB.Model(&Photo{}), filter)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "search_photos_count", "")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var photos []Photo
	err := base.Session(&gorm.Session{}).
		Order(orderClause(filter.Sort)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&photos).Error
	if err != nil {
		return nil, 0, dbError(err, "search_photos", "", "page", page)
	}

	return photos, total, nil
}

// applyPhotoFilter translates a PhotoFilter into query conditions.
func applyPhotoFilter(query *gorm.DB, filter *PhotoFilter) *gorm.DB {
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + q + "%"
		query = query.Where(
			`file_name LIKE ? OR caption LIKE ? OR city LIKE ? OR country LIKE ?
			 OR address LIKE ? OR camera_make LIKE ? OR camera_model LIKE ?
			 OR EXISTS (SELECT 1 FROM photo_tags pt JOIN tags t ON t.id = pt.tag_id
			            WHERE pt.photo_id = photos.id AND t.name LIKE ?)
			 OR EXISTS (SELECT 1 FROM faces f JOIN persons p ON p.id = f.person_id
			            WHERE f.photo_id = photos.id AND p.name LIKE ?)`,
			like, like, like, like, like, like, like, like, like)
	}
	if filter.Directory != "" {
		query = query.Where("directory = ?", filter.Directory)
	}
	if filter.Country != "" {
		query = query.Where("country = ?", filter.Country)
	}
	if filter.City != "" {
		query = query.Where("city = ?", filter.City)
	}
	if filter.CameraMake != "" {
		query = query.Where("camera_make = ?", filter.CameraMake)
	}
	if filter.CameraModel != "" {
		query = query.Where("camera_model = ?", filter.CameraModel)
	}
	if filter.TagName != "" {
		query = query.Where("id IN (?)",
			query.Session(&gorm.Session{NewDB: true}).
				Table("photo_tags").
				Select("photo_tags.photo_id").
				Joins("JOIN tags ON tags.id = photo_tags.tag_id").
				Where("tags.name = ?", filter.TagName))
	}
	if filter.PersonID != 0 {
		query = query.Where("id IN (?)",
			query.Session(&gorm.Session{NewDB: true}).
				Table("faces").
				Select("DISTINCT faces.photo_id").
				Where("faces.person_id = ?", filter.PersonID))
	}
	if filter.EventID != 0 {
		query = query.Where("event_id = ?", filter.EventID)
	}
	if filter.DuplicateGroupID != 0 {
		query = query.Where("duplicate_group_id = ?", filter.DuplicateGroupID)
	}
	if filter.Year != 0 {
		query = query.Where("CAST(strftime('%Y', date_taken) AS INTEGER) = ?", filter.Year)
	}
	if filter.Month != 0 {
		query = query.Where("CAST(strftime('%m', date_taken) AS INTEGER) = ?", filter.Month)
	}
	if filter.DateFrom != nil {
		query = query.Where("date_taken >= ?", filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("date_taken <= ?", filter.DateTo)
	}
	if filter.Favorite != nil {
		query = query.Where("is_favorite = ?", *filter.Favorite)
	}
	if filter.HasGPS != nil {
		if *filter.HasGPS {
			query = query.Where("latitude IS NOT NULL AND longitude IS NOT NULL")
		} else {
			query = query.Where("latitude IS NULL")
		}
	}
	if filter.HasFaces != nil {
		sub := "id IN (SELECT DISTINCT photo_id FROM faces)"
		if !*filter.HasFaces {
			sub = "id NOT IN (SELECT DISTINCT photo_id FROM faces)"
		}
		query = query.Where(sub)
	}
	if filter.HasLivePhoto != nil {
		query = query.Where("has_live_photo = ?", *filter.HasLivePhoto)
	}
	if filter.MimeClass != "" {
		query = query.Where("mime_type LIKE ?", filter.MimeClass+"/%")
	}
	if filter.MinSize > 0 {
		query = query.Where("file_size >= ?", filter.MinSize)
	}
	return query
}

// orderClause maps a sort name to SQL. SQLite sorts NULL smallest, so
// descending date order pushes undated photos to the end on its own while
// ascending order needs an explicit NULL demotion.
func orderClause(sort string) string {
	switch sort {
	case "date_asc":
		return "date_taken IS NULL, date_taken ASC, id ASC"
	case "size_asc":
		return "file_size ASC, id ASC"
	case "size_desc":
		return "file_size DESC, id DESC"
	case "name_asc":
		return "file_name COLLATE NOCASE ASC, id ASC"
	case "name_desc":
		return "file_name COLLATE NOCASE DESC, id DESC"
	case "indexed_asc":
		return "created_at ASC, id ASC"
	case "indexed_desc":
		return "created_at DESC, id DESC"
	default: // date_desc
		return "date_taken DESC, id DESC"
	}
}

// CountPhotos returns the total number of indexed files.
func (ds *DataStore) CountPhotos() (int64, error) {
	var count int64
	if err := ds.DB.Model(&Photo{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_photos", "")
	}
	return count, nil
}

// GetLibraryStats aggregates the whole catalog for the stats endpoint.
func (ds *DataStore) GetLibraryStats() (*LibraryStats, error) {
	stats := &LibraryStats{}

	photoCount := func(dest *int64, cond string, args ...any) error {
		return ds.DB.Model(&Photo{}).Where(cond, args...).Count(dest).Error
	}

	steps := []func() error{
		func() error { return photoCount(&stats.TotalPhotos, "mime_type LIKE 'image/%'") },
		func() error { return photoCount(&stats.TotalVideos, "mime_type LIKE 'video/%'") },
		func() error {
			return ds.DB.Model(&Photo{}).
				Select("COALESCE(SUM(file_size), 0)").
				Scan(&stats.TotalSizeBytes).Error
		},
		func() error { return photoCount(&stats.Favorites, "is_favorite = ?", true) },
		func() error { return photoCount(&stats.WithGPS, "latitude IS NOT NULL") },
		func() error { return photoCount(&stats.WithFaces, "id IN (SELECT DISTINCT photo_id FROM faces)") },
		func() error { return photoCount(&stats.WithLivePhoto, "has_live_photo = ?", true) },
		func() error { return photoCount(&stats.Captioned, "caption <> ''") },
		func() error { return photoCount(&stats.MissingFiles, "missing = ?", true) },
		func() error { return ds.DB.Model(&Person{}).Count(&stats.Persons).Error },
		func() error { return ds.DB.Model(&Event{}).Count(&stats.Events).Error },
		func() error { return ds.DB.Model(&DuplicateGroup{}).Count(&stats.DuplicateGroups).Error },
		func() error { return ds.DB.Model(&Tag{}).Count(&stats.Tags).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, dbError(err, "library_stats", "")
		}
	}

	// Aggregate MIN/MAX over DATETIME loses the declared column type on the
	// way back, so take the span from the edge rows instead.
	var edge Photo
	err := ds.DB.Select("date_taken").
		Where("date_taken IS NOT NULL").
		Order("date_taken ASC").
		First(&edge).Error
	if err == nil {
		stats.EarliestTaken = edge.DateTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbError(err, "library_stats", "")
	}
	err = ds.DB.Select("date_taken").
		Where("date_taken IS NOT NULL").
		Order("date_taken DESC").
		First(&edge).Error
	if err == nil {
		stats.LatestTaken = edge.DateTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbError(err, "library_stats", "")
	}

	return stats, nil
}

// Directories lists every directory that holds indexed files, with counts
// and sizes, sorted by path.
func (ds *DataStore) Directories() ([]DirectoryInfo, error) {
	var dirs []DirectoryInfo
	err := ds.DB.Model(&Photo{}).
		Select("directory AS path, COUNT(*) AS photo_count, COALESCE(SUM(file_size), 0) AS total_size").
		Group("directory").
		Order("directory ASC").
		Scan(&dirs).Error
	if err != nil {
		return nil, dbError(err, "directories", "")
	}
	return dirs, nil
}

// TimelineYears buckets dated photos per capture year, newest first.
func (ds *DataStore) TimelineYears() ([]YearCount, error) {
	var years []YearCount
	err := ds.DB.Model(&Photo{}).
		Select("CAST(strftime('%Y', date_taken) AS INTEGER) AS year, COUNT(*) AS count").
		Where("date_taken IS NOT NULL").
		Group("year").
		Order("year DESC").
		Scan(&years).Error
	if err != nil {
		return nil, dbError(err, "timeline_years", "")
	}
	return years, nil
}

// TimelineMonths buckets one year's photos per capture month.
func (ds *DataStore) TimelineMonths(year int) ([]MonthCount, error) {
	var months []MonthCount
	err := ds.DB.Model(&Photo{}).
		Select("CAST(strftime('%m', date_taken) AS INTEGER) AS month, COUNT(*) AS count").
		Where("date_taken IS NOT NULL AND CAST(strftime('%Y', date_taken) AS INTEGER) = ?", year).
		Group("month").
		Order("month ASC").
		Scan(&months).Error
	if err != nil {
		return nil, dbError(err, "timeline_months", "", "year", year)
	}
	for i := range months {
		months[i].Year = year
	}
	return months, nil
}

// TimelineDays buckets every dated photo per capture day, newest first.
// The API nests the flat result into its year/month/day tree.
func (ds *DataStore) TimelineDays() ([]DayCount, error) {
	var days []DayCount
	err := ds.DB.Model(&Photo{}).
		Select(`CAST(strftime('%Y', date_taken) AS INTEGER) AS year,
		        CAST(strftime('%m', date_taken) AS INTEGER) AS month,
		        CAST(strftime('%d', date_taken) AS INTEGER) AS day,
		        COUNT(*) AS count`).
		Where("date_taken IS NOT NULL").
		Group("year, month, day").
		Order("year DESC, month DESC, day DESC").
		Scan(&days).Error
	if err != nil {
		return nil, dbError(err, "timeline_days", "")
	}
	return days, nil
}

// Countries lists countries with geocoded photos, most photos first.
func (ds *DataStore) Countries() ([]PlaceCount, error) {
	var places []PlaceCount
	err := ds.DB.Model(&Photo{}).
		Select("country AS name, COUNT(*) AS count").
		Where("country <> ''").
		Group("country").
		Order("count DESC, country ASC").
		Scan(&places).Error
	if err != nil {
		return nil, dbError(err, "countries", "")
	}
	return places, nil
}

// Cities lists cities within one country, most photos first.
func (ds *DataStore) Cities(country string) ([]PlaceCount, error) {
	var places []PlaceCount
	err := ds.DB.Model(&Photo{}).
		Select("city AS name, COUNT(*) AS count").
		Where("country = ? AND city <> ''", country).
		Group("city").
		Order("count DESC, city ASC").
		Scan(&places).Error
	if err != nil {
		return nil, dbError(err, "cities", "", "country", country)
	}
	return places, nil
}

// MapPoints returns every located photo for map display.
func (ds *DataStore) MapPoints() ([]MapPoint, error) {
	var points []MapPoint
	err := ds.DB.Model(&Photo{}).
		Select("file_hash, latitude, longitude, date_taken").
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Scan(&points).Error
	if err != nil {
		return nil, dbError(err, "map_points", "")
	}
	return points, nil
}

// CameraCounts buckets photos per camera make and model, most used first.
func (ds *DataStore) CameraCounts() ([]CameraCount, error) {
	var cameras []CameraCount
	err := ds.DB.Model(&Photo{}).
		Select("camera_make AS make, camera_model AS model, COUNT(*) AS count").
		Where("camera_make <> '' OR camera_model <> ''").
		Group("camera_make, camera_model").
		Order("count DESC, camera_make ASC, camera_model ASC").
		Scan(&cameras).Error
	if err != nil {
		return nil, dbError(err, "camera_counts", "")
	}
	return cameras, nil
}

// ListTags lists all tags with usage counts, most used first.
func (ds *DataStore) ListTags() ([]TagCount, error) {
	var tags []TagCount
	err := ds.DB.Raw(`
		SELECT t.id, t.name, COUNT(pt.photo_id) AS count
		FROM tags t
		LEFT JOIN photo_tags pt ON pt.tag_id = t.id
		GROUP BY t.id
		ORDER BY count DESC, t.name ASC`).
		Scan(&tags).Error
	if err != nil {
		return nil, dbError(err, "list_tags", "")
	}
	return tags, nil
}

// GetTag retrieves one tag by ID.
func (ds *DataStore) GetTag(id uint) (*Tag, error) {
	var tag Tag
	if err := ds.DB.First(&tag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("tag", fmt.Sprintf("id=%d", id))
		}
		return nil, dbError(err, "get_tag", "", "tag_id", id)
	}
	return &tag, nil
}

// ListEvents lists all events newest first, with member counts and a cover.
func (ds *DataStore) ListEvents() ([]EventSummary, error) {
	var events []EventSummary
	err := ds.DB.Raw(`
		SELECT e.id, e.name, e.start_time, e.end_time, e.city, e.country,
		       (SELECT COUNT(*) FROM photos p WHERE p.event_id = e.id) AS photo_count,
		       COALESCE((SELECT p2.file_hash FROM photos p2 WHERE p2.event_id = e.id
		                 ORDER BY p2.date_taken ASC LIMIT 1), '') AS cover_hash
		FROM events e
		ORDER BY e.start_time DESC`).
		Scan(&events).Error
	if err != nil {
		return nil, dbError(err, "list_events", "")
	}
	return events, nil
}

// GetEvent retrieves one event summary by ID.
func (ds *DataStore) GetEvent(id uint) (*EventSummary, error) {
	var events []EventSummary
	err := ds.DB.Raw(`
		SELECT e.id, e.name, e.start_time, e.end_time, e.city, e.country,
		       (SELECT COUNT(*) FROM photos p WHERE p.event_id = e.id) AS photo_count,
		       COALESCE((SELECT p2.file_hash FROM photos p2 WHERE p2.event_id = e.id
		                 ORDER BY p2.date_taken ASC LIMIT 1), '') AS cover_hash
		FROM events e
		WHERE e.id = ?`, id).
		Scan(&events).Error
	if err != nil {
		return nil, dbError(err, "get_event", "", "event_id", id)
	}
	if len(events) == 0 {
		return nil, notFoundError("event", fmt.Sprintf("id=%d", id))
	}
	return &events[0], nil
}

// DuplicateGroups returns one page of duplicate groups with their members,
// largest file first within each group.
func (ds *DataStore) DuplicateGroups(page, pageSize int) ([]DuplicateGroupView, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var total int64
	if err := ds.DB.Model(&DuplicateGroup{}).Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "duplicate_groups_count", "")
	}

	var groupIDs []uint
	err := ds.DB.Model(&DuplicateGroup{}).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Pluck("id", &groupIDs).Error
	if err != nil {
		return nil, 0, dbError(err, "duplicate_groups", "", "page", page)
	}
	if len(groupIDs) == 0 {
		return []DuplicateGroupView{}, total, nil
	}

	var members []Photo
	err = ds.DB.
		Where("duplicate_group_id IN ?", groupIDs).
		Order("duplicate_group_id ASC, file_size DESC, id ASC").
		Find(&members).Error
	if err != nil {
		return nil, 0, dbError(err, "duplicate_groups", "", "page", page)
	}

	byGroup := make(map[uint][]Photo, len(groupIDs))
	for i := range members {
		gid := *members[i].DuplicateGroupID
		byGroup[gid] = append(byGroup[gid], members[i])
	}

	views := make([]DuplicateGroupView, 0, len(groupIDs))
	for _, gid := range groupIDs {
		views = append(views, DuplicateGroupView{GroupID: gid, Photos: byGroup[gid]})
	}
	return views, total, nil
}

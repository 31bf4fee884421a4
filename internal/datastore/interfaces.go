// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/photoindex/internal/conf"
)

// Interface abstracts the underlying database implementation and defines
// the operations the pipeline and the HTTP API need.
type Interface interface {
	Open() error
	Close() error

	// Catalog files
	GetPhotoByID(id uint) (*Photo, error)
	GetPhotoByPath(path string) (*Photo, error)
	GetPhotoByHash(hash string) (*Photo, error)
	GetPhotoDetail(hash string) (*Photo, error)
	ProbeUnchanged(path string, size int64, mtime time.Time) (*ProbeFile, error)
	AdoptFile(incoming *IncomingFile, stages []StageSeed) (*Photo, AdoptOutcome, error)
	ReconcileMissing(exists func(path string) bool) (marked, cleared int64, err error)
	RemoveMissing(seen map[string]struct{}) (int64, error)
	SetFavorite(hash string, favorite bool) error

	// Work ledger
	ClaimStage(fileID uint, stage Stage) (bool, error)
	RecordAttempt(fileID uint, stage Stage, cause string) error
	MarkDone(fileID uint, stage Stage, version int) error
	MarkFailed(fileID uint, stage Stage, version int, cause string) error
	MarkSkipped(fileID uint, stage Stage, version int, reason string) error
	DemoteInFlight() (int64, error)
	ResetOutdated(stage Stage, version int) (int64, error)
	PendingFiles(stage Stage, limit int) ([]uint, error)
	StageCounts() (map[Stage]StatusCounts, error)
	LedgerEntries(fileID uint) ([]LedgerEntry, error)

	// Stage commits, each one transaction with its ledger mark
	CommitExif(fileID uint, version int, data *ExifData) error
	CommitGeocode(fileID uint, version int, country, city, address string) error
	CommitThumbnails(fileID uint, version int) error
	CommitPHash(fileID uint, version int, pHash, aHash, dHash uint64) error
	CommitMotion(fileID uint, version int, hasLive bool, livePath, liveSource string) error
	CommitFaces(fileID uint, version int, faces []Face) error
	CommitCaption(fileID uint, version int, caption string) error
	CommitTags(fileID uint, version int, tags []string) error

	// Whole-library barriers
	EventPoints() ([]EventPoint, error)
	ReplaceEvents(drafts []EventDraft) error
	PHashEntries() ([]PHashEntry, error)
	ReplaceDuplicateGroups(groups [][]uint) error

	// People
	FaceEmbeddings() ([]FaceEmbedding, error)
	CreatePerson(name string) (*Person, error)
	AssignFaces(assignments map[uint]uint) error
	ReplaceClusters(clusters []FaceCluster) error
	ListPersons() ([]PersonSummary, error)
	GetPerson(id uint) (*Person, error)
	RenamePerson(id uint, name string) error
	MergePersons(srcID, dstID uint) error
	PersonCoverCrop(id uint) (string, error)

	// Read queries
	SearchPhotos(filter *PhotoFilter) ([]Photo, int64, error)
	CountPhotos() (int64, error)
	GetLibraryStats() (*LibraryStats, error)
	CameraCounts() ([]CameraCount, error)
	Directories() ([]DirectoryInfo, error)
	TimelineYears() ([]YearCount, error)
	TimelineMonths(year int) ([]MonthCount, error)
	TimelineDays() ([]DayCount, error)
	Countries() ([]PlaceCount, error)
	Cities(country string) ([]PlaceCount, error)
	MapPoints() ([]MapPoint, error)
	ListTags() ([]TagCount, error)
	GetTag(id uint) (*Tag, error)
	ListEvents() ([]EventSummary, error)
	GetEvent(id uint) (*EventSummary, error)
	DuplicateGroups(page, pageSize int) ([]DuplicateGroupView, int64, error)

	// Scan runs
	StartScanRun() (*ScanRun, error)
	FinishScanRun(id uint, status, message string) error
	UpdateScanCounts(id uint, discovered, processed int64) error
	ActiveScanRun() (*ScanRun, error)
	LatestScanRun() (*ScanRun, error)
	FailAbandonedScanRuns() (int64, error)

	// Maintenance
	ClearIndex() error
	DatabaseSizeBytes() (int64, error)
	Optimize() error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB
	metrics *Metrics
}

// New creates a new datastore instance for the configured database.
// The catalog always lives in a single SQLite file under the data directory.
func New(settings *conf.Settings, dbMetrics *Metrics) Interface {
	return &SQLiteStore{
		Settings: settings,
		DataStore: DataStore{
			metrics: dbMetrics,
		},
	}
}

// ProbeFile is the discovery fast-path result for an unchanged file.
type ProbeFile struct {
	FileID  uint
	Settled bool // every ledger row done, failed or skipped
}

// IncomingFile describes a file found by discovery, after hashing.
type IncomingFile struct {
	Path      string
	Name      string
	Directory string
	Size      int64
	MTime     time.Time
	Hash      string
	MimeType  string

	// OnDisk reports whether a catalog-relative path currently exists in
	// the library. When the incoming hash is already cataloged under a
	// different path, it decides between a move (old path gone) and a
	// byte-duplicate sighting (old path still present). Nil means the
	// caller cannot check and a hash match at a new path counts as a move.
	OnDisk func(path string) bool
}

// StageSeed is the initial ledger state for one stage of a newly adopted
// or changed file. Stages a media type cannot use are seeded skipped.
type StageSeed struct {
	Stage   Stage
	Version int
	Status  Status
	Note    string
}

// AdoptOutcome says what AdoptFile did with an incoming file.
type AdoptOutcome int

const (
	// AdoptNew means the file was never seen before.
	AdoptNew AdoptOutcome = iota
	// AdoptUnchanged means the same content at the same path.
	AdoptUnchanged
	// AdoptMoved means known content reappeared at a different path.
	AdoptMoved
	// AdoptChanged means the path is known but its content changed;
	// all derived data was reset.
	AdoptChanged
	// AdoptDuplicate means known content appeared at a second path while
	// the cataloged path is still on disk. The row is untouched; the
	// catalog keeps one row per content.
	AdoptDuplicate
)

// String returns the outcome name for logs.
func (o AdoptOutcome) String() string {
	switch o {
	case AdoptNew:
		return "new"
	case AdoptUnchanged:
		return "unchanged"
	case AdoptMoved:
		return "moved"
	case AdoptChanged:
		return "changed"
	case AdoptDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// StatusCounts holds per-status ledger totals for one stage.
type StatusCounts struct {
	Pending  int64
	InFlight int64
	Done     int64
	Failed   int64
	Skipped  int64
}

// ExifData carries everything the EXIF stage extracts for one photo.
type ExifData struct {
	Width        int
	Height       int
	Orientation  int
	DateTaken    *time.Time
	CameraMake   string
	CameraModel  string
	LensModel    string
	ISO          int
	FNumber      float64
	ExposureTime string
	FocalLength  float64
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
}

// EventPoint is the minimal photo view the event barrier clusters on.
type EventPoint struct {
	ID        uint
	DateTaken time.Time
	Latitude  *float64
	Longitude *float64
	City      string
	Country   string
}

// EventDraft is one event produced by the barrier, with its members.
type EventDraft struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
	City      string
	Country   string
	PhotoIDs  []uint
}

// PHashEntry pairs a file with its perceptual hash for duplicate grouping.
type PHashEntry struct {
	FileID uint
	Hash   uint64
}

// FaceEmbedding is the clustering view of one stored face.
type FaceEmbedding struct {
	FaceID    uint
	PersonID  *uint
	Embedding []byte
}

// FaceCluster is one cluster produced by a full re-cluster. PersonID nil
// means a new person should be created with the given name.
type FaceCluster struct {
	PersonID *uint
	Name     string
	FaceIDs  []uint
}

// PersonSummary is the list view of a person.
type PersonSummary struct {
	ID         uint
	Name       string
	FaceCount  int64
	PhotoCount int64
	CoverCrop  string
}

// EventSummary is the list view of an event.
type EventSummary struct {
	ID         uint
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	City       string
	Country    string
	PhotoCount int64
	CoverHash  string
}

// DuplicateGroupView is one duplicate group with its member photos.
type DuplicateGroupView struct {
	GroupID uint
	Photos  []Photo
}

// DirectoryInfo aggregates one library directory.
type DirectoryInfo struct {
	Path       string
	PhotoCount int64
	TotalSize  int64
}

// PlaceCount is a named place with its photo count.
type PlaceCount struct {
	Name  string
	Count int64
}

// YearCount is one timeline year bucket.
type YearCount struct {
	Year  int
	Count int64
}

// MonthCount is one timeline month bucket.
type MonthCount struct {
	Year  int
	Month int
	Count int64
}

// DayCount is one timeline day bucket.
type DayCount struct {
	Year  int
	Month int
	Day   int
	Count int64
}

// MapPoint is one geocoded photo for map display.
type MapPoint struct {
	FileHash  string
	Latitude  float64
	Longitude float64
	DateTaken *time.Time
}

// TagCount is a tag with its usage count.
type TagCount struct {
	ID    uint
	Name  string
	Count int64
}

// CameraCount buckets photos by the camera that took them.
type CameraCount struct {
	Make  string
	Model string
	Count int64
}

// LibraryStats aggregates the whole catalog for the stats endpoint.
type LibraryStats struct {
	TotalPhotos     int64
	TotalVideos     int64
	TotalSizeBytes  int64
	Favorites       int64
	WithGPS         int64
	WithFaces       int64
	WithLivePhoto   int64
	Captioned       int64
	MissingFiles    int64
	Persons         int64
	Events          int64
	DuplicateGroups int64
	Tags            int64
	EarliestTaken   *time.Time
	LatestTaken     *time.Time
}

// PhotoFilter narrows and orders photo searches. Zero values mean
// "no constraint". Page numbering starts at 1.
type PhotoFilter struct {
	Query            string
	Directory        string
	Country          string
	City             string
	CameraMake       string
	CameraModel      string
	TagName          string
	PersonID         uint
	EventID          uint
	DuplicateGroupID uint
	Year             int
	Month            int
	DateFrom         *time.Time
	DateTo           *time.Time
	Favorite         *bool
	HasGPS           *bool
	HasFaces         *bool
	HasLivePhoto     *bool
	MimeClass        string // "image" or "video"
	MinSize          int64
	Sort             string // {date,size,name,indexed}_{asc,desc}, default date_desc
	Page             int
	PageSize         int
}

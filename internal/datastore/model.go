// model.go this code defines the data model for the application
package datastore

import "time"

// Stage identifies one per-file step of the ingestion pipeline.
// The work ledger stores one row per (file, stage).
type Stage string

const (
	StageExif    Stage = "exif"
	StageGeocode Stage = "geocode"
	StageThumbs  Stage = "thumbs"
	StageMotion  Stage = "motion"
	StagePHash   Stage = "phash"
	StageFaces   Stage = "faces"
	StageCaption Stage = "caption"
	StageTags    Stage = "tags"
)

// AllStages returns every per-file stage in pipeline order.
// Event grouping and duplicate detection run as whole-library barriers
// and have no ledger rows.
func AllStages() []Stage {
	return []Stage{
		StageExif, StageGeocode, StageThumbs, StageMotion,
		StagePHash, StageFaces, StageCaption, StageTags,
	}
}

// Status is the ledger state of one (file, stage) pair.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Scan run states.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusCancelled = "cancelled"
	ScanStatusFailed    = "failed"
)

// Photo represents a single cataloged media file. The file identity is the
// SHA-256 of its content; the path is where it was last seen.
type Photo struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	FileHash  string `gorm:"uniqueIndex;not null"`
	FilePath  string `gorm:"uniqueIndex;not null"`
	FileName  string `gorm:"not null"`
	Directory string `gorm:"index:idx_photos_directory"` // path relative to the library root, "" for the root itself
	FileSize  int64
	MTime     time.Time `gorm:"column:mtime"`
	MimeType  string

	// From EXIF / decode
	Width        int
	Height       int
	Orientation  int
	DateTaken    *time.Time `gorm:"index:idx_photos_date_taken"`
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

	// From reverse geocoding
	Country string `gorm:"index:idx_photos_country"`
	City    string `gorm:"index:idx_photos_city"`
	Address string

	IsFavorite bool

	// Missing is set by the startup reconcile when the path no longer
	// exists on disk. The record stays until an explicit scan removes it.
	Missing bool `gorm:"index:idx_photos_missing"`

	// Perceptual hashes as 64-bit patterns; nil until computed.
	// Duplicate grouping uses phash; ahash and dhash are kept for
	// inspection and tuning.
	PHash *int64 `gorm:"column:phash;index:idx_photos_phash"`
	AHash *int64 `gorm:"column:ahash"`
	DHash *int64 `gorm:"column:dhash"`

	// Motion photo / live photo companion video
	HasLivePhoto    bool
	LivePhotoPath   string
	LivePhotoSource string // "embedded" or "sidecar"

	Caption string

	EventID          *uint `gorm:"index:idx_photos_event_id"`
	DuplicateGroupID *uint `gorm:"index:idx_photos_duplicate_group_id"`

	Faces []Face `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
	Tags  []Tag  `gorm:"many2many:photo_tags"`
	Event *Event `gorm:"foreignKey:EventID"`
}

// LedgerEntry is one row of the work ledger, the persistent record of what
// processing each file still needs. It survives restarts and is the single
// source of truth for pipeline progress.
type LedgerEntry struct {
	ID           uint   `gorm:"primaryKey"`
	FileID       uint   `gorm:"index:idx_work_ledger_file_stage,unique;not null"`
	Stage        Stage  `gorm:"index:idx_work_ledger_file_stage,unique;not null"`
	Status       Status `gorm:"not null;default:pending;index:idx_work_ledger_stage_status"`
	Attempts     int
	LastError    string
	StageVersion int `gorm:"not null;default:1"`
	UpdatedAt    time.Time
}

// TableName keeps the ledger under its domain name.
func (LedgerEntry) TableName() string { return "work_ledger" }

// ScanRun records one discovery pass over the library.
type ScanRun struct {
	ID              uint      `gorm:"primaryKey"`
	StartedAt       time.Time `gorm:"not null"`
	CompletedAt     *time.Time
	Status          string `gorm:"not null;default:running;index:idx_scan_runs_status"`
	FilesDiscovered int64
	FilesProcessed  int64
	Message         string
}

// Face is one detected face in a photo. The embedding is 512 float32 values
// little-endian, nil when the embedding model was unavailable.
type Face struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	PhotoID   uint `gorm:"index:idx_faces_photo_id;not null"`
	FaceIndex int  // 0-based position within the photo, used in crop artifact names

	PersonID *uint   `gorm:"index:idx_faces_person_id"`
	Person   *Person `gorm:"foreignKey:PersonID"`

	X          int
	Y          int
	Width      int
	Height     int
	Confidence float64
	Embedding  []byte
	CropPath   string
}

// Person is a cluster of faces believed to be the same person.
type Person struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string `gorm:"not null"`
	CoverFaceID *uint
}

// TableName avoids the default pluralization of Person.
func (Person) TableName() string { return "persons" }

// Tag is a normalized lowercase keyword attached to photos.
type Tag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Event is a burst of photos close in time and place. Events are rebuilt
// wholesale by the post-scan barrier.
type Event struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	Name      string
	StartTime time.Time
	EndTime   time.Time
	City      string
	Country   string
}

// DuplicateGroup links photos whose perceptual hashes are near-identical.
// Membership lives in photos.duplicate_group_id and is rebuilt wholesale.
type DuplicateGroup struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
}

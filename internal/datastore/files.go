// files.go: catalog adoption, lookup and removal of indexed files
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/photoindex/internal/errors"
)

// mtimeTolerance absorbs filesystem timestamp granularity: FAT stores
// 2 s steps and network copies often truncate sub-second parts.
const mtimeTolerance = time.Second

// GetPhotoByID retrieves a photo by its database ID.
func (ds *DataStore) GetPhotoByID(id uint) (*Photo, error) {
	var photo Photo
	if err := ds.DB.First(&photo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("photo", fmt.Sprintf("id=%d", id))
		}
		return nil, dbError(err, "get_photo_by_id", "", "photo_id", id)
	}
	return &photo, nil
}

// GetPhotoByPath retrieves a photo by its absolute file path.
func (ds *DataStore) GetPhotoByPath(path string) (*Photo, error) {
	var photo Photo
	if err := ds.DB.Where("file_path = ?", path).First(&photo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("photo", path)
		}
		return nil, dbError(err, "get_photo_by_path", "", "file_path", path)
	}
	return &photo, nil
}

// GetPhotoByHash retrieves a photo by its content hash.
func (ds *DataStore) GetPhotoByHash(hash string) (*Photo, error) {
	var photo Photo
	if err := ds.DB.Where("file_hash = ?", hash).First(&photo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("photo", hash)
		}
		return nil, dbError(err, "get_photo_by_hash", "", "file_hash", hash)
	}
	return &photo, nil
}

// GetPhotoDetail retrieves a photo by hash with faces, persons, tags and
// event loaded for the detail view.
func (ds *DataStore) GetPhotoDetail(hash string) (*Photo, error) {
	var photo Photo
	err := ds.DB.
		Preload("Faces", func(db *gorm.DB) *gorm.DB { return db.Order("faces.face_index ASC") }).
		Preload("Faces.Person").
		Preload("Tags").
		Preload("Event").
		Where("file_hash = ?", hash).
		First(&photo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("photo", hash)
		}
		return nil, dbError(err, "get_photo_detail", "", "file_hash", hash)
	}
	return &photo, nil
}

// ProbeUnchanged reports whether a path is already cataloged with this size
// and an mtime within tolerance, without reading file content. A hit means
// discovery can skip hashing; Settled additionally says whether every ledger
// row of the file is in a terminal state.
func (ds *DataStore) ProbeUnchanged(path string, size int64, mtime time.Time) (*ProbeFile, error) {
	var photo Photo
	err := ds.DB.Select("id", "file_size", "mtime", "missing").
		Where("file_path = ?", path).First(&photo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "probe_unchanged", "", "file_path", path)
	}

	if photo.FileSize != size {
		return nil, nil
	}
	if d := photo.MTime.Sub(mtime); d > mtimeTolerance || d < -mtimeTolerance {
		return nil, nil
	}

	if photo.Missing {
		// The path is back on disk; the flag no longer holds.
		if err := ds.DB.Model(&Photo{}).Where("id = ?", photo.ID).
			Update("missing", false).Error; err != nil {
			return nil, dbError(err, "probe_unchanged", "", "file_path", path)
		}
	}

	var open int64
	err = ds.DB.Model(&LedgerEntry{}).
		Where("file_id = ? AND status IN ?", photo.ID,
			[]Status{StatusPending, StatusInFlight}).
		Count(&open).Error
	if err != nil {
		return nil, dbError(err, "probe_unchanged", "", "file_id", photo.ID)
	}

	return &ProbeFile{FileID: photo.ID, Settled: open == 0}, nil
}

// ReconcileMissing walks the catalog and flips the missing flag to match the
// given existence check. No file content is read and no processing state
// changes; this is the entire filesystem interaction permitted at startup.
func (ds *DataStore) ReconcileMissing(exists func(path string) bool) (marked, cleared int64, err error) {
	type row struct {
		ID       uint
		FilePath string
		Missing  bool
	}

	var gone, back []uint
	var batch []row
	err = ds.DB.Model(&Photo{}).
		Select("id", "file_path", "missing").
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				onDisk := exists(batch[i].FilePath)
				switch {
				case !onDisk && !batch[i].Missing:
					gone = append(gone, batch[i].ID)
				case onDisk && batch[i].Missing:
					back = append(back, batch[i].ID)
				}
			}
			return nil
		}).Error
	if err != nil {
		return 0, 0, dbError(err, "reconcile_missing", "")
	}

	if marked, err = ds.setMissing(gone, true); err != nil {
		return marked, 0, err
	}
	if cleared, err = ds.setMissing(back, false); err != nil {
		return marked, cleared, err
	}
	if marked > 0 || cleared > 0 {
		getLogger().Info("Reconciled missing files", "marked", marked, "cleared", cleared)
	}
	return marked, cleared, nil
}

func (ds *DataStore) setMissing(ids []uint, missing bool) (int64, error) {
	var updated int64
	for _, chunk := range chunkIDs(ids, sqliteMaxBindVars) {
		res := ds.DB.Model(&Photo{}).Where("id IN ?", chunk).Update("missing", missing)
		if res.Error != nil {
			return updated, dbError(res.Error, "set_missing", "")
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

// AdoptFile records a discovered file after hashing and decides what kind of
// arrival it is. Content identity is the hash: a known hash at a new path is
// a move when the cataloged path is gone, a duplicate sighting when it is
// still on disk, and a known path with a new hash is changed content that
// resets all derived data. Ledger rows for the given stages are seeded as
// needed, all in one transaction.
func (ds *DataStore) AdoptFile(incoming *IncomingFile, stages []StageSeed) (*Photo, AdoptOutcome, error) {
	if incoming == nil {
		return nil, AdoptNew, validationError("incoming file is nil", "incoming", nil)
	}
	if incoming.Hash == "" {
		return nil, AdoptNew, validationError("incoming file has no hash", "hash", incoming.Path)
	}
	if incoming.Path == "" {
		return nil, AdoptNew, validationError("incoming file has no path", "path", incoming.Hash)
	}

	var (
		photo   Photo
		outcome AdoptOutcome
	)

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("file_hash = ?", incoming.Hash).First(&photo).Error
		switch {
		case err == nil:
			if photo.FilePath == incoming.Path {
				outcome = AdoptUnchanged
				if err := tx.Model(&photo).Updates(map[string]any{
					"file_size": incoming.Size,
					"mtime":     incoming.MTime,
					"missing":   false,
				}).Error; err != nil {
					return err
				}
			} else if incoming.OnDisk != nil && incoming.OnDisk(photo.FilePath) {
				// The cataloged copy is still there, so this is a second
				// file with the same bytes, not a move. Stealing the path
				// would ping-pong it between the copies on every rescan
				// and re-hash both files forever.
				outcome = AdoptDuplicate
				return nil
			} else {
				outcome = AdoptMoved
				// A stale record may still claim the new path with old
				// content; it loses to the hash identity.
				if err := tx.Where("file_path = ? AND id <> ?", incoming.Path, photo.ID).
					Delete(&Photo{}).Error; err != nil {
					return err
				}
				if err := tx.Model(&photo).Updates(map[string]any{
					"file_path": incoming.Path,
					"file_name": incoming.Name,
					"directory": incoming.Directory,
					"file_size": incoming.Size,
					"mtime":     incoming.MTime,
					"missing":   false,
				}).Error; err != nil {
					return err
				}
			}
			if err := seedMissingStages(tx, photo.ID, stages); err != nil {
				return err
			}
			return tx.First(&photo, photo.ID).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			// Unknown content, check whether the path is known

		default:
			return err
		}

		err = tx.Where("file_path = ?", incoming.Path).First(&photo).Error
		switch {
		case err == nil:
			outcome = AdoptChanged
			if err := resetChangedFile(tx, &photo, incoming, stages); err != nil {
				return err
			}
			return tx.First(&photo, photo.ID).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			outcome = AdoptNew
			photo = Photo{
				FileHash:  incoming.Hash,
				FilePath:  incoming.Path,
				FileName:  incoming.Name,
				Directory: incoming.Directory,
				FileSize:  incoming.Size,
				MTime:     incoming.MTime,
				MimeType:  incoming.MimeType,
			}
			if err := tx.Create(&photo).Error; err != nil {
				return err
			}
			return insertStageSeeds(tx, photo.ID, stages)

		default:
			return err
		}
	})
	if err != nil {
		return nil, outcome, dbError(err, "adopt_file", "", "file_path", incoming.Path)
	}

	return &photo, outcome, nil
}

// resetChangedFile rewrites a photo whose content changed in place. All
// derived columns go back to their unprocessed state, dependent rows are
// dropped and the ledger is rebuilt from the seeds. The favorite flag is
// user intent on the path and survives.
func resetChangedFile(tx *gorm.DB, photo *Photo, incoming *IncomingFile, stages []StageSeed) error {
	if err := tx.Model(photo).Updates(map[string]any{
		"file_hash": incoming.Hash,
		"file_name": incoming.Name,
		"directory": incoming.Directory,
		"file_size": incoming.Size,
		"mtime":     incoming.MTime,
		"mime_type": incoming.MimeType,
		"missing":   false,

		"width":         0,
		"height":        0,
		"orientation":   0,
		"date_taken":    nil,
		"camera_make":   "",
		"camera_model":  "",
		"lens_model":    "",
		"iso":           0,
		"f_number":      0,
		"exposure_time": "",
		"focal_length":  0,
		"latitude":      nil,
		"longitude":     nil,
		"altitude":      nil,
		"country":       "",
		"city":          "",
		"address":       "",

		"phash":              nil,
		"ahash":              nil,
		"dhash":              nil,
		"has_live_photo":     false,
		"live_photo_path":    "",
		"live_photo_source":  "",
		"caption":            "",
		"event_id":           nil,
		"duplicate_group_id": nil,
	}).Error; err != nil {
		return err
	}

	if err := tx.Where("photo_id = ?", photo.ID).Delete(&Face{}).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM photo_tags WHERE photo_id = ?", photo.ID).Error; err != nil {
		return err
	}
	if err := tx.Where("file_id = ?", photo.ID).Delete(&LedgerEntry{}).Error; err != nil {
		return err
	}
	return insertStageSeeds(tx, photo.ID, stages)
}

// insertStageSeeds creates fresh ledger rows for every seed.
func insertStageSeeds(tx *gorm.DB, fileID uint, stages []StageSeed) error {
	if len(stages) == 0 {
		return nil
	}
	entries := make([]LedgerEntry, 0, len(stages))
	for _, seed := range stages {
		entries = append(entries, newLedgerEntry(fileID, seed))
	}
	return tx.Create(&entries).Error
}

// seedMissingStages adds ledger rows only for stages the file does not have
// yet, leaving existing progress untouched. New stages appear when a build
// adds pipeline capabilities to an already indexed library.
func seedMissingStages(tx *gorm.DB, fileID uint, stages []StageSeed) error {
	if len(stages) == 0 {
		return nil
	}

	var existing []Stage
	if err := tx.Model(&LedgerEntry{}).
		Where("file_id = ?", fileID).
		Pluck("stage", &existing).Error; err != nil {
		return err
	}
	have := make(map[Stage]struct{}, len(existing))
	for _, s := range existing {
		have[s] = struct{}{}
	}

	var entries []LedgerEntry
	for _, seed := range stages {
		if _, ok := have[seed.Stage]; ok {
			continue
		}
		entries = append(entries, newLedgerEntry(fileID, seed))
	}
	if len(entries) == 0 {
		return nil
	}
	return tx.Create(&entries).Error
}

// newLedgerEntry builds one ledger row from a seed, applying defaults.
func newLedgerEntry(fileID uint, seed StageSeed) LedgerEntry {
	status := seed.Status
	if status == "" {
		status = StatusPending
	}
	version := seed.Version
	if version <= 0 {
		version = 1
	}
	return LedgerEntry{
		FileID:       fileID,
		Stage:        seed.Stage,
		Status:       status,
		LastError:    seed.Note,
		StageVersion: version,
	}
}

// RemoveMissing deletes catalog entries whose paths were not seen by the
// just-completed scan. Dependent faces, tags and ledger rows go with them
// through foreign keys. Returns the number of photos removed.
func (ds *DataStore) RemoveMissing(seen map[string]struct{}) (int64, error) {
	type row struct {
		ID       uint
		FilePath string
	}

	var stale []uint
	var batch []row
	err := ds.DB.Model(&Photo{}).
		Select("id", "file_path").
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				if _, ok := seen[batch[i].FilePath]; !ok {
					stale = append(stale, batch[i].ID)
				}
			}
			return nil
		}).Error
	if err != nil {
		return 0, dbError(err, "remove_missing", "")
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var removed int64
	for start := 0; start < len(stale); start += 500 {
		end := min(start+500, len(stale))
		res := ds.DB.Delete(&Photo{}, stale[start:end])
		if res.Error != nil {
			return removed, dbError(res.Error, "remove_missing", "")
		}
		removed += res.RowsAffected
	}

	getLogger().Info("Removed missing files from catalog", "count", removed)
	return removed, nil
}

// SetFavorite flips the favorite flag on a photo identified by hash.
func (ds *DataStore) SetFavorite(hash string, favorite bool) error {
	res := ds.DB.Model(&Photo{}).Where("file_hash = ?", hash).Update("is_favorite", favorite)
	if res.Error != nil {
		return dbError(res.Error, "set_favorite", "", "file_hash", hash)
	}
	if res.RowsAffected == 0 {
		return notFoundError("photo", hash)
	}
	return nil
}

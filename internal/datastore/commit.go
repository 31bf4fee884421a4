// commit.go: stage result commits, each one transaction covering the photo
// update and its ledger mark so a crash can never record a result without
// marking the stage done or the other way around
package datastore

import (
	"fmt"

	"gorm.io/gorm"
)

// markDoneTx marks a stage done inside an open transaction.
func markDoneTx(tx *gorm.DB, fileID uint, stage Stage, version int) error {
	res := tx.Model(&LedgerEntry{}).
		Where("file_id = ? AND stage = ?", fileID, stage).
		Updates(map[string]any{
			"status":        StatusDone,
			"stage_version": version,
			"last_error":    "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no ledger row for file %d stage %s", fileID, stage)
	}
	return nil
}

// CommitExif stores extracted metadata and finishes the exif stage.
func (ds *DataStore) CommitExif(fileID uint, version int, data *ExifData) error {
	if data == nil {
		return validationError("exif data is nil", "data", fileID)
	}
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Photo{}).Where("id = ?", fileID).Updates(map[string]any{
			"width":         data.Width,
			"height":        data.Height,
			"orientation":   data.Orientation,
			"date_taken":    data.DateTaken,
			"camera_make":   data.CameraMake,
			"camera_model":  data.CameraModel,
			"lens_model":    data.LensModel,
			"iso":           data.ISO,
			"f_number":      data.FNumber,
			"exposure_time": data.ExposureTime,
			"focal_length":  data.FocalLength,
			"latitude":      data.Latitude,
			"longitude":     data.Longitude,
			"altitude":      data.Altitude,
		}).Error; err != nil {
			return err
		}
		return markDoneTx(tx, fileID, StageExif, version)
	})
	if err != nil {
		return dbError(err, "commit_exif", "", "file_id", fileID)
	}
	return nil
}

// CommitGeocode stores the resolved place names and finishes the geocode stage.
func (ds *DataStore) CommitGeocode(fileID uint, version int, country, city, address string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Photo{}).Where("id = ?", fileID).Updates(map[string]any{
			"country": country,
			"city":    city,
			"address": address,
		}).Error; err != nil {
			return err
		}
		return markDoneTx(tx, fileID, StageGeocode, version)
	})
	if err != nil {
		return dbError(err, "commit_geocode", "", "file_id", fileID)
	}
	return nil
}

// CommitThumbnails finishes the thumbs stage. Thumbnail files live on disk
// under paths derived from the content hash, so there is nothing to store.
func (ds *DataStore) CommitThumbnails(fileID uint, version int) error {
	if err := ds.MarkDone(fileID, StageThumbs, version); err != nil {
		return err
	}
	return nil
}

// CommitPHash stores the perceptual hashes and finishes the phash stage.
// Hashes are kept as signed 64-bit values with the same bit pattern.
func (ds *DataStore) CommitPHash(fileID uint, version int, pHash, aHash, dHash uint64) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Photo{}).Where("id = ?", fileID).Updates(map[string]any{
			"phash": int64(pHash),
			"ahash": int64(aHash),
			"dhash": int64(dHash),
		}).Error; err != nil {
			return err
		}
		return markDoneTx(tx, fileID, StagePHash, version)
	})
	if err != nil {
		return dbError(err, "commit_phash", "", "file_id", fileID)
	}
	return nil
}

// CommitMotion stores the live photo companion state and finishes the
// motion stage. hasLive false with empty paths is the common no-motion case.
func (ds *DataStore) CommitMotion(fileID uint, version int, hasLive bool, livePath, liveSource string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Photo{}).Where("id = ?", fileID).Updates(map[string]any{
			"has_live_photo":    hasLive,
			"live_photo_path":   livePath,
			"live_photo_source": liveSource,
		}).Error; err != nil {
			return err
		}
		return markDoneTx(tx, fileID, StageMotion, version)
	})
	if err != nil {
		return dbError(err, "commit_motion", "", "file_id", fileID)
	}
	return nil
}

// CommitFaces replaces the detected faces of a photo and finishes the faces
// stage. Replacing instead of appending keeps re-runs idempotent.
func (ds *DataStore) CommitFaces(fileID uint, version int, faces []Face) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("photo_id = ?", fileID).Delete(&Face{}).Error; err != nil {
			return err
		}
		if len(faces) > 0 {
			for i := range faces {
				faces[i].ID = 0
				faces[i].PhotoID = fileID
			}
			if err := tx.Create(&faces).Error; err != nil {
				return err
			}
		}
		return markDoneTx(tx, fileID, StageFaces, version)
	})
	if err != nil {
		return dbError(err, "commit_faces", "", "file_id", fileID, "face_count", len(faces))
	}
	return nil
}

// CommitCaption stores the generated caption and finishes the caption stage.
func (ds *DataStore) CommitCaption(fileID uint, version int, caption string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Photo{}).Where("id = ?", fileID).
			Update("caption", caption).Error; err != nil {
			return err
		}
		return markDoneTx(tx, fileID, StageCaption, version)
	})
	if err != nil {
		return dbError(err, "commit_caption", "", "file_id", fileID)
	}
	return nil
}

// CommitTags replaces the tag set of a photo and finishes the tags stage.
// Tag rows are shared across photos and created on first use; only the
// links are replaced.
func (ds *DataStore) CommitTags(fileID uint, version int, tags []string) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM photo_tags WHERE photo_id = ?", fileID).Error; err != nil {
			return err
		}
		for _, name := range tags {
			var tag Tag
			if err := tx.Where(Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			if err := tx.Exec("INSERT OR IGNORE INTO photo_tags (photo_id, tag_id) VALUES (?, ?)",
				fileID, tag.ID).Error; err != nil {
				return err
			}
		}
		return markDoneTx(tx, fileID, StageTags, version)
	})
	if err != nil {
		return dbError(err, "commit_tags", "", "file_id", fileID, "tag_count", len(tags))
	}
	return nil
}

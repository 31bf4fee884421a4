// people.go: persisted face clusters and the persons they form
package datastore

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tphakala/photoindex/internal/errors"
)

// FaceEmbeddings returns every face that has an embedding, with its current
// person assignment. This is the clustering working set.
func (ds *DataStore) FaceEmbeddings() ([]FaceEmbedding, error) {
	var rows []FaceEmbedding
	err := ds.DB.Model(&Face{}).
		Select("id AS face_id, person_id, embedding").
		Where("embedding IS NOT NULL").
		Order("id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "face_embeddings", "")
	}
	return rows, nil
}

// CreatePerson creates a new named person.
func (ds *DataStore) CreatePerson(name string) (*Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("person name is empty", "name", name)
	}
	person := Person{Name: name}
	if err := ds.DB.Create(&person).Error; err != nil {
		return nil, dbError(err, "create_person", "", "name", name)
	}
	return &person, nil
}

// AssignFaces sets the person of each given face. Used by the incremental
// matcher when new faces land near an existing person centroid.
func (ds *DataStore) AssignFaces(assignments map[uint]uint) error {
	if len(assignments) == 0 {
		return nil
	}

	// Group by person so each person costs one update
	byPerson := make(map[uint][]uint)
	for faceID, personID := range assignments {
		byPerson[personID] = append(byPerson[personID], faceID)
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		for personID, faceIDs := range byPerson {
			for _, chunk := range chunkIDs(faceIDs, sqliteMaxBindVars) {
				if err := tx.Model(&Face{}).
					Where("id IN ?", chunk).
					Update("person_id", personID).Error; err != nil {
					return err
				}
			}
		}
		return refreshMissingCovers(tx)
	})
	if err != nil {
		return dbError(err, "assign_faces", "", "face_count", len(assignments))
	}
	return nil
}

// ReplaceClusters applies a full re-cluster result: every face assignment is
// rewritten, new persons are created for new clusters, persons left without
// faces are removed and covers are refreshed. Existing person names survive
// through the PersonID carried in each cluster.
func (ds *DataStore) ReplaceClusters(clusters []FaceCluster) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE faces SET person_id = NULL").Error; err != nil {
			return err
		}

		for i := range clusters {
			personID := uint(0)
			if clusters[i].PersonID != nil {
				personID = *clusters[i].PersonID
			} else {
				person := Person{Name: clusters[i].Name}
				if err := tx.Create(&person).Error; err != nil {
					return err
				}
				personID = person.ID
			}

			for _, chunk := range chunkIDs(clusters[i].FaceIDs, sqliteMaxBindVars) {
				if err := tx.Model(&Face{}).
					Where("id IN ?", chunk).
					Update("person_id", personID).Error; err != nil {
					return err
				}
			}
		}

		// Persons that lost every face disappear
		if err := tx.Exec(`DELETE FROM persons WHERE id NOT IN
			(SELECT DISTINCT person_id FROM faces WHERE person_id IS NOT NULL)`).Error; err != nil {
			return err
		}

		// Re-pick every cover, old ones may point at reassigned faces
		if err := tx.Exec("UPDATE persons SET cover_face_id = NULL").Error; err != nil {
			return err
		}
		return refreshMissingCovers(tx)
	})
	if err != nil {
		return dbError(err, "replace_clusters", "", "cluster_count", len(clusters))
	}

	getLogger().Info("Rebuilt face clusters", "count", len(clusters))
	return nil
}

// refreshMissingCovers picks the highest-confidence face as cover for every
// person that has none.
func refreshMissingCovers(tx *gorm.DB) error {
	return tx.Exec(`UPDATE persons SET cover_face_id =
		(SELECT f.id FROM faces f WHERE f.person_id = persons.id
		 ORDER BY f.confidence DESC, f.id ASC LIMIT 1)
		WHERE cover_face_id IS NULL`).Error
}

// ListPersons returns all persons with face and photo counts, most photos
// first.
func (ds *DataStore) ListPersons() ([]PersonSummary, error) {
	var summaries []PersonSummary
	err := ds.DB.Raw(`
		SELECT p.id, p.name,
		       COUNT(f.id) AS face_count,
		       COUNT(DISTINCT f.photo_id) AS photo_count,
		       COALESCE(
		           (SELECT f2.crop_path FROM faces f2 WHERE f2.id = p.cover_face_id),
		           (SELECT f3.crop_path FROM faces f3 WHERE f3.person_id = p.id
		            ORDER BY f3.confidence DESC, f3.id ASC LIMIT 1),
		           '') AS cover_crop
		FROM persons p
		LEFT JOIN faces f ON f.person_id = p.id
		GROUP BY p.id
		ORDER BY photo_count DESC, face_count DESC, p.name ASC`).
		Scan(&summaries).Error
	if err != nil {
		return nil, dbError(err, "list_persons", "")
	}
	return summaries, nil
}

// GetPerson retrieves a person by ID.
func (ds *DataStore) GetPerson(id uint) (*Person, error) {
	var person Person
	if err := ds.DB.First(&person, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("person", fmt.Sprintf("id=%d", id))
		}
		return nil, dbError(err, "get_person", "", "person_id", id)
	}
	return &person, nil
}

// RenamePerson sets a person's display name.
func (ds *DataStore) RenamePerson(id uint, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("person name is empty", "name", name)
	}
	res := ds.DB.Model(&Person{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return dbError(res.Error, "rename_person", "", "person_id", id)
	}
	if res.RowsAffected == 0 {
		return notFoundError("person", fmt.Sprintf("id=%d", id))
	}
	return nil
}

// MergePersons moves every face of src onto dst and removes src. The
// destination keeps its name and cover; the cover is only adopted from src
// when dst has none.
func (ds *DataStore) MergePersons(srcID, dstID uint) error {
	if srcID == dstID {
		return validationError("cannot merge a person into itself", "person_id", srcID)
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var src, dst Person
		if err := tx.First(&src, srcID).Error; err != nil {
			return err
		}
		if err := tx.First(&dst, dstID).Error; err != nil {
			return err
		}

		if err := tx.Model(&Face{}).
			Where("person_id = ?", srcID).
			Update("person_id", dstID).Error; err != nil {
			return err
		}

		if dst.CoverFaceID == nil && src.CoverFaceID != nil {
			if err := tx.Model(&dst).
				Update("cover_face_id", *src.CoverFaceID).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&Person{}, srcID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError("person", fmt.Sprintf("src=%d dst=%d", srcID, dstID))
		}
		return dbError(err, "merge_persons", "", "src_id", srcID, "dst_id", dstID)
	}

	getLogger().Info("Merged persons", "src_id", srcID, "dst_id", dstID)
	return nil
}

// PersonCoverCrop returns the crop artifact path representing a person,
// falling back to the best face when the stored cover no longer exists.
func (ds *DataStore) PersonCoverCrop(id uint) (string, error) {
	person, err := ds.GetPerson(id)
	if err != nil {
		return "", err
	}

	if person.CoverFaceID != nil {
		var crop string
		err := ds.DB.Model(&Face{}).
			Select("crop_path").
			Where("id = ? AND person_id = ?", *person.CoverFaceID, id).
			Limit(1).
			Scan(&crop).Error
		if err != nil {
			return "", dbError(err, "person_cover_crop", "", "person_id", id)
		}
		if crop != "" {
			return crop, nil
		}
	}

	var crop string
	err = ds.DB.Model(&Face{}).
		Select("crop_path").
		Where("person_id = ? AND crop_path <> ''", id).
		Order("confidence DESC, id ASC").
		Limit(1).
		Scan(&crop).Error
	if err != nil {
		return "", dbError(err, "person_cover_crop", "", "person_id", id)
	}
	if crop == "" {
		return "", notFoundError("face crop", fmt.Sprintf("person=%d", id))
	}
	return crop, nil
}

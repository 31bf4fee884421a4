// barrier.go: bulk reads and wholesale rebuilds used by the post-scan
// barrier, which regroups the whole library rather than patching increments
package datastore

import (
	"gorm.io/gorm"
)

// sqliteMaxBindVars stays under SQLite's default host parameter limit.
const sqliteMaxBindVars = 500

func chunkIDs(ids []uint, size int) [][]uint {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]uint, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// EventPoints returns every dated photo in capture order with its location,
// the input of the event grouping pass.
func (ds *DataStore) EventPoints() ([]EventPoint, error) {
	var points []EventPoint
	err := ds.DB.Model(&Photo{}).
		Select("id, date_taken, latitude, longitude, city, country").
		Where("date_taken IS NOT NULL").
		Order("date_taken ASC, id ASC").
		Scan(&points).Error
	if err != nil {
		return nil, dbError(err, "event_points", "")
	}
	return points, nil
}

// ReplaceEvents drops all events and recreates them from the drafts. The
// foreign key on photos.event_id nulls memberships of deleted events, so a
// failed rebuild leaves no dangling references.
func (ds *DataStore) ReplaceEvents(drafts []EventDraft) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM events").Error; err != nil {
			return err
		}
		for i := range drafts {
			event := Event{
				Name:      drafts[i].Name,
				StartTime: drafts[i].StartTime,
				EndTime:   drafts[i].EndTime,
				City:      drafts[i].City,
				Country:   drafts[i].Country,
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}
			for _, chunk := range chunkIDs(drafts[i].PhotoIDs, sqliteMaxBindVars) {
				if err := tx.Model(&Photo{}).
					Where("id IN ?", chunk).
					Update("event_id", event.ID).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "replace_events", "", "event_count", len(drafts))
	}

	getLogger().Info("Rebuilt events", "count", len(drafts))
	return nil
}

// PHashEntries returns every computed perceptual hash, the input of
// duplicate grouping.
func (ds *DataStore) PHashEntries() ([]PHashEntry, error) {
	var rows []struct {
		ID    uint
		PHash int64
	}
	err := ds.DB.Model(&Photo{}).
		Select("id, phash").
		Where("phash IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "phash_entries", "")
	}

	entries := make([]PHashEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, PHashEntry{
			FileID: row.ID,
			Hash:   uint64(row.PHash),
		})
	}
	return entries, nil
}

// ReplaceDuplicateGroups drops all duplicate groups and recreates them.
// Groups with fewer than two members are ignored.
func (ds *DataStore) ReplaceDuplicateGroups(groups [][]uint) error {
	kept := 0
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM duplicate_groups").Error; err != nil {
			return err
		}
		for _, members := range groups {
			if len(members) < 2 {
				continue
			}
			group := DuplicateGroup{}
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
			for _, chunk := range chunkIDs(members, sqliteMaxBindVars) {
				if err := tx.Model(&Photo{}).
					Where("id IN ?", chunk).
					Update("duplicate_group_id", group.ID).Error; err != nil {
					return err
				}
			}
			kept++
		}
		return nil
	})
	if err != nil {
		return dbError(err, "replace_duplicate_groups", "", "group_count", len(groups))
	}

	getLogger().Info("Rebuilt duplicate groups", "count", kept)
	return nil
}

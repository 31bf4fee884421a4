// manage.go: destructive reset and database maintenance
package datastore

import (
	"gorm.io/gorm"
)

// clearOrder deletes child tables before their parents so foreign keys
// never block the sweep.
var clearOrder = []string{
	"photo_tags",
	"faces",
	"work_ledger",
	"photos",
	"persons",
	"tags",
	"events",
	"duplicate_groups",
	"scan_runs",
}

// ClearIndex removes every record from the catalog and compacts the file.
// The photo files themselves are never touched; artifact cleanup on disk is
// the caller's job. This cannot be undone.
func (ds *DataStore) ClearIndex() error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		for _, table := range clearOrder {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}

		// Reset AUTOINCREMENT counters; sqlite_sequence only exists once
		// an autoincrement insert has happened
		var hasSequence int
		if err := tx.Raw(`SELECT COUNT(*) FROM sqlite_master
			WHERE type = 'table' AND name = 'sqlite_sequence'`).Scan(&hasSequence).Error; err != nil {
			return err
		}
		if hasSequence > 0 {
			if err := tx.Exec("DELETE FROM sqlite_sequence").Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stateError(err, "clear_index", "transaction")
	}

	// VACUUM cannot run inside a transaction
	if err := ds.DB.Exec("VACUUM").Error; err != nil {
		return dbError(err, "clear_index_vacuum", "")
	}

	getLogger().Warn("Cleared the entire index")
	return nil
}

// Optimize runs SQLite's query planner maintenance and truncates the WAL.
// Intended for shutdown and after large rebuilds.
func (ds *DataStore) Optimize() error {
	if err := ds.DB.Exec("PRAGMA optimize").Error; err != nil {
		return dbError(err, "optimize", "")
	}
	if err := ds.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return dbError(err, "optimize_checkpoint", "")
	}
	return nil
}

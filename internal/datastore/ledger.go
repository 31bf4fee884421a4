// ledger.go: the persistent work ledger, per-file per-stage processing state
package datastore

import (
	"fmt"

	"gorm.io/gorm"
)

// maxLastErrorLen caps stored error text so a pathological error message
// cannot bloat the ledger.
const maxLastErrorLen = 1024

func truncateError(cause string) string {
	if len(cause) > maxLastErrorLen {
		return cause[:maxLastErrorLen]
	}
	return cause
}

// ClaimStage moves a pending ledger row to in_flight and reports whether the
// claim won. A false return means the row was not pending, which makes
// duplicate queue deliveries harmless.
func (ds *DataStore) ClaimStage(fileID uint, stage Stage) (bool, error) {
	res := ds.DB.Model(&LedgerEntry{}).
		Where("file_id = ? AND stage = ? AND status = ?", fileID, stage, StatusPending).
		Update("status", StatusInFlight)
	if res.Error != nil {
		return false, dbError(res.Error, "claim_stage", "", "file_id", fileID, "stage", string(stage))
	}
	return res.RowsAffected == 1, nil
}

// RecordAttempt notes a failed attempt and returns the row to pending so a
// retry can claim it again later.
func (ds *DataStore) RecordAttempt(fileID uint, stage Stage, cause string) error {
	res := ds.DB.Model(&LedgerEntry{}).
		Where("file_id = ? AND stage = ?", fileID, stage).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncateError(cause),
		})
	if res.Error != nil {
		return dbError(res.Error, "record_attempt", "", "file_id", fileID, "stage", string(stage))
	}
	if res.RowsAffected == 0 {
		return notFoundError("ledger entry", ledgerKey(fileID, stage))
	}
	return nil
}

// MarkDone finishes a stage for a file and records the code version that
// produced the result. Any prior error text is cleared.
func (ds *DataStore) MarkDone(fileID uint, stage Stage, version int) error {
	return ds.markStage(fileID, stage, map[string]any{
		"status":        StatusDone,
		"stage_version": version,
		"last_error":    "",
	}, "mark_done")
}

// MarkFailed terminally fails a stage for a file. Failed rows are not
// retried until the file content changes or the stage version moves on.
func (ds *DataStore) MarkFailed(fileID uint, stage Stage, version int, cause string) error {
	return ds.markStage(fileID, stage, map[string]any{
		"status":        StatusFailed,
		"stage_version": version,
		"attempts":      gorm.Expr("attempts + 1"),
		"last_error":    truncateError(cause),
	}, "mark_failed")
}

// MarkSkipped records that a stage does not apply to a file, with the reason.
func (ds *DataStore) MarkSkipped(fileID uint, stage Stage, version int, reason string) error {
	return ds.markStage(fileID, stage, map[string]any{
		"status":        StatusSkipped,
		"stage_version": version,
		"last_error":    truncateError(reason),
	}, "mark_skipped")
}

func (ds *DataStore) markStage(fileID uint, stage Stage, updates map[string]any, operation string) error {
	res := ds.DB.Model(&LedgerEntry{}).
		Where("file_id = ? AND stage = ?", fileID, stage).
		Updates(updates)
	if res.Error != nil {
		return dbError(res.Error, operation, "", "file_id", fileID, "stage", string(stage))
	}
	if res.RowsAffected == 0 {
		return notFoundError("ledger entry", ledgerKey(fileID, stage))
	}
	return nil
}

// DemoteInFlight returns every in_flight row to pending. Runs at startup and
// after a cancelled scan, when no worker can still own a claim.
func (ds *DataStore) DemoteInFlight() (int64, error) {
	res := ds.DB.Model(&LedgerEntry{}).
		Where("status = ?", StatusInFlight).
		Update("status", StatusPending)
	if res.Error != nil {
		return 0, dbError(res.Error, "demote_in_flight", "")
	}
	if res.RowsAffected > 0 {
		getLogger().Info("Demoted in-flight ledger rows to pending", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// ResetOutdated re-queues rows finished under an older stage version. Both
// done and failed rows reset; a version bump means new code that may succeed
// where the old code could not. Skipped rows stay skipped, they reflect the
// media type rather than the stage implementation.
func (ds *DataStore) ResetOutdated(stage Stage, version int) (int64, error) {
	res := ds.DB.Model(&LedgerEntry{}).
		Where("stage = ? AND status IN ? AND stage_version < ?",
			stage, []Status{StatusDone, StatusFailed}, version).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   0,
			"last_error": "",
		})
	if res.Error != nil {
		return 0, dbError(res.Error, "reset_outdated", "", "stage", string(stage))
	}
	if res.RowsAffected > 0 {
		getLogger().Info("Reset outdated stage results",
			"stage", string(stage),
			"version", version,
			"count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// PendingFiles returns up to limit file IDs whose given stage is pending,
// oldest ledger rows first. A non-positive limit returns the whole backlog.
func (ds *DataStore) PendingFiles(stage Stage, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = -1
	}
	var ids []uint
	err := ds.DB.Model(&LedgerEntry{}).
		Where("stage = ? AND status = ?", stage, StatusPending).
		Order("id ASC").
		Limit(limit).
		Pluck("file_id", &ids).Error
	if err != nil {
		return nil, dbError(err, "pending_files", "", "stage", string(stage))
	}
	return ids, nil
}

// StageCounts aggregates the ledger into per-stage status totals with a
// single grouped query. Every known stage appears in the result, zeroed when
// it has no rows yet.
func (ds *DataStore) StageCounts() (map[Stage]StatusCounts, error) {
	var rows []struct {
		Stage  Stage
		Status Status
		Count  int64
	}
	err := ds.DB.Model(&LedgerEntry{}).
		Select("stage, status, COUNT(*) AS count").
		Group("stage").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "stage_counts", "")
	}

	counts := make(map[Stage]StatusCounts, len(AllStages()))
	for _, stage := range AllStages() {
		counts[stage] = StatusCounts{}
	}
	for _, row := range rows {
		c := counts[row.Stage]
		switch row.Status {
		case StatusPending:
			c.Pending = row.Count
		case StatusInFlight:
			c.InFlight = row.Count
		case StatusDone:
			c.Done = row.Count
		case StatusFailed:
			c.Failed = row.Count
		case StatusSkipped:
			c.Skipped = row.Count
		}
		counts[row.Stage] = c
	}
	return counts, nil
}

// LedgerEntries returns all ledger rows for one file in pipeline order.
func (ds *DataStore) LedgerEntries(fileID uint) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := ds.DB.
		Where("file_id = ?", fileID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, dbError(err, "ledger_entries", "", "file_id", fileID)
	}
	return entries, nil
}

func ledgerKey(fileID uint, stage Stage) string {
	return fmt.Sprintf("%s/%d", stage, fileID)
}

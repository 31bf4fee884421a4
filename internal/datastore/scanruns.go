// scanruns.go: bookkeeping for discovery passes over the library
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/photoindex/internal/errors"
)

// StartScanRun opens a new running scan run. Single-scan enforcement lives
// with the pipeline supervisor; this only records.
func (ds *DataStore) StartScanRun() (*ScanRun, error) {
	run := ScanRun{
		StartedAt: time.Now(),
		Status:    ScanStatusRunning,
	}
	if err := ds.DB.Create(&run).Error; err != nil {
		return nil, dbError(err, "start_scan_run", "")
	}
	return &run, nil
}

// FinishScanRun closes a scan run with its final status and message.
func (ds *DataStore) FinishScanRun(id uint, status, message string) error {
	now := time.Now()
	res := ds.DB.Model(&ScanRun{}).Where("id = ?", id).Updates(map[string]any{
		"completed_at": &now,
		"status":       status,
		"message":      message,
	})
	if res.Error != nil {
		return dbError(res.Error, "finish_scan_run", "", "scan_run_id", id)
	}
	if res.RowsAffected == 0 {
		return notFoundError("scan run", fmt.Sprintf("id=%d", id))
	}
	return nil
}

// UpdateScanCounts refreshes the progress counters of a running scan.
func (ds *DataStore) UpdateScanCounts(id uint, discovered, processed int64) error {
	res := ds.DB.Model(&ScanRun{}).Where("id = ?", id).Updates(map[string]any{
		"files_discovered": discovered,
		"files_processed":  processed,
	})
	if res.Error != nil {
		return dbError(res.Error, "update_scan_counts", "", "scan_run_id", id)
	}
	if res.RowsAffected == 0 {
		return notFoundError("scan run", fmt.Sprintf("id=%d", id))
	}
	return nil
}

// ActiveScanRun returns the currently running scan, or nil when idle.
func (ds *DataStore) ActiveScanRun() (*ScanRun, error) {
	var run ScanRun
	err := ds.DB.Where("status = ?", ScanStatusRunning).Order("id DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "active_scan_run", "")
	}
	return &run, nil
}

// LatestScanRun returns the most recent scan run, or nil when the library
// was never scanned.
func (ds *DataStore) LatestScanRun() (*ScanRun, error) {
	var run ScanRun
	err := ds.DB.Order("id DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "latest_scan_run", "")
	}
	return &run, nil
}

// FailAbandonedScanRuns cancels runs still marked running at startup. A run
// can only be abandoned by a crash or hard kill; pairs with the in-flight
// ledger sweep.
func (ds *DataStore) FailAbandonedScanRuns() (int64, error) {
	now := time.Now()
	res := ds.DB.Model(&ScanRun{}).
		Where("status = ?", ScanStatusRunning).
		Updates(map[string]any{
			"completed_at": &now,
			"status":       ScanStatusCancelled,
			"message":      "interrupted by shutdown",
		})
	if res.Error != nil {
		return 0, dbError(res.Error, "fail_abandoned_scan_runs", "")
	}
	if res.RowsAffected > 0 {
		getLogger().Warn("Cancelled abandoned scan runs", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

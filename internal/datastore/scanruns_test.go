package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanRunLifecycle(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	active, err := ds.ActiveScanRun()
	require.NoError(t, err)
	assert.Nil(t, active, "a fresh catalog has no active scan")

	run, err := ds.StartScanRun()
	require.NoError(t, err)
	require.NotZero(t, run.ID)
	assert.Equal(t, ScanStatusRunning, run.Status)

	active, err = ds.ActiveScanRun()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)

	require.NoError(t, ds.UpdateScanCounts(run.ID, 120, 37))
	require.NoError(t, ds.FinishScanRun(run.ID, ScanStatusCompleted, "scan completed"))

	active, err = ds.ActiveScanRun()
	require.NoError(t, err)
	assert.Nil(t, active)

	latest, err := ds.LatestScanRun()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, ScanStatusCompleted, latest.Status)
	assert.Equal(t, int64(120), latest.FilesDiscovered)
	assert.Equal(t, int64(37), latest.FilesProcessed)
	require.NotNil(t, latest.CompletedAt)
}

func TestFinishUnknownScanRun(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	require.Error(t, ds.FinishScanRun(42, ScanStatusCompleted, ""))
}

func TestFailAbandonedScanRuns(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	run, err := ds.StartScanRun()
	require.NoError(t, err)
	done, err := ds.StartScanRun()
	require.NoError(t, err)
	require.NoError(t, ds.FinishScanRun(done.ID, ScanStatusCompleted, ""))

	// Simulates the startup sweep after a crash
	failed, err := ds.FailAbandonedScanRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	latest, err := ds.LatestScanRun()
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, ScanStatusCancelled, latest.Status)
	require.NotNil(t, latest.CompletedAt)

	completed, err := ds.ActiveScanRun()
	require.NoError(t, err)
	assert.Nil(t, completed)
}

package datastore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerEntry(t *testing.T, ds Interface, fileID uint, stage Stage) LedgerEntry {
	t.Helper()
	entries, err := ds.LedgerEntries(fileID)
	require.NoError(t, err)
	for _, entry := range entries {
		if entry.Stage == stage {
			return entry
		}
	}
	t.Fatalf("no ledger entry for file %d stage %s", fileID, stage)
	return LedgerEntry{}
}

func TestClaimStage(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	claimed, err := ds.ClaimStage(photo.ID, StageExif)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim should win")

	claimed, err = ds.ClaimStage(photo.ID, StageExif)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose, the row is in flight")

	entry := ledgerEntry(t, ds, photo.ID, StageExif)
	assert.Equal(t, StatusInFlight, entry.Status)
}

func TestRecordAttemptReturnsRowToPending(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	claimed, err := ds.ClaimStage(photo.ID, StageThumbs)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, ds.RecordAttempt(photo.ID, StageThumbs, "read timed out"))

	entry := ledgerEntry(t, ds, photo.ID, StageThumbs)
	assert.Equal(t, StatusPending, entry.Status, "a failed attempt returns the row to pending")
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "read timed out", entry.LastError)

	claimed, err = ds.ClaimStage(photo.ID, StageThumbs)
	require.NoError(t, err)
	assert.True(t, claimed, "the retry can claim again")
}

func TestRecordAttemptTruncatesLongErrors(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	long := strings.Repeat("x", maxLastErrorLen+500)
	require.NoError(t, ds.RecordAttempt(photo.ID, StageExif, long))

	entry := ledgerEntry(t, ds, photo.ID, StageExif)
	assert.Len(t, entry.LastError, maxLastErrorLen)
}

func TestMarkDoneClearsError(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.RecordAttempt(photo.ID, StageExif, "transient glitch"))
	require.NoError(t, ds.MarkDone(photo.ID, StageExif, 3))

	entry := ledgerEntry(t, ds, photo.ID, StageExif)
	assert.Equal(t, StatusDone, entry.Status)
	assert.Equal(t, 3, entry.StageVersion)
	assert.Empty(t, entry.LastError, "success clears the last error")
	assert.Equal(t, 1, entry.Attempts, "attempt history stays")
}

func TestMarkFailedIsTerminal(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.MarkFailed(photo.ID, StageExif, 1, "truncated jpeg"))

	entry := ledgerEntry(t, ds, photo.ID, StageExif)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "truncated jpeg", entry.LastError)

	ids, err := ds.PendingFiles(StageExif, 10)
	require.NoError(t, err)
	assert.Empty(t, ids, "failed rows are not pending work")

	claimed, err := ds.ClaimStage(photo.ID, StageExif)
	require.NoError(t, err)
	assert.False(t, claimed, "failed rows cannot be claimed")
}

func TestMarkSkipped(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.MarkSkipped(photo.ID, StageFaces, 1, "face detection disabled"))

	entry := ledgerEntry(t, ds, photo.ID, StageFaces)
	assert.Equal(t, StatusSkipped, entry.Status)
	assert.Equal(t, "face detection disabled", entry.LastError)
}

func TestDemoteInFlight(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	a := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	b := adoptTestFile(t, ds, "album/b.jpg", "hash-b")

	for _, id := range []uint{a.ID, b.ID} {
		claimed, err := ds.ClaimStage(id, StageExif)
		require.NoError(t, err)
		require.True(t, claimed)
	}
	require.NoError(t, ds.MarkDone(b.ID, StagePHash, 1))

	demoted, err := ds.DemoteInFlight()
	require.NoError(t, err)
	assert.Equal(t, int64(2), demoted)

	assert.Equal(t, StatusPending, ledgerEntry(t, ds, a.ID, StageExif).Status)
	assert.Equal(t, StatusPending, ledgerEntry(t, ds, b.ID, StageExif).Status)
	assert.Equal(t, StatusDone, ledgerEntry(t, ds, b.ID, StagePHash).Status, "done rows are untouched")
}

func TestResetOutdated(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	a := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	b := adoptTestFile(t, ds, "album/b.jpg", "hash-b")
	c := adoptTestFile(t, ds, "album/c.jpg", "hash-c")

	require.NoError(t, ds.MarkDone(a.ID, StagePHash, 1))
	require.NoError(t, ds.MarkFailed(b.ID, StagePHash, 1, "decode error"))
	require.NoError(t, ds.MarkSkipped(c.ID, StagePHash, 1, "unsupported media type"))

	reset, err := ds.ResetOutdated(StagePHash, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset, "done and failed rows of the old version reset")

	assert.Equal(t, StatusPending, ledgerEntry(t, ds, a.ID, StagePHash).Status)
	entryB := ledgerEntry(t, ds, b.ID, StagePHash)
	assert.Equal(t, StatusPending, entryB.Status)
	assert.Zero(t, entryB.Attempts, "reset starts the attempt budget over")
	assert.Empty(t, entryB.LastError)
	assert.Equal(t, StatusSkipped, ledgerEntry(t, ds, c.ID, StagePHash).Status,
		"skipped reflects the media type and survives version bumps")

	// Current-version rows are left alone
	require.NoError(t, ds.MarkDone(a.ID, StagePHash, 2))
	reset, err = ds.ResetOutdated(StagePHash, 2)
	require.NoError(t, err)
	assert.Zero(t, reset)
}

func TestPendingFilesOrderAndLimit(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	a := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	b := adoptTestFile(t, ds, "album/b.jpg", "hash-b")
	c := adoptTestFile(t, ds, "album/c.jpg", "hash-c")

	require.NoError(t, ds.MarkDone(a.ID, StageExif, 1))

	ids, err := ds.PendingFiles(StageExif, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID, c.ID}, ids, "oldest pending rows first, done rows excluded")

	ids, err = ds.PendingFiles(StageExif, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, ids)
}

func TestStageCounts(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	a := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	b := adoptTestFile(t, ds, "album/b.jpg", "hash-b")

	require.NoError(t, ds.MarkDone(a.ID, StageExif, 1))
	require.NoError(t, ds.MarkFailed(b.ID, StageExif, 1, "bad file"))
	claimed, err := ds.ClaimStage(a.ID, StageThumbs)
	require.NoError(t, err)
	require.True(t, claimed)

	counts, err := ds.StageCounts()
	require.NoError(t, err)

	assert.Len(t, counts, len(AllStages()), "every stage appears even without rows")
	assert.Equal(t, StatusCounts{Done: 1, Failed: 1}, counts[StageExif])
	assert.Equal(t, StatusCounts{Pending: 1, InFlight: 1}, counts[StageThumbs])
	assert.Equal(t, StatusCounts{Pending: 2}, counts[StageCaption])
}

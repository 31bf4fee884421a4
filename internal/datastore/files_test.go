package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdoptFile_NewSeedsLedger(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	require.NotZero(t, photo.ID)

	entries, err := ds.LedgerEntries(photo.ID)
	require.NoError(t, err)
	assert.Len(t, entries, len(AllStages()), "every stage should have a ledger row")
	for _, entry := range entries {
		assert.Equal(t, StatusPending, entry.Status)
		assert.Equal(t, 1, entry.StageVersion)
	}
}

func TestAdoptFile_UnchangedContentSamePath(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	// Same content at the same path, only mtime moved (touch)
	incoming := testIncoming("album/a.jpg", "hash-a")
	incoming.MTime = incoming.MTime.Add(time.Hour)
	incoming.Size = 4096

	photo, outcome, err := ds.AdoptFile(incoming, allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptUnchanged, outcome)
	assert.Equal(t, int64(4096), photo.FileSize)
}

func TestAdoptFile_MoveKeepsDerivedData(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	original := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	require.NoError(t, ds.CommitCaption(original.ID, 1, "a red bicycle"))

	photo, outcome, err := ds.AdoptFile(testIncoming("sorted/a.jpg", "hash-a"), allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptMoved, outcome)
	assert.Equal(t, original.ID, photo.ID, "a move must not create a new record")
	assert.Equal(t, "sorted/a.jpg", photo.FilePath)
	assert.Equal(t, "a red bicycle", photo.Caption, "derived data survives a move")

	_, err = ds.GetPhotoByPath("album/a.jpg")
	require.Error(t, err, "old path should be gone")
}

func TestAdoptFile_MoveEvictsStalePathClaim(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	adoptTestFile(t, ds, "album/b.jpg", "hash-b")

	// b.jpg's content now lives at a.jpg's path; the old a.jpg record is
	// stale and must yield the path
	photo, outcome, err := ds.AdoptFile(testIncoming("album/a.jpg", "hash-b"), allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptMoved, outcome)
	assert.Equal(t, "hash-b", photo.FileHash)

	count, err := ds.CountPhotos()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "the stale claimant should be deleted")
}

func TestAdoptFile_DuplicateSightingKeepsPath(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	original := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	require.NoError(t, ds.CommitCaption(original.ID, 1, "a red bicycle"))

	// Same bytes at a second path, the first still on disk: a copy,
	// not a move.
	incoming := testIncoming("backup/copy.jpg", "hash-a")
	incoming.OnDisk = func(path string) bool { return path == "album/a.jpg" }

	photo, outcome, err := ds.AdoptFile(incoming, allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptDuplicate, outcome)
	assert.Equal(t, original.ID, photo.ID)
	assert.Equal(t, "album/a.jpg", photo.FilePath, "the cataloged path must not move to the copy")

	stored, err := ds.GetPhotoByHash("hash-a")
	require.NoError(t, err)
	assert.Equal(t, "album/a.jpg", stored.FilePath)
	assert.Equal(t, "a red bicycle", stored.Caption, "derived data survives a duplicate sighting")
}

func TestAdoptFile_DuplicatePairStableAcrossRescans(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	onDisk := func(string) bool { return true } // both copies stay on disk

	adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	first := testIncoming("backup/copy.jpg", "hash-a")
	first.OnDisk = onDisk
	_, outcome, err := ds.AdoptFile(first, allStagesPending())
	require.NoError(t, err)
	require.Equal(t, AdoptDuplicate, outcome)

	// A rescan of the unchanged tree sees both paths again. Neither
	// sighting may register as a move, or the path would ping-pong
	// between the copies on every pass.
	for _, rel := range []string{"album/a.jpg", "backup/copy.jpg"} {
		incoming := testIncoming(rel, "hash-a")
		incoming.OnDisk = onDisk
		photo, outcome, err := ds.AdoptFile(incoming, allStagesPending())
		require.NoError(t, err)
		assert.NotEqual(t, AdoptMoved, outcome, "rescan of %s must not move the row", rel)
		assert.Equal(t, "album/a.jpg", photo.FilePath)
	}

	count, err := ds.CountPhotos()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "identical bytes collapse to one row")
}

func TestAdoptFile_ChangedContentResetsEverything(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	original := adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	taken := time.Date(2023, 7, 14, 12, 30, 0, 0, time.UTC)
	require.NoError(t, ds.CommitExif(original.ID, 1, &ExifData{
		Width: 4000, Height: 3000, DateTaken: &taken, CameraMake: "Canon",
	}))
	require.NoError(t, ds.CommitCaption(original.ID, 1, "old caption"))
	require.NoError(t, ds.CommitPHash(original.ID, 1, 0xDEADBEEF, 0xBEEF, 0xDEAD))
	require.NoError(t, ds.SetFavorite("hash-a", true))

	photo, outcome, err := ds.AdoptFile(testIncoming("album/a.jpg", "hash-a2"), allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptChanged, outcome)
	assert.Equal(t, original.ID, photo.ID)
	assert.Equal(t, "hash-a2", photo.FileHash)
	assert.Zero(t, photo.Width)
	assert.Nil(t, photo.DateTaken)
	assert.Empty(t, photo.CameraMake)
	assert.Empty(t, photo.Caption)
	assert.Nil(t, photo.PHash)
	assert.True(t, photo.IsFavorite, "favorite is user intent and survives an edit")

	entries, err := ds.LedgerEntries(photo.ID)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, StatusPending, entry.Status, "stage %s should be pending again", entry.Stage)
		assert.Zero(t, entry.Attempts)
	}
}

func TestAdoptFile_SeedsOnlyMissingStagesOnRevisit(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	// First adoption with a partial stage set
	partial := []StageSeed{{Stage: StageExif, Version: 1}, {Stage: StageThumbs, Version: 1}}
	photo, outcome, err := ds.AdoptFile(testIncoming("album/a.jpg", "hash-a"), partial)
	require.NoError(t, err)
	require.Equal(t, AdoptNew, outcome)
	require.NoError(t, ds.MarkDone(photo.ID, StageExif, 1))

	// Revisit with the full set; done progress must survive
	_, outcome, err = ds.AdoptFile(testIncoming("album/a.jpg", "hash-a"), allStagesPending())
	require.NoError(t, err)
	assert.Equal(t, AdoptUnchanged, outcome)

	entries, err := ds.LedgerEntries(photo.ID)
	require.NoError(t, err)
	assert.Len(t, entries, len(AllStages()))
	byStage := make(map[Stage]LedgerEntry, len(entries))
	for _, entry := range entries {
		byStage[entry.Stage] = entry
	}
	assert.Equal(t, StatusDone, byStage[StageExif].Status, "existing progress must not be reseeded")
	assert.Equal(t, StatusPending, byStage[StageFaces].Status)
}

func TestAdoptFile_SkippedSeedCarriesReason(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))

	seeds := []StageSeed{
		{Stage: StageExif, Version: 1},
		{Stage: StageFaces, Version: 1, Status: StatusSkipped, Note: "unsupported media type"},
	}
	incoming := testIncoming("album/clip.mp4", "hash-v")
	incoming.MimeType = "video/mp4"
	photo, _, err := ds.AdoptFile(incoming, seeds)
	require.NoError(t, err)

	entries, err := ds.LedgerEntries(photo.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		if entry.Stage == StageFaces {
			assert.Equal(t, StatusSkipped, entry.Status)
			assert.Equal(t, "unsupported media type", entry.LastError)
		}
	}
}

func TestProbeUnchanged(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	base := testIncoming("album/a.jpg", "hash-a")

	hit, err := ds.ProbeUnchanged("album/a.jpg", base.Size, base.MTime)
	require.NoError(t, err)
	require.NotNil(t, hit, "matching triple must hit")
	assert.Equal(t, photo.ID, hit.FileID)
	assert.False(t, hit.Settled, "freshly seeded stages are all pending")

	// Sub-second mtime drift stays within tolerance
	hit, err = ds.ProbeUnchanged("album/a.jpg", base.Size, base.MTime.Add(900*time.Millisecond))
	require.NoError(t, err)
	assert.NotNil(t, hit, "drift below one second must still hit")

	// Size change, mtime change beyond tolerance, unknown path: all miss
	hit, err = ds.ProbeUnchanged("album/a.jpg", base.Size+1, base.MTime)
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = ds.ProbeUnchanged("album/a.jpg", base.Size, base.MTime.Add(2*time.Second))
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = ds.ProbeUnchanged("album/other.jpg", base.Size, base.MTime)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestProbeUnchanged_SettledWhenAllRowsTerminal(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	photo := adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	base := testIncoming("album/a.jpg", "hash-a")

	for i, stage := range AllStages() {
		switch i % 3 {
		case 0:
			require.NoError(t, ds.MarkDone(photo.ID, stage, 1))
		case 1:
			require.NoError(t, ds.MarkFailed(photo.ID, stage, 1, "boom"))
		default:
			require.NoError(t, ds.MarkSkipped(photo.ID, stage, 1, "not applicable"))
		}
	}

	hit, err := ds.ProbeUnchanged("album/a.jpg", base.Size, base.MTime)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.Settled, "done, failed and skipped all count as settled")
}

func TestProbeUnchanged_ClearsMissingFlag(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	base := testIncoming("album/a.jpg", "hash-a")

	marked, _, err := ds.ReconcileMissing(func(string) bool { return false })
	require.NoError(t, err)
	require.Equal(t, int64(1), marked)

	hit, err := ds.ProbeUnchanged("album/a.jpg", base.Size, base.MTime)
	require.NoError(t, err)
	require.NotNil(t, hit)

	photo, err := ds.GetPhotoByHash("hash-a")
	require.NoError(t, err)
	assert.False(t, photo.Missing, "a probed path is on disk again")
}

func TestReconcileMissing(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	adoptTestFile(t, ds, "album/b.jpg", "hash-b")

	onDisk := map[string]bool{"album/a.jpg": true, "album/b.jpg": false}
	marked, cleared, err := ds.ReconcileMissing(func(path string) bool { return onDisk[path] })
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
	assert.Zero(t, cleared)

	photo, err := ds.GetPhotoByHash("hash-b")
	require.NoError(t, err)
	assert.True(t, photo.Missing)

	count, err := ds.CountPhotos()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "reconcile marks, never deletes")

	// The file returns; a second reconcile clears the flag
	onDisk["album/b.jpg"] = true
	marked, cleared, err = ds.ReconcileMissing(func(path string) bool { return onDisk[path] })
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, int64(1), cleared)

	photo, err = ds.GetPhotoByHash("hash-b")
	require.NoError(t, err)
	assert.False(t, photo.Missing)

	// Nothing to do is not an error
	marked, cleared, err = ds.ReconcileMissing(func(path string) bool { return onDisk[path] })
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Zero(t, cleared)
}

func TestRemoveMissing(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")
	adoptTestFile(t, ds, "album/b.jpg", "hash-b")
	gone := adoptTestFile(t, ds, "album/c.jpg", "hash-c")

	seen := map[string]struct{}{
		"album/a.jpg": {},
		"album/b.jpg": {},
	}
	removed, err := ds.RemoveMissing(seen)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := ds.CountPhotos()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Ledger rows of the removed photo cascade away
	var ledgerCount int64
	store := gormDB(t, ds)
	require.NoError(t, store.DB.Model(&LedgerEntry{}).
		Where("file_id = ?", gone.ID).Count(&ledgerCount).Error)
	assert.Zero(t, ledgerCount, "ledger rows must cascade with the photo")
}

func TestSetFavorite(t *testing.T) {
	t.Parallel()

	ds := createDatabase(t, createTestSettings(t))
	adoptTestFile(t, ds, "album/a.jpg", "hash-a")

	require.NoError(t, ds.SetFavorite("hash-a", true))
	photo, err := ds.GetPhotoByHash("hash-a")
	require.NoError(t, err)
	assert.True(t, photo.IsFavorite)

	require.NoError(t, ds.SetFavorite("hash-a", false))
	photo, err = ds.GetPhotoByHash("hash-a")
	require.NoError(t, err)
	assert.False(t, photo.IsFavorite)

	err = ds.SetFavorite("no-such-hash", true)
	require.Error(t, err, "favoriting an unknown photo must fail")
}

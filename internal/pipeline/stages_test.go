package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
)

func TestStageGraph(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []datastore.Stage{
		datastore.StageExif,
		datastore.StageThumbs,
		datastore.StagePHash,
		datastore.StageMotion,
	}, rootStages)

	assert.Equal(t, []datastore.Stage{datastore.StageGeocode}, Downstream(datastore.StageExif))
	assert.Equal(t, []datastore.Stage{
		datastore.StageFaces,
		datastore.StageCaption,
		datastore.StageTags,
	}, Downstream(datastore.StageThumbs))
	assert.Nil(t, Downstream(datastore.StageGeocode), "leaves feed nothing")
	assert.Nil(t, Downstream(datastore.StagePHash))
}

func TestParentStageInvertsDownstream(t *testing.T) {
	t.Parallel()

	for parent, children := range downstream {
		for _, child := range children {
			got, ok := parentStage(child)
			require.True(t, ok, "%s should have a parent", child)
			assert.Equal(t, parent, got)
		}
	}
	for _, root := range rootStages {
		_, ok := parentStage(root)
		assert.False(t, ok, "root stage %s must not be gated", root)
	}
}

func TestStageVersionsCoverEveryStage(t *testing.T) {
	t.Parallel()

	for _, stage := range datastore.AllStages() {
		assert.GreaterOrEqual(t, StageVersion(stage), 1, "stage %s has no version", stage)
	}
}

func TestStageSeeds(t *testing.T) {
	t.Parallel()

	seeds := stageSeeds()
	require.Len(t, seeds, len(datastore.AllStages()))
	for _, seed := range seeds {
		assert.Equal(t, StageVersion(seed.Stage), seed.Version,
			"seed for %s must carry the current version", seed.Stage)
	}
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	configured := &conf.WorkerSettings{Exif: 7, Faces: 3}
	assert.Equal(t, 7, workerCount(datastore.StageExif, configured), "explicit setting wins")
	assert.Equal(t, 3, workerCount(datastore.StageFaces, configured))

	defaults := &conf.WorkerSettings{}
	assert.Equal(t, 4, workerCount(datastore.StageExif, defaults))
	assert.Equal(t, 2, workerCount(datastore.StageGeocode, defaults))
	assert.Equal(t, 2, workerCount(datastore.StageMotion, defaults))
	assert.Equal(t, 1, workerCount(datastore.StageFaces, defaults))
	assert.Equal(t, 1, workerCount(datastore.StageCaption, defaults))
	assert.Equal(t, 1, workerCount(datastore.StageTags, defaults))

	for _, stage := range []datastore.Stage{datastore.StageThumbs, datastore.StagePHash} {
		n := workerCount(stage, defaults)
		assert.GreaterOrEqual(t, n, 1, "%s pool must exist", stage)
		assert.LessOrEqual(t, n, maxAutoWorkers, "%s pool must respect the cap", stage)
	}
}

func TestFlowEdges(t *testing.T) {
	t.Parallel()

	edges := Flow()
	assert.Len(t, edges, 8)

	has := func(from, to string) bool {
		for _, e := range edges {
			if e.From == from && e.To == to {
				return true
			}
		}
		return false
	}
	for _, root := range rootStages {
		assert.True(t, has("discovery", string(root)), "discovery must feed %s", root)
	}
	assert.True(t, has("exif", "geocode"))
	assert.True(t, has("thumbs", "faces"))
	assert.True(t, has("thumbs", "caption"))
	assert.True(t, has("thumbs", "tags"))
}

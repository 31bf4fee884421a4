// stages.go: the static stage graph and per-stage execution parameters
package pipeline

import (
	"runtime"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
)

// Stage versions. Bumping one re-queues every ledger row finished under an
// older version at the next startup, which is how derived data is
// invalidated after an algorithm change.
const (
	versionExif    = 1
	versionGeocode = 1
	versionThumbs  = 1
	versionMotion  = 1
	versionPHash   = 1
	versionFaces   = 1
	versionCaption = 1
	versionTags    = 1
)

var stageVersions = map[datastore.Stage]int{
	datastore.StageExif:    versionExif,
	datastore.StageGeocode: versionGeocode,
	datastore.StageThumbs:  versionThumbs,
	datastore.StageMotion:  versionMotion,
	datastore.StagePHash:   versionPHash,
	datastore.StageFaces:   versionFaces,
	datastore.StageCaption: versionCaption,
	datastore.StageTags:    versionTags,
}

// StageVersion returns the current code version of a stage.
func StageVersion(stage datastore.Stage) int {
	return stageVersions[stage]
}

// rootStages receive every discovered file directly. Everything else is fed
// by fan-out from an upstream stage.
var rootStages = []datastore.Stage{
	datastore.StageExif,
	datastore.StageThumbs,
	datastore.StagePHash,
	datastore.StageMotion,
}

// downstream is the flow graph as data. A settled stage delivers its file to
// each listed stage; workers know nothing about each other.
var downstream = map[datastore.Stage][]datastore.Stage{
	datastore.StageExif:   {datastore.StageGeocode},
	datastore.StageThumbs: {datastore.StageFaces, datastore.StageCaption, datastore.StageTags},
}

// Downstream returns the stages fed by the given stage, nil for leaves.
func Downstream(stage datastore.Stage) []datastore.Stage {
	return downstream[stage]
}

// parentStage returns the stage whose settle gates the given stage. Root
// stages have none, discovery feeds them directly.
func parentStage(stage datastore.Stage) (datastore.Stage, bool) {
	for parent, children := range downstream {
		for _, child := range children {
			if child == stage {
				return parent, true
			}
		}
	}
	return "", false
}

// maxAutoWorkers caps the NumCPU-derived pool sizes so a large host does
// not oversubscribe SQLite with concurrent committers.
const maxAutoWorkers = 8

// workerCount resolves the pool size for one stage. Explicit settings win;
// zero selects the built-in default: fixed small pools for I/O and
// external-service stages, NumCPU (capped) for the CPU-bound decoders.
func workerCount(stage datastore.Stage, workers *conf.WorkerSettings) int {
	configured := map[datastore.Stage]int{
		datastore.StageExif:    workers.Exif,
		datastore.StageGeocode: workers.Geocode,
		datastore.StageThumbs:  workers.Thumbs,
		datastore.StageMotion:  workers.Motion,
		datastore.StagePHash:   workers.PHash,
		datastore.StageFaces:   workers.Faces,
		datastore.StageCaption: workers.Caption,
		datastore.StageTags:    workers.Tags,
	}[stage]
	if configured > 0 {
		return configured
	}

	switch stage {
	case datastore.StageExif:
		return 4
	case datastore.StageThumbs, datastore.StagePHash:
		return min(runtime.NumCPU(), maxAutoWorkers)
	case datastore.StageGeocode, datastore.StageMotion:
		return 2
	default:
		// faces, caption, tags: heavyweight or externally throttled
		return 1
	}
}

// stageSeeds builds the initial ledger rows for a newly adopted file, one
// pending row per stage at its current version.
func stageSeeds() []datastore.StageSeed {
	stages := datastore.AllStages()
	seeds := make([]datastore.StageSeed, 0, len(stages))
	for _, stage := range stages {
		seeds = append(seeds, datastore.StageSeed{
			Stage:   stage,
			Version: stageVersions[stage],
		})
	}
	return seeds
}

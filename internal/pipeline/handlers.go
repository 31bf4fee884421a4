// handlers.go: the per-stage bodies binding the domain services to the
// worker contract
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/imageops"
	"github.com/tphakala/photoindex/internal/phash"
)

// stageHandler runs one stage for one file. A nil return means the handler
// committed its results, ledger mark included. An error is classified by
// the worker through outcomeFor.
type stageHandler func(ctx context.Context, photo *datastore.Photo) error

// buildHandlers binds every stage to its body. Tests replace single
// entries to observe worker behavior in isolation.
func (p *Pipeline) buildHandlers() map[datastore.Stage]stageHandler {
	return map[datastore.Stage]stageHandler{
		datastore.StageExif:    p.handleExif,
		datastore.StageGeocode: p.handleGeocode,
		datastore.StageThumbs:  p.handleThumbs,
		datastore.StageMotion:  p.handleMotion,
		datastore.StagePHash:   p.handlePHash,
		datastore.StageFaces:   p.handleFaces,
		datastore.StageCaption: p.handleCaption,
		datastore.StageTags:    p.handleTags,
	}
}

// absolutePath resolves a catalog-relative path under the library root.
func (p *Pipeline) absolutePath(photo *datastore.Photo) string {
	return filepath.Join(p.settings.Library.PhotosPath, filepath.FromSlash(photo.FilePath))
}

func (p *Pipeline) handleExif(_ context.Context, photo *datastore.Photo) error {
	data, err := p.meta.Extract(p.absolutePath(photo))
	if err != nil {
		return err
	}
	return p.store.CommitExif(photo.ID, versionExif, data)
}

func (p *Pipeline) handleGeocode(_ context.Context, photo *datastore.Photo) error {
	if photo.Latitude == nil || photo.Longitude == nil {
		return errors.Newf("no gps coordinates").
			Component("pipeline").
			Category(errors.CategoryPrecondition).
			Build()
	}

	if p.geocoder == nil {
		return errors.Newf("geocode dataset not loaded").
			Component("pipeline").
			Category(errors.CategoryExternalDisabled).
			Build()
	}

	result, ok := p.geocoder.Reverse(*photo.Latitude, *photo.Longitude)
	if !ok {
		return errors.Newf("no populated place within range").
			Component("pipeline").
			Category(errors.CategoryPrecondition).
			Context("latitude", *photo.Latitude).
			Context("longitude", *photo.Longitude).
			Build()
	}

	return p.store.CommitGeocode(photo.ID, versionGeocode, result.Country, result.City, result.Address)
}

func (p *Pipeline) handleThumbs(_ context.Context, photo *datastore.Photo) error {
	img, err := imageops.Decode(p.absolutePath(photo))
	if err != nil {
		return err
	}

	rendered, err := imageops.Thumbnails(img, artifacts.ThumbSizes)
	if err != nil {
		return err
	}
	for size, data := range rendered {
		if err := p.files.WriteFile(artifacts.ThumbPath(photo.FileHash, size), data); err != nil {
			return err
		}
	}

	return p.store.CommitThumbnails(photo.ID, versionThumbs)
}

func (p *Pipeline) handleMotion(_ context.Context, photo *datastore.Photo) error {
	companion, err := p.motion.Process(p.settings.Library.PhotosPath, photo.FilePath)
	if err != nil {
		return err
	}
	return p.store.CommitMotion(photo.ID, versionMotion,
		companion.HasVideo, companion.VideoPath, companion.Source)
}

func (p *Pipeline) handlePHash(_ context.Context, photo *datastore.Photo) error {
	img, err := imageops.Decode(p.absolutePath(photo))
	if err != nil {
		return err
	}

	hashes, err := phash.Compute(imageops.HashInput(img))
	if err != nil {
		return err
	}

	if err := p.store.CommitPHash(photo.ID, versionPHash,
		hashes.PHash, hashes.AHash, hashes.DHash); err != nil {
		return err
	}
	p.dupes.Add(photo.ID, hashes.PHash)
	return nil
}

func (p *Pipeline) handleFaces(_ context.Context, photo *datastore.Photo) error {
	if p.faces == nil {
		return errors.Newf("face service not configured").
			Component("pipeline").
			Category(errors.CategoryExternalDisabled).
			Build()
	}

	found, err := p.faces.Process(photo)
	if err != nil {
		return err
	}

	if err := p.store.CommitFaces(photo.ID, versionFaces, found); err != nil {
		return err
	}

	if p.faces.FacesCommitted(len(found)) {
		// Drift correction runs inline on the worker; a failed re-cluster
		// never fails the file whose faces are already committed.
		start := time.Now()
		if err := p.faces.Recluster(); err != nil {
			p.logger.Warn("face re-cluster failed", "error", err)
		} else if p.metrics != nil {
			p.metrics.RecordBarrierDuration("recluster", time.Since(start).Seconds())
		}
	}
	return nil
}

func (p *Pipeline) handleCaption(ctx context.Context, photo *datastore.Photo) error {
	input, err := p.visionInput(photo)
	if err != nil {
		return err
	}

	text, err := p.vision.Caption(ctx, input)
	if err != nil {
		return err
	}
	return p.store.CommitCaption(photo.ID, versionCaption, text)
}

func (p *Pipeline) handleTags(ctx context.Context, photo *datastore.Photo) error {
	input, err := p.visionInput(photo)
	if err != nil {
		return err
	}

	labels, err := p.vision.Tags(ctx, input)
	if err != nil {
		return err
	}
	return p.store.CommitTags(photo.ID, versionTags, labels)
}

// visionInput renders the downscaled JPEG the vision endpoint receives.
// The disabled check runs before the decode so a library without a
// configured endpoint skips these stages without touching pixels.
func (p *Pipeline) visionInput(photo *datastore.Photo) ([]byte, error) {
	if !p.vision.Enabled() {
		return nil, errors.Newf("vision endpoint not configured").
			Component("pipeline").
			Category(errors.CategoryExternalDisabled).
			Build()
	}

	img, err := imageops.Decode(p.absolutePath(photo))
	if err != nil {
		return nil, err
	}
	return imageops.CaptionInput(img)
}

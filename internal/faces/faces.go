package faces

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/imageops"
	"github.com/tphakala/photoindex/internal/logging"
)

// Service runs the face stage: detection and display crops from the
// medium thumbnail, identity embeddings when the ONNX model is
// available, and the person maintenance built on top of them.
type Service struct {
	settings conf.FaceSettings
	store    datastore.Interface
	files    *artifacts.Store
	logger   *slog.Logger

	detector  *Detector
	embedder  *Embedder
	centroids *Centroids

	countMu        sync.Mutex
	sinceRecluster int

	clusterMu sync.Mutex
}

// New wires the face service from settings. A missing cascade disables
// detection entirely; a missing embedding model only disables
// embeddings and clustering. Neither is an error here, degraded mode
// is reported through Enabled and CanEmbed.
func New(settings *conf.Settings, store datastore.Interface, files *artifacts.Store) *Service {
	logger := logging.ForService("faces")
	if logger == nil {
		logger = slog.Default().With("service", "faces")
	}

	faceConf := settings.Pipeline.Faces
	s := &Service{
		settings:  faceConf,
		store:     store,
		files:     files,
		logger:    logger,
		centroids: NewCentroids(faceConf.ClusterEpsilon),
	}
	if !faceConf.Enabled {
		logger.Info("face pipeline disabled by configuration")
		return s
	}

	cascadePath := settings.ResolveModelPath(faceConf.Cascade)
	detector, err := NewDetector(cascadePath, faceConf.MinPixels)
	if err != nil {
		logger.Warn("face detection unavailable", "cascade", cascadePath, "error", err)
		return s
	}
	s.detector = detector

	modelPath := settings.ResolveModelPath(faceConf.EmbeddingModel)
	embedder, err := NewEmbedder(modelPath, settings.ResolveModelPath(faceConf.OnnxLibrary))
	if err != nil {
		logger.Warn("face embeddings unavailable, detection continues without person clustering",
			"model", modelPath, "error", err)
		return s
	}
	s.embedder = embedder
	return s
}

// Enabled reports whether the stage can detect at all.
func (s *Service) Enabled() bool { return s.detector != nil }

// CanEmbed reports whether identity embeddings are produced.
func (s *Service) CanEmbed() bool { return s.embedder != nil }

// Close releases the inference session, if one was created.
func (s *Service) Close() error { return s.embedder.Close() }

// Seed primes the assignment index from already stored faces. Called
// once before the pipeline starts handing out face work.
func (s *Service) Seed() error {
	rows, err := s.store.FaceEmbeddings()
	if err != nil {
		return err
	}
	persons, skipped := s.centroids.Seed(rows)
	s.logger.Info("person index seeded",
		"persons", persons, "faces", len(rows), "skipped_embeddings", skipped)
	return nil
}

// Process runs detection for one photo. The medium thumbnail is the
// detection input and must already exist; its absence is a missing
// precondition, not a decode failure. Returned faces carry boxes
// mapped to original pixel space, crop artifact paths and, when the
// embedder is up, immediate person assignments.
func (s *Service) Process(photo *datastore.Photo) ([]datastore.Face, error) {
	if s.detector == nil {
		return nil, errors.Newf("face detection has no cascade loaded").
			Component("faces").
			Category(errors.CategoryPrecondition).
			Build()
	}

	thumb, err := s.loadThumb(photo.FileHash)
	if err != nil {
		return nil, err
	}

	detections := s.detector.Detect(thumb)
	if len(detections) == 0 {
		return nil, nil
	}

	scaleX, scaleY := originalScale(photo, thumb.Bounds())

	faces := make([]datastore.Face, 0, len(detections))
	for i, det := range detections {
		crop, err := imageops.FaceCrop(thumb, det.Box)
		if err != nil {
			return nil, err
		}
		cropPath := artifacts.FaceCropPath(photo.FileHash, i)
		if err := s.files.WriteFile(cropPath, crop); err != nil {
			return nil, err
		}

		face := datastore.Face{
			FaceIndex:  i,
			X:          int(float64(det.Box.Min.X) * scaleX),
			Y:          int(float64(det.Box.Min.Y) * scaleY),
			Width:      int(float64(det.Box.Dx()) * scaleX),
			Height:     int(float64(det.Box.Dy()) * scaleY),
			Confidence: det.Confidence,
			CropPath:   cropPath,
		}

		if s.embedder != nil {
			vec, err := s.embedder.Embed(imaging.Crop(thumb, det.Box))
			if err != nil {
				return nil, err
			}
			face.Embedding = EncodeEmbedding(vec)
			if personID, ok := s.centroids.Assign(vec); ok {
				face.PersonID = &personID
				s.centroids.Observe(personID, vec)
			}
		}
		faces = append(faces, face)
	}

	s.logger.Debug("faces detected",
		"path", photo.FilePath, "faces", len(faces), "embedded", s.embedder != nil)
	return faces, nil
}

// FacesCommitted records that n new faces landed in the store and
// reports whether a full re-cluster is due.
func (s *Service) FacesCommitted(n int) bool {
	if n <= 0 || s.settings.ReclusterEvery <= 0 {
		return false
	}
	s.countMu.Lock()
	defer s.countMu.Unlock()
	s.sinceRecluster += n
	if s.sinceRecluster < s.settings.ReclusterEvery {
		return false
	}
	s.sinceRecluster = 0
	return true
}

// Recluster rebuilds person clusters from every stored embedding and
// reseeds the assignment index. Concurrent calls serialize. With no
// embeddings in the store this is a no-op so a degraded install never
// wipes existing person assignments.
func (s *Service) Recluster() error {
	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()

	rows, err := s.store.FaceEmbeddings()
	if err != nil {
		return err
	}

	clusters, noise := BuildClusters(rows, s.settings.ClusterEpsilon, clusterMinPts)
	if len(clusters) == 0 && noise == 0 {
		s.logger.Debug("no embeddings to cluster")
		return nil
	}

	if err := s.nameNewClusters(clusters); err != nil {
		return err
	}
	if err := s.store.ReplaceClusters(clusters); err != nil {
		return err
	}

	refreshed, err := s.store.FaceEmbeddings()
	if err != nil {
		return err
	}
	persons, skipped := s.centroids.Seed(refreshed)
	s.logger.Info("face clusters rebuilt",
		"faces", len(rows),
		"clusters", len(clusters),
		"noise", noise,
		"persons", persons,
		"skipped_embeddings", skipped)
	return nil
}

// nameNewClusters gives fresh clusters a placeholder name that does
// not collide with any existing person.
func (s *Service) nameNewClusters(clusters []datastore.FaceCluster) error {
	needed := false
	for i := range clusters {
		if clusters[i].PersonID == nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	existing, err := s.store.ListPersons()
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(existing))
	for _, p := range existing {
		taken[p.Name] = true
	}

	next := 1
	for i := range clusters {
		if clusters[i].PersonID != nil {
			continue
		}
		name := fmt.Sprintf("Person %d", next)
		for taken[name] {
			next++
			name = fmt.Sprintf("Person %d", next)
		}
		taken[name] = true
		next++
		clusters[i].Name = name
	}
	return nil
}

// loadThumb decodes the stored medium thumbnail, the detection input.
func (s *Service) loadThumb(hash string) (image.Image, error) {
	relPath := artifacts.ThumbPath(hash, artifacts.ThumbMedium)
	data, err := s.files.ReadFile(relPath)
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryPrecondition).
			Context("operation", "load-thumbnail").
			Context("artifact", relPath).
			Build()
	}
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryImageDecode).
			Context("operation", "decode-thumbnail").
			Context("artifact", relPath).
			Build()
	}
	return img, nil
}

// originalScale maps thumbnail coordinates back to the source image.
// Unknown source dimensions keep thumbnail coordinates.
func originalScale(photo *datastore.Photo, thumb image.Rectangle) (sx, sy float64) {
	sx, sy = 1, 1
	if photo.Width > 0 && thumb.Dx() > 0 {
		sx = float64(photo.Width) / float64(thumb.Dx())
	}
	if photo.Height > 0 && thumb.Dy() > 0 {
		sy = float64(photo.Height) / float64(thumb.Dy())
	}
	return sx, sy
}

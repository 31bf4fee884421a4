// Package motion resolves the video companions of photos: Apple Live
// Photo sidecar videos next to the image and Google Motion Photo MP4
// containers embedded in the JPEG tail. Embedded videos are extracted
// into the artifact store so they can be served without re-scanning
// the source file.
package motion

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/logging"
)

const (
	// tailWindow is how far back from the end of the file the scan
	// reaches. Motion photo containers sit at the very end.
	tailWindow = 4 << 20

	// minEmbeddedBytes is the smallest plausible embedded video;
	// anything shorter is a stray signature match.
	minEmbeddedBytes = 1024
)

// Companion source values, persisted with the photo.
const (
	SourceEmbedded = "embedded"
	SourceSidecar  = "sidecar"
)

// mp4Signatures mark the start of an embedded container; the ftyp box
// begins four bytes before the matched text.
var mp4Signatures = [][]byte{
	[]byte("ftypmp4"),
	[]byte("ftypisom"),
	[]byte("ftypmp42"),
	[]byte("ftypavc1"),
}

// motionPhotoMarker is the XMP hint Google writes; it flags a motion
// photo but carries no container offset of its own.
var motionPhotoMarker = []byte("MotionPhoto")

// sidecarExtensions are tried in order against the photo's basename.
var sidecarExtensions = []string{".mov", ".MOV", ".mp4"}

// Companion describes the video companion of one photo. VideoPath is
// relative to the library root for sidecars and relative to the
// artifact store for extracted embedded videos.
type Companion struct {
	HasVideo  bool
	Source    string
	VideoPath string
}

// Extractor scans photo tails and writes extracted videos to the
// artifact store.
type Extractor struct {
	store  *artifacts.Store
	logger *slog.Logger
}

// NewExtractor returns an extractor writing into the given store.
func NewExtractor(store *artifacts.Store) *Extractor {
	logger := logging.ForService("motion")
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{store: store, logger: logger}
}

// Process resolves the companion video of one photo under the library
// root. A sidecar video takes precedence; the embedded tail scan only
// runs when no sidecar exists, and only for JPEG files.
func (e *Extractor) Process(libraryRoot, photoPath string) (Companion, error) {
	absPath := filepath.Join(libraryRoot, filepath.FromSlash(photoPath))

	if sidecar := FindSidecar(absPath); sidecar != "" {
		rel, err := filepath.Rel(libraryRoot, sidecar)
		if err != nil {
			return Companion{}, errors.New(err).
				Component("motion").
				Category(errors.CategoryFileIO).
				Context("operation", "sidecar-path").
				FileContext(sidecar, 0).
				Build()
		}
		return Companion{
			HasVideo:  true,
			Source:    SourceSidecar,
			VideoPath: filepath.ToSlash(rel),
		}, nil
	}

	ext := strings.ToLower(filepath.Ext(photoPath))
	if ext != ".jpg" && ext != ".jpeg" {
		return Companion{}, nil
	}

	return e.extractEmbedded(absPath, photoPath)
}

// FindSidecar returns the absolute path of a same-basename video next
// to the photo, or "" when none exists.
func FindSidecar(photoPath string) string {
	base := strings.TrimSuffix(photoPath, filepath.Ext(photoPath))
	for _, ext := range sidecarExtensions {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// extractEmbedded scans the file tail for an MP4 container and writes
// it to the artifact store when found.
func (e *Extractor) extractEmbedded(absPath, photoPath string) (Companion, error) {
	tailStart, tail, err := readTail(absPath)
	if err != nil {
		return Companion{}, err
	}
	if tail == nil {
		return Companion{}, nil
	}

	offset := findEmbeddedOffset(tailStart, tail)
	if offset < 0 {
		if bytes.Contains(tail, motionPhotoMarker) {
			e.logger.Debug("motion photo marker without container signature",
				"path", photoPath)
		}
		return Companion{}, nil
	}

	embedded := tail[offset-tailStart:]
	if len(embedded) < minEmbeddedBytes {
		return Companion{}, nil
	}

	stem := strings.TrimSuffix(filepath.Base(photoPath), filepath.Ext(photoPath))
	artifactPath := artifacts.MotionVideoPath(stem)
	if err := e.store.WriteFile(artifactPath, embedded); err != nil {
		return Companion{}, errors.New(err).
			Component("motion").
			Category(errors.CategoryTransientIO).
			Context("operation", "write-motion-video").
			FileContext(photoPath, int64(len(embedded))).
			Build()
	}

	e.logger.Debug("extracted embedded motion video",
		"path", photoPath,
		"offset", offset,
		"bytes", len(embedded))
	return Companion{
		HasVideo:  true,
		Source:    SourceEmbedded,
		VideoPath: artifactPath,
	}, nil
}

// readTail returns the last tailWindow bytes of the file and the
// absolute offset they start at. Files too small to hold a plausible
// embedded video return a nil tail.
func readTail(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, errors.New(err).
			Component("motion").
			Category(errors.CategoryTransientIO).
			Context("operation", "read-tail").
			FileContext(path, 0).
			Build()
	}
	defer f.Close() //nolint:errcheck // read-only handle

	info, err := f.Stat()
	if err != nil {
		return 0, nil, errors.New(err).
			Component("motion").
			Category(errors.CategoryTransientIO).
			Context("operation", "read-tail").
			FileContext(path, 0).
			Build()
	}
	size := info.Size()
	if size < minEmbeddedBytes {
		return 0, nil, nil
	}

	tailStart := int64(0)
	if size > tailWindow {
		tailStart = size - tailWindow
	}
	tail := make([]byte, size-tailStart)
	if _, err := f.ReadAt(tail, tailStart); err != nil && err != io.EOF {
		return 0, nil, errors.New(err).
			Component("motion").
			Category(errors.CategoryTransientIO).
			Context("operation", "read-tail").
			FileContext(path, size).
			Build()
	}
	return tailStart, tail, nil
}

// findEmbeddedOffset returns the absolute offset of the embedded
// container, four bytes before the first signature match, or -1. The
// four bytes are the ftyp box size field; a match closer than that to
// the window start has its size field outside the window and is
// dropped.
func findEmbeddedOffset(tailStart int64, tail []byte) int64 {
	for _, sig := range mp4Signatures {
		idx := bytes.Index(tail, sig)
		if idx < 4 {
			continue
		}
		return tailStart + int64(idx) - 4
	}
	return -1
}

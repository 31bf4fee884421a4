// Package imagemeta extracts photo metadata without decoding pixels.
// The primary parser is goexif (JPEG and TIFF headers, in process); an
// exiftool fallback covers formats goexif cannot read, when the binary
// is installed. Dimensions come from the image header and are swapped
// to display orientation for rotated photos.
package imagemeta

import (
	"log/slog"
	"sync"

	"github.com/barasher/go-exiftool"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/imageops"
	"github.com/tphakala/photoindex/internal/logging"
)

// Extractor reads metadata for the exif stage. Safe for concurrent use
// except for Close; the exiftool handle is a single stay-open process,
// so access to it is serialized.
type Extractor struct {
	et     *exiftool.Exiftool
	etMu   sync.Mutex
	logger *slog.Logger
}

// NewExtractor creates an extractor. The exiftool fallback is probed at
// startup: a missing binary downgrades to goexif-only operation instead
// of failing.
func NewExtractor() *Extractor {
	logger := logging.ForService("imagemeta")
	if logger == nil {
		logger = slog.Default()
	}

	e := &Extractor{logger: logger}

	et, err := exiftool.NewExiftool(exiftool.NoPrintConversion())
	if err != nil {
		logger.Info("exiftool not available, exotic metadata formats will be limited",
			"error", err)
		return e
	}

	e.et = et
	logger.Debug("exiftool fallback enabled")
	return e
}

// Close releases the exiftool process, if one was started.
func (e *Extractor) Close() error {
	if e.et == nil {
		return nil
	}
	return e.et.Close()
}

// HasExiftool reports whether the exiftool fallback is active.
func (e *Extractor) HasExiftool() bool {
	return e.et != nil
}

// Extract reads metadata for one photo. Absent EXIF is not an error:
// the result then carries only dimensions (when the header is
// readable). A transient read failure is returned as an error so the
// stage can retry.
func (e *Extractor) Extract(path string) (*datastore.ExifData, error) {
	data := &datastore.ExifData{}

	native, gotExif, err := parseNative(path)
	if err != nil {
		return nil, err
	}
	if gotExif {
		data = native
	} else if e.et != nil {
		if fallback, ok := e.parseExiftool(path); ok {
			data = fallback
		}
	}

	// Stored dimensions come from the image header, which is
	// authoritative where EXIF pixel fields often lie after edits.
	width, height, _, err := imageops.DecodeConfig(path)
	if err == nil {
		data.Width = width
		data.Height = height
	} else {
		e.logger.Debug("header dimensions unavailable",
			"path", path, "error", err)
	}

	applyOrientation(data)
	return data, nil
}

// applyOrientation swaps width and height for the four transposed EXIF
// orientations so stored dimensions match what a viewer displays.
func applyOrientation(data *datastore.ExifData) {
	if data.Orientation >= 5 && data.Orientation <= 8 {
		data.Width, data.Height = data.Height, data.Width
	}
}

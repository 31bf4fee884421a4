// Package imageops decodes photos and renders the derived raster
// artifacts: thumbnails, face crops, caption inputs and hash inputs.
// All rendering works on an already-decoded, orientation-corrected
// image so each source file is decoded at most once per pipeline pass.
package imageops

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	// Register decoders beyond imaging's built-in set. TIFF and BMP
	// come with imaging itself; WebP only has a decoder in x/image.
	_ "golang.org/x/image/webp"

	"github.com/tphakala/photoindex/internal/errors"
)

// mimeTypes maps supported photo extensions to their MIME types. The
// table is explicit so results do not depend on the host's mime.types.
// HEIC/HEIF are discoverable (metadata via exiftool) but have no Go
// decoder, so their pixel stages skip.
var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".bmp":  "image/bmp",
}

// SupportedExt reports whether ext (with leading dot, any case) names
// an indexable photo format.
func SupportedExt(ext string) bool {
	_, ok := mimeTypes[strings.ToLower(ext)]
	return ok
}

// MimeTypeForPath returns the MIME type for a photo path based on its
// extension, or an empty string for unsupported extensions.
func MimeTypeForPath(path string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(path))]
}

// Decode opens and fully decodes a photo, applying the EXIF orientation
// so all downstream rendering sees upright pixels. Open failures are
// transient I/O; decode failures are permanent for the given content.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("imageops").
			Category(errors.CategoryTransientIO).
			Context("operation", "decode").
			FileContext(path, 0).
			Build()
	}
	defer f.Close() //nolint:errcheck // read-only handle

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.New(err).
			Component("imageops").
			Category(errors.CategoryImageDecode).
			Context("operation", "decode").
			FileContext(path, 0).
			Build()
	}
	return img, nil
}

// DecodeConfig reads the pixel dimensions and format name from the file
// header without decoding pixel data. The dimensions are as stored; the
// caller applies any EXIF orientation swap.
func DecodeConfig(path string) (width, height int, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", errors.New(err).
			Component("imageops").
			Category(errors.CategoryTransientIO).
			Context("operation", "decode-config").
			FileContext(path, 0).
			Build()
	}
	defer f.Close() //nolint:errcheck // read-only handle

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", errors.New(err).
			Component("imageops").
			Category(errors.CategoryImageDecode).
			Context("operation", "decode-config").
			FileContext(path, 0).
			Build()
	}
	return cfg.Width, cfg.Height, format, nil
}

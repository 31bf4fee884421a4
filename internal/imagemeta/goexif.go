package imagemeta

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/errors"
)

// exifDatetimeLayouts covers the EXIF standard form plus common camera
// deviations and the zone-suffixed strings exiftool emits for some
// tags. Zoneless values parse as UTC so a capture timestamp stores and
// round-trips with its wall-clock digits unchanged.
var exifDatetimeLayouts = []string{
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05",
	"2006-01-02 15:04:05",
	"2006:01:02",
	"2006-01-02",
}

// parseNative reads EXIF with goexif. The second return reports whether
// EXIF was present; a file without EXIF is not an error. Only an open
// failure is.
func parseNative(path string) (*datastore.ExifData, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, errors.New(err).
			Component("imagemeta").
			Category(errors.CategoryTransientIO).
			Context("operation", "parse-exif").
			FileContext(path, 0).
			Build()
	}
	defer f.Close() //nolint:errcheck // read-only handle

	x, err := exif.Decode(f)
	if err != nil {
		// goexif reports both "no EXIF segment" and unsupported
		// containers as decode errors; either way there is nothing
		// to extract here.
		return nil, false, nil
	}

	data := &datastore.ExifData{
		CameraMake:  stringField(x, exif.Make),
		CameraModel: stringField(x, exif.Model),
		LensModel:   stringField(x, exif.LensModel),
		Orientation: intField(x, exif.Orientation),
		ISO:         intField(x, exif.ISOSpeedRatings),
		FNumber:     ratField(x, exif.FNumber),
		FocalLength: ratField(x, exif.FocalLength),
	}

	if num, den, err := ratParts(x, exif.ExposureTime); err == nil && den != 0 {
		data.ExposureTime = fmt.Sprintf("%d/%d", num, den)
	}

	data.DateTaken = datetimeField(x)

	if lat, lon, err := x.LatLong(); err == nil && validLatLon(lat, lon) {
		data.Latitude = &lat
		data.Longitude = &lon
	}
	if alt, ok := altitudeField(x); ok {
		data.Altitude = &alt
	}

	// Pixel dimension tags are only a fallback; the caller overwrites
	// them with header dimensions when the header is readable.
	data.Width = intField(x, exif.PixelXDimension)
	data.Height = intField(x, exif.PixelYDimension)

	return data, true, nil
}

// datetimeField returns the capture timestamp, preferring the original
// capture tag over digitization and file modification tags.
func datetimeField(x *exif.Exif) *time.Time {
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts := parseExifDatetime(raw); ts != nil {
			return ts
		}
	}
	return nil
}

// parseExifDatetime parses an EXIF datetime string, tolerating the
// dash-separated variant some phones write. Returns nil when no layout
// matches.
func parseExifDatetime(raw string) *time.Time {
	raw = strings.TrimSpace(cleanString(raw))
	if raw == "" {
		return nil
	}
	for _, layout := range exifDatetimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &ts
		}
	}
	return nil
}

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// altitudeField returns the GPS altitude in meters, negated when the
// reference byte marks it as below sea level.
func altitudeField(x *exif.Exif) (float64, bool) {
	num, den, err := ratParts(x, exif.GPSAltitude)
	if err != nil || den == 0 {
		return 0, false
	}
	alt := float64(num) / float64(den)
	if intField(x, exif.GPSAltitudeRef) == 1 {
		alt = -alt
	}
	return alt, true
}

// cleanString strips the NUL padding EXIF ASCII values often carry.
func cleanString(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return cleanString(s)
}

func intField(x *exif.Exif, name exif.FieldName) int {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func ratParts(x *exif.Exif, name exif.FieldName) (num, den int64, err error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, 0, err
	}
	return tag.Rat2(0)
}

func ratField(x *exif.Exif, name exif.FieldName) float64 {
	num, den, err := ratParts(x, name)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

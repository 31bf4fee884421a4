package imagemeta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/photoindex/internal/datastore"
)

// parseExiftool extracts metadata with the exiftool fallback. The
// second return reports whether anything usable came back.
func (e *Extractor) parseExiftool(path string) (*datastore.ExifData, bool) {
	e.etMu.Lock()
	infos := e.et.ExtractMetadata(path)
	e.etMu.Unlock()

	if len(infos) == 0 {
		return nil, false
	}
	fm := infos[0]
	if fm.Err != nil {
		e.logger.Debug("exiftool extraction failed", "path", path, "error", fm.Err)
		return nil, false
	}

	data := &datastore.ExifData{}

	if v, err := fm.GetString("Make"); err == nil {
		data.CameraMake = cleanString(v)
	}
	if v, err := fm.GetString("Model"); err == nil {
		data.CameraModel = cleanString(v)
	}
	if v, err := fm.GetString("LensModel"); err == nil {
		data.LensModel = cleanString(v)
	}
	if v, err := fm.GetInt("Orientation"); err == nil {
		data.Orientation = int(v)
	}
	if v, err := fm.GetInt("ISO"); err == nil {
		data.ISO = int(v)
	}
	if v, err := fm.GetFloat("FNumber"); err == nil {
		data.FNumber = v
	}
	if v, err := fm.GetFloat("FocalLength"); err == nil {
		data.FocalLength = v
	}
	if v, err := fm.GetFloat("ExposureTime"); err == nil {
		data.ExposureTime = formatExposureSeconds(v)
	}
	if v, err := fm.GetInt("ImageWidth"); err == nil {
		data.Width = int(v)
	}
	if v, err := fm.GetInt("ImageHeight"); err == nil {
		data.Height = int(v)
	}

	for _, key := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		v, err := fm.GetString(key)
		if err != nil {
			continue
		}
		if ts := parseExifDatetime(v); ts != nil {
			data.DateTaken = ts
			break
		}
	}

	lat, latErr := fm.GetFloat("GPSLatitude")
	lon, lonErr := fm.GetFloat("GPSLongitude")
	if latErr == nil && lonErr == nil {
		// Numeric output leaves hemisphere refs as separate tags when
		// the source stores them that way; apply them if the values
		// came through unsigned.
		if ref, err := fm.GetString("GPSLatitudeRef"); err == nil && strings.HasPrefix(ref, "S") && lat > 0 {
			lat = -lat
		}
		if ref, err := fm.GetString("GPSLongitudeRef"); err == nil && strings.HasPrefix(ref, "W") && lon > 0 {
			lon = -lon
		}
		if validLatLon(lat, lon) {
			data.Latitude = &lat
			data.Longitude = &lon
		}
	}
	if alt, err := fm.GetFloat("GPSAltitude"); err == nil {
		if ref, err := fm.GetInt("GPSAltitudeRef"); err == nil && ref == 1 && alt > 0 {
			alt = -alt
		}
		data.Altitude = &alt
	}

	return data, hasAnyMetadata(data)
}

// formatExposureSeconds renders an exposure as the familiar fraction
// for sub-second values and plain seconds otherwise.
func formatExposureSeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	if seconds < 1 {
		return fmt.Sprintf("1/%d", int(1/seconds+0.5))
	}
	return strconv.FormatFloat(seconds, 'g', -1, 64)
}

func hasAnyMetadata(data *datastore.ExifData) bool {
	return data.CameraMake != "" || data.CameraModel != "" ||
		data.DateTaken != nil || data.Latitude != nil ||
		data.Width > 0 || data.Orientation > 0
}

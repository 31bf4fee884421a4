package faces

import (
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/tphakala/photoindex/internal/errors"
)

const (
	// Detections below this pigo quality score are discarded.
	minQuality float32 = 5.0

	detectShiftFactor = 0.1
	detectScaleFactor = 1.1
	clusterIoU        = 0.2

	// The cascade window degrades below this size, so the configured
	// minimum is clamped to it.
	minDetectSize = 20
)

// Detection is one face found in an image, in that image's pixel space.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
}

// Detector finds faces with a pigo cascade. Safe for concurrent use
// once constructed.
type Detector struct {
	classifier *pigo.Pigo
	minSize    int
}

// NewDetector loads and unpacks the cascade file.
func NewDetector(cascadePath string, minSize int) (*Detector, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelLoad).
			Context("operation", "load-cascade").
			Context("path", cascadePath).
			Build()
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelLoad).
			Context("operation", "unpack-cascade").
			Context("path", cascadePath).
			Build()
	}

	return &Detector{classifier: classifier, minSize: max(minSize, minDetectSize)}, nil
}

// Detect runs the cascade over img and returns the clustered,
// quality-filtered face boxes.
func (d *Detector) Detect(img image.Image) []Detection {
	src := pigo.ImgToNRGBA(img)
	bounds := src.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()
	if cols < d.minSize || rows < d.minSize {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     min(cols, rows),
		ShiftFactor: detectShiftFactor,
		ScaleFactor: detectScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, clusterIoU)

	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Q < minQuality {
			continue
		}
		box := boxFromDetection(det).Intersect(bounds)
		if box.Empty() {
			continue
		}
		out = append(out, Detection{Box: box, Confidence: float64(det.Q)})
	}
	return out
}

// boxFromDetection converts pigo's center and scale form into a
// rectangle.
func boxFromDetection(det pigo.Detection) image.Rectangle {
	half := det.Scale / 2
	return image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
}

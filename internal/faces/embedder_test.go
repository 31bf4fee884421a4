package faces

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/errors"
)

func TestNewEmbedderMissingModel(t *testing.T) {
	t.Parallel()

	_, err := NewEmbedder(filepath.Join(t.TempDir(), "arcface.onnx"), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad),
		"missing model must surface as a model load failure")
}

func TestPreprocessLayoutAndRange(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 24, 16))
	fill := color.NRGBA{R: 255, G: 128, B: 0, A: 255}
	for y := range 16 {
		for x := range 24 {
			img.SetNRGBA(x, y, fill)
		}
	}

	data := preprocess(img)
	require.Len(t, data, 3*embedInputSize*embedInputSize)

	const plane = embedInputSize * embedInputSize
	center := (embedInputSize/2)*embedInputSize + embedInputSize/2
	assert.InDelta(t, 1.0, float64(data[center]), 1e-2, "red channel maps to the top of the range")
	assert.InDelta(t, 0.0, float64(data[plane+center]), 1e-2, "mid gray maps near zero")
	assert.InDelta(t, -1.0, float64(data[2*plane+center]), 1e-2, "zero blue maps to the bottom")
}

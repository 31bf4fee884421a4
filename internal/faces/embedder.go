package faces

import (
	"image"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/tphakala/photoindex/internal/errors"
)

// embedInputSize is the square edge the ArcFace model expects.
const embedInputSize = 112

// The onnxruntime environment is process wide and must be configured
// before the first session is created.
var ortSetupMu sync.Mutex

func setupRuntime(libraryPath string) error {
	ortSetupMu.Lock()
	defer ortSetupMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

// Embedder produces identity vectors with an ArcFace ONNX model. Safe
// for concurrent use; each call runs on its own tensors.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

// NewEmbedder loads the model and prepares an inference session. The
// library path may be empty when onnxruntime is on the default search
// path.
func NewEmbedder(modelPath, libraryPath string) (*Embedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelLoad).
			Context("operation", "stat-model").
			Context("path", modelPath).
			Build()
	}

	if err := setupRuntime(libraryPath); err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelInit).
			Context("operation", "init-onnxruntime").
			Context("library", libraryPath).
			Build()
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelLoad).
			Context("operation", "inspect-model").
			Context("path", modelPath).
			Build()
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, errors.Newf("embedding model has %d inputs and %d outputs, expected one of each",
			len(inputs), len(outputs)).
			Component("faces").
			Category(errors.CategoryModelLoad).
			Context("path", modelPath).
			Build()
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("faces").
			Category(errors.CategoryModelInit).
			Context("operation", "create-session").
			Context("path", modelPath).
			Build()
	}

	return &Embedder{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

// Embed returns the L2-normalized identity vector for one face crop.
func (e *Embedder) Embed(face image.Image) ([]float32, error) {
	input, err := ort.NewTensor(ort.NewShape(1, 3, embedInputSize, embedInputSize), preprocess(face))
	if err != nil {
		return nil, embedError(err, "create-input")
	}
	defer func() { _ = input.Destroy() }()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, EmbeddingDim))
	if err != nil {
		return nil, embedError(err, "create-output")
	}
	defer func() { _ = output.Destroy() }()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, embedError(err, "run-inference")
	}

	vec := make([]float32, EmbeddingDim)
	copy(vec, output.GetData())
	Normalize(vec)
	return vec, nil
}

// Close releases the inference session.
func (e *Embedder) Close() error {
	if e == nil || e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

func embedError(err error, operation string) error {
	return errors.New(err).
		Component("faces").
		Category(errors.CategoryFaceEmbed).
		Context("operation", operation).
		Build()
}

// preprocess resizes the crop to the model input and lays it out as
// NCHW float32 with pixel values mapped to [-1, 1].
func preprocess(face image.Image) []float32 {
	resized := imaging.Resize(face, embedInputSize, embedInputSize, imaging.Lanczos)

	const plane = embedInputSize * embedInputSize
	data := make([]float32, 3*plane)
	for y := range embedInputSize {
		for x := range embedInputSize {
			c := resized.NRGBAAt(x, y)
			i := y*embedInputSize + x
			data[i] = (float32(c.R) - 127.5) / 127.5
			data[plane+i] = (float32(c.G) - 127.5) / 127.5
			data[2*plane+i] = (float32(c.B) - 127.5) / 127.5
		}
	}
	return data
}

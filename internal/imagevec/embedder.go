package imagevec

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/ternarybob/arbor"
)

// Embedder turns a rendered page image into a vector. The ONNX session
// is the production implementation; tests substitute stubs.
type Embedder interface {
	EmbedImage(path string) ([]float32, error)
	Close() error
}

// defaultSide is used when the model declares a dynamic spatial size.
const defaultSide = 224

var ortInit sync.Once

type layout int

const (
	layoutNCHW layout = iota
	layoutNHWC
)

// ONNXEmbedder runs a local image embedding model. The input layout and
// spatial size are introspected from the model so any single-image
// encoder with a channels-first or channels-last float input works.
type ONNXEmbedder struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	layout     layout
	height     int
	width      int
	logger     arbor.ILogger
}

// Open loads the model at modelPath. The caller is expected to have
// checked the file exists; a missing or malformed model is an error and
// the caller degrades to skipping image vectors.
func Open(modelPath string, logger arbor.ILogger) (*ONNXEmbedder, error) {
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize onnx runtime: %w", initErr)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("model must have one input, got %d", len(inputs))
	}

	dims := inputs[0].Dimensions
	if len(dims) != 4 {
		return nil, fmt.Errorf("model input must be 4-d, got %d-d", len(dims))
	}
	e := &ONNXEmbedder{
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		logger:     logger,
	}
	switch {
	case dims[1] == 3:
		e.layout = layoutNCHW
		e.height = sideOrDefault(dims[2])
		e.width = sideOrDefault(dims[3])
	case dims[3] == 3:
		e.layout = layoutNHWC
		e.height = sideOrDefault(dims[1])
		e.width = sideOrDefault(dims[2])
	default:
		return nil, fmt.Errorf("model input has no 3-channel axis")
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{e.inputName}, []string{e.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference session: %w", err)
	}
	e.session = session

	logger.Info().
		Str("model", modelPath).
		Int("height", e.height).
		Int("width", e.width).
		Msg("Image embedding model loaded")
	return e, nil
}

func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// EmbedImage decodes, resizes and normalizes the image, runs inference,
// and returns the flattened output vector.
func (e *ONNXEmbedder) EmbedImage(path string) ([]float32, error) {
	data, err := e.preprocess(path)
	if err != nil {
		return nil, err
	}

	var shape ort.Shape
	if e.layout == layoutNCHW {
		shape = ort.NewShape(1, 3, int64(e.height), int64(e.width))
	} else {
		shape = ort.NewShape(1, int64(e.height), int64(e.width), 3)
	}
	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("failed to build input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("model output is not float32")
	}
	vector := make([]float32, len(tensor.GetData()))
	copy(vector, tensor.GetData())
	return vector, nil
}

// preprocess loads the image, scales it to the model's input size, and
// converts to float32 in [0,1] in the model's channel layout.
func (e *ONNXEmbedder) preprocess(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := image.NewRGBA(image.Rect(0, 0, e.width, e.height))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)

	data := make([]float32, 3*e.height*e.width)
	plane := e.height * e.width
	for y := 0; y < e.height; y++ {
		for x := 0; x < e.width; x++ {
			i := resized.PixOffset(x, y)
			r := float32(resized.Pix[i]) / 255
			g := float32(resized.Pix[i+1]) / 255
			b := float32(resized.Pix[i+2]) / 255
			if e.layout == layoutNCHW {
				data[y*e.width+x] = r
				data[plane+y*e.width+x] = g
				data[2*plane+y*e.width+x] = b
			} else {
				j := (y*e.width + x) * 3
				data[j] = r
				data[j+1] = g
				data[j+2] = b
			}
		}
	}
	return data, nil
}

func sideOrDefault(d int64) int {
	if d <= 0 {
		return defaultSide
	}
	return int(d)
}

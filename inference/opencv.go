//go:build opencv

package inference

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// OpenCVEngine runs the stereo model through the OpenCV DNN module. The
// underlying net is not safe for concurrent use, so calls are serialized.
type OpenCVEngine struct {
	net       gocv.Net
	opts      Options
	mu        sync.Mutex
	inputSize image.Point
}

func NewOpenCVEngine(opts Options) (*OpenCVEngine, error) {
	opts = opts.withDefaults()
	if err := CheckModel(opts.ModelPath); err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load stereo model from %s", opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &OpenCVEngine{
		net:       net,
		opts:      opts,
		inputSize: image.Pt(opts.TargetSize, opts.TargetSize),
	}, nil
}

func (e *OpenCVEngine) Name() string { return "opencv" }

func (e *OpenCVEngine) Infer(ctx context.Context, left, right *models.ImageBuffer) (models.Tensor, error) {
	if err := checkTiles(left, right, e.opts.TargetSize); err != nil {
		return models.Tensor{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Tensor{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	leftBlob, err := e.blob(left)
	if err != nil {
		return models.Tensor{}, err
	}
	defer leftBlob.Close()
	rightBlob, err := e.blob(right)
	if err != nil {
		return models.Tensor{}, err
	}
	defer rightBlob.Close()

	e.net.SetInput(leftBlob, e.opts.LeftInputName)
	e.net.SetInput(rightBlob, e.opts.RightInputName)

	output := e.net.Forward(e.opts.OutputName)
	defer output.Close()
	if output.Empty() {
		return models.Tensor{}, fmt.Errorf("%w: empty forward output", models.ErrInferenceFailure)
	}

	raw, err := output.DataPtrFloat32()
	if err != nil {
		return models.Tensor{}, fmt.Errorf("%w: read output: %v", models.ErrInferenceFailure, err)
	}
	data := make([]float32, len(raw))
	copy(data, raw)

	return disparityTensor(data, e.opts.TargetSize)
}

// blob converts one BGRA tile into a normalized NCHW RGB blob.
func (e *OpenCVEngine) blob(buf *models.ImageBuffer) (gocv.Mat, error) {
	packed := make([]byte, 0, buf.RowBytes()*buf.Height)
	for y := 0; y < buf.Height; y++ {
		packed = append(packed, buf.Row(y)...)
	}

	bgra, err := gocv.NewMatFromBytes(buf.Height, buf.Width, gocv.MatTypeCV8UC4, packed)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: wrap tile: %v", models.ErrInferenceFailure, err)
	}
	defer bgra.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(bgra, &bgr, gocv.ColorBGRAToBGR); err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: convert tile: %v", models.ErrInferenceFailure, err)
	}

	return gocv.BlobFromImage(bgr, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false), nil
}

func (e *OpenCVEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

// Package inference runs the stereo disparity model over a pair of square
// BGRA tiles and returns a [1,1,S,S] float32 tensor.
package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tutortoise/stereo-depth-service/models"
)

const (
	BackendORT    = "ort"
	BackendOpenCV = "opencv"
)

// Engine is a loaded stereo model.
type Engine interface {
	Infer(ctx context.Context, left, right *models.ImageBuffer) (models.Tensor, error)
	Name() string
	Close() error
}

// Open loads the model with the named backend.
func Open(backend string, opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendORT, "onnxruntime":
		e, err := NewORTEngine(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	case BackendOpenCV, "gocv":
		e, err := NewOpenCVEngine(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", backend)
	}
}

func checkTiles(left, right *models.ImageBuffer, size int) error {
	if left == nil || right == nil {
		return fmt.Errorf("%w: missing input tile", models.ErrInferenceFailure)
	}
	for _, b := range []*models.ImageBuffer{left, right} {
		if b.Width != size || b.Height != size {
			return fmt.Errorf("%w: tile %dx%d, model expects %dx%d",
				models.ErrDimensionMismatch, b.Width, b.Height, size, size)
		}
	}
	return nil
}

// disparityTensor wraps raw model output, rejecting empty or short results.
func disparityTensor(data []float32, size int) (models.Tensor, error) {
	if len(data) == 0 {
		return models.Tensor{}, fmt.Errorf("%w: empty model output", models.ErrInferenceFailure)
	}
	if len(data) != size*size {
		return models.Tensor{}, fmt.Errorf("%w: model output has %d values, want %d",
			models.ErrInferenceFailure, len(data), size*size)
	}
	return models.NewDisparityTensor(size, size, data), nil
}

//go:build !opencv

package inference

import (
	"context"
	"errors"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// ErrOpenCVRequired is returned when the OpenCV backend is selected in a
// build without the opencv tag.
var ErrOpenCVRequired = errors.New("opencv backend not compiled in; rebuild with -tags opencv")

// OpenCVEngine is unavailable without the opencv build tag.
type OpenCVEngine struct{}

func NewOpenCVEngine(Options) (*OpenCVEngine, error) {
	return nil, ErrOpenCVRequired
}

func (e *OpenCVEngine) Name() string { return "opencv" }

func (e *OpenCVEngine) Infer(context.Context, *models.ImageBuffer, *models.ImageBuffer) (models.Tensor, error) {
	return models.Tensor{}, ErrOpenCVRequired
}

func (e *OpenCVEngine) Close() error { return nil }

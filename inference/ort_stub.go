//go:build !cgo

package inference

import (
	"context"

	"github.com/Tutortoise/stereo-depth-service/models"
)

func InitRuntime(string) error { return ErrCGORequired }

func ShutdownRuntime() error { return nil }

// ORTEngine is unavailable without cgo.
type ORTEngine struct{}

func NewORTEngine(Options) (*ORTEngine, error) {
	return nil, ErrCGORequired
}

func (e *ORTEngine) Name() string { return "onnxruntime" }

func (e *ORTEngine) Infer(context.Context, *models.ImageBuffer, *models.ImageBuffer) (models.Tensor, error) {
	return models.Tensor{}, ErrCGORequired
}

func (e *ORTEngine) Stats() SessionPoolStats { return SessionPoolStats{} }

func (e *ORTEngine) Close() error { return nil }

package models

import (
	"errors"
	"fmt"
)

var (
	ErrAllocationFailure = errors.New("buffer allocation failed")
	ErrShapeMismatch     = errors.New("tensor shape mismatch")
	ErrUniformInput      = errors.New("tensor has zero dynamic range")
	ErrDimensionMismatch = errors.New("buffer dimensions mismatch")
	ErrInferenceFailure  = errors.New("inference failed")
	ErrInferenceTimeout  = errors.New("inference timed out")
	// ErrBadFrame marks a source frame that could not be read; the source
	// stays usable and the next call moves on.
	ErrBadFrame          = errors.New("bad source frame")
)

// ProcessingError records which stage of a frame cycle failed.
type ProcessingError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Kind maps an error onto the taxonomy name used in stats and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAllocationFailure):
		return "allocation_failure"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrUniformInput):
		return "uniform_input"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrInferenceTimeout):
		return "inference_timeout"
	case errors.Is(err, ErrInferenceFailure):
		return "inference_failure"
	case errors.Is(err, ErrBadFrame):
		return "bad_frame"
	default:
		return "other"
	}
}

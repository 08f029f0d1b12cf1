package models

import "fmt"

// DType is the element type of a Tensor.
type DType uint8

const (
	Float32 DType = iota + 1
	Float16
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Tensor is a dense row-major array produced by the inference step.
// Only Float32 tensors carry data.
type Tensor struct {
	DType DType
	Shape []int64
	Data  []float32
}

// NewDisparityTensor builds a [1,1,h,w] float32 tensor over data.
func NewDisparityTensor(h, w int, data []float32) Tensor {
	return Tensor{
		DType: Float32,
		Shape: []int64{1, 1, int64(h), int64(w)},
		Data:  data,
	}
}

// Elements returns the product of the shape dimensions.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor(%s%v)", t.DType, t.Shape)
}

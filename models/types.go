package models

import (
	"time"

	"github.com/google/uuid"
)

// PixelFormat identifies the memory layout of an ImageBuffer.
type PixelFormat uint8

const (
	// FormatBGRA is 4 bytes per pixel in B, G, R, A order.
	FormatBGRA PixelFormat = iota + 1
)

// BytesPerPixel returns the pixel size for the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGRA:
		return 4
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	default:
		return "unknown"
	}
}

// StereoFramePair is one left/right capture taken at the same instant.
// Both buffers share a height; widths may differ.
type StereoFramePair struct {
	Left      *ImageBuffer
	Right     *ImageBuffer
	Seq       uint64
	Timestamp time.Time
}

// Release drops the pair's references to both eye buffers.
func (p StereoFramePair) Release() {
	if p.Left != nil {
		p.Left.Release()
	}
	if p.Right != nil {
		p.Right.Release()
	}
}

// RescaleResult is a model-ready square tile plus the parameters needed to
// map tile coordinates back onto the source frame.
type RescaleResult struct {
	Buffer      *ImageBuffer
	Scale       float32
	CropOffsetX int
	CropOffsetY int
}

// ToSource maps a tile coordinate back to source-frame pixels.
func (r RescaleResult) ToSource(x, y float32) (float32, float32) {
	return x/r.Scale + float32(r.CropOffsetX), y/r.Scale + float32(r.CropOffsetY)
}

type ProcessingTimings struct {
	FrameID   string
	Seq       uint64
	Rescale   time.Duration
	Inference time.Duration
	Normalize time.Duration
	Composite time.Duration
	Total     time.Duration
}

// NewProcessingTimings starts a timing record for one frame pair.
func NewProcessingTimings(seq uint64) *ProcessingTimings {
	return &ProcessingTimings{
		FrameID: uuid.NewString(),
		Seq:     seq,
	}
}

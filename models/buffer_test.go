package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecycler struct {
	recycled []*ImageBuffer
}

func (r *countingRecycler) Recycle(b *ImageBuffer) {
	r.recycled = append(r.recycled, b)
}

func TestNewImageBuffer_WidensStride(t *testing.T) {
	b := NewImageBuffer(4, 2, 3)
	assert.Equal(t, 16, b.Stride)
	assert.Equal(t, 1, b.Refs())
	assert.Len(t, b.Row(1), 16)
}

func TestImageBuffer_SetAtRespectsStride(t *testing.T) {
	b := NewImageBuffer(3, 2, 32)
	red := BGRA{R: 255, A: 255}
	b.Set(2, 1, red)

	assert.Equal(t, red, b.At(2, 1))
	assert.Equal(t, 32+8, b.PixelOffset(2, 1))
	row := b.Row(1)
	assert.Equal(t, []byte{0, 0, 255, 255}, row[8:12])
}

func TestImageBuffer_FillLeavesPadding(t *testing.T) {
	b := NewImageBuffer(2, 2, 12)
	b.Fill(BGRA{B: 9, G: 9, R: 9, A: 9})

	err := b.WithPixels(func(pix []byte, stride int) error {
		for y := 0; y < 2; y++ {
			assert.Equal(t, []byte{0, 0, 0, 0}, pix[y*stride+8:y*stride+12], "row %d padding", y)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImageBuffer_WithPixelsIsScoped(t *testing.T) {
	b := NewImageBuffer(1, 1, 4)

	err := b.WithPixels(func([]byte, int) error {
		nested := b.WithPixels(func([]byte, int) error { return nil })
		assert.ErrorIs(t, nested, ErrBufferLocked)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	// Released after an error.
	assert.NoError(t, b.WithPixels(func([]byte, int) error { return nil }))

	// Released after a panic.
	func() {
		defer func() { _ = recover() }()
		_ = b.WithPixels(func([]byte, int) error { panic("x") })
	}()
	assert.NoError(t, b.WithPixels(func([]byte, int) error { return nil }))
}

func TestImageBuffer_ReleaseRecyclesOnLastReference(t *testing.T) {
	r := &countingRecycler{}
	b, err := NewPooledImageBuffer(FormatBGRA, 2, 2, 8, make([]byte, 16), r)
	require.NoError(t, err)
	b.MarkAcquired()

	b.Retain()
	b.Release()
	assert.Empty(t, r.recycled)

	b.Release()
	require.Len(t, r.recycled, 1)

	// Double release is ignored.
	b.Release()
	assert.Len(t, r.recycled, 1)
	assert.Equal(t, 0, b.Refs())
}

func TestNewPooledImageBuffer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		format PixelFormat
		w, h   int
		stride int
		size   int
	}{
		{"unknown format", 0, 2, 2, 8, 16},
		{"stride too small", FormatBGRA, 2, 2, 4, 16},
		{"zero width", FormatBGRA, 0, 2, 8, 16},
		{"short backing store", FormatBGRA, 2, 2, 8, 15},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPooledImageBuffer(tc.format, tc.w, tc.h, tc.stride, make([]byte, tc.size), nil)
			assert.Error(t, err)
		})
	}
}

func TestImageBuffer_RGBAViewSharesMemory(t *testing.T) {
	b := NewImageBuffer(2, 2, 16)
	view := b.RGBAView()
	view.Pix[view.PixOffset(1, 1)] = 7

	assert.Equal(t, uint8(7), b.At(1, 1).B)
	assert.Equal(t, b.Bounds(), view.Bounds())
}

func TestKind(t *testing.T) {
	wrapped := &ProcessingError{Stage: "normalize", Message: "depth map", Cause: ErrUniformInput}
	assert.Equal(t, "uniform_input", Kind(wrapped))
	assert.Equal(t, "inference_timeout", Kind(fmt.Errorf("x: %w", ErrInferenceTimeout)))
	assert.Equal(t, "other", Kind(errors.New("x")))
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "normalize: depth map: tensor has zero dynamic range", wrapped.Error())
}

func TestRescaleResult_ToSource(t *testing.T) {
	r := RescaleResult{Scale: 0.5, CropOffsetX: 10, CropOffsetY: 0}
	x, y := r.ToSource(4, 6)
	assert.Equal(t, float32(18), x)
	assert.Equal(t, float32(12), y)
}

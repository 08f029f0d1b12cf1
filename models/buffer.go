package models

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

// ErrBufferLocked is returned by WithPixels when another access window is open.
var ErrBufferLocked = errors.New("image buffer is locked")

// BGRA is a single pixel in buffer byte order.
type BGRA struct {
	B, G, R, A uint8
}

// Recycler takes back a buffer whose last reference was released.
type Recycler interface {
	Recycle(buf *ImageBuffer)
}

// ImageBuffer is a 2D pixel array with an explicit row stride. Stride may
// exceed Width*4 when rows are padded for alignment.
//
// Buffers are reference counted. A pooled buffer goes back to its pool when
// the count reaches zero, so holders only ever call Release.
type ImageBuffer struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int

	pix      []byte
	refs     atomic.Int32
	locked   atomic.Bool
	recycler Recycler
}

// NewImageBuffer allocates a standalone BGRA buffer. A stride smaller than
// width*4 is widened to width*4.
func NewImageBuffer(width, height, stride int) *ImageBuffer {
	if stride < width*4 {
		stride = width * 4
	}
	b := &ImageBuffer{
		Format: FormatBGRA,
		Width:  width,
		Height: height,
		Stride: stride,
		pix:    make([]byte, stride*height),
	}
	b.refs.Store(1)
	return b
}

// NewPooledImageBuffer wraps pool-owned memory. The buffer starts with no
// references; the pool calls MarkAcquired before handing it out.
func NewPooledImageBuffer(format PixelFormat, width, height, stride int, pix []byte, r Recycler) (*ImageBuffer, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %d", format)
	}
	if width <= 0 || height <= 0 || stride < width*bpp {
		return nil, fmt.Errorf("invalid buffer geometry %dx%d stride %d", width, height, stride)
	}
	if len(pix) < stride*height {
		return nil, fmt.Errorf("backing store too small: %d < %d", len(pix), stride*height)
	}
	return &ImageBuffer{
		Format:   format,
		Width:    width,
		Height:   height,
		Stride:   stride,
		pix:      pix[:stride*height],
		recycler: r,
	}, nil
}

// MarkAcquired resets the reference count to one. Pools call it when a
// buffer leaves the free list.
func (b *ImageBuffer) MarkAcquired() {
	b.refs.Store(1)
}

// Retain adds a reference. Each Retain must be paired with a Release.
func (b *ImageBuffer) Retain() *ImageBuffer {
	b.refs.Add(1)
	return b
}

// Release drops a reference. Releasing past zero is ignored.
func (b *ImageBuffer) Release() {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return
		}
		if b.refs.CompareAndSwap(n, n-1) {
			if n == 1 && b.recycler != nil {
				b.recycler.Recycle(b)
			}
			return
		}
	}
}

// Refs reports the current reference count.
func (b *ImageBuffer) Refs() int {
	return int(b.refs.Load())
}

// RowBytes is the number of visible bytes in a row.
func (b *ImageBuffer) RowBytes() int {
	return b.Width * b.Format.BytesPerPixel()
}

// Row returns the visible bytes of row y, excluding any stride padding.
func (b *ImageBuffer) Row(y int) []byte {
	off := y * b.Stride
	return b.pix[off : off+b.RowBytes()]
}

// PixelOffset returns the byte offset of pixel (x, y).
func (b *ImageBuffer) PixelOffset(x, y int) int {
	return y*b.Stride + x*b.Format.BytesPerPixel()
}

// At returns the pixel at (x, y).
func (b *ImageBuffer) At(x, y int) BGRA {
	i := b.PixelOffset(x, y)
	p := b.pix[i : i+4 : i+4]
	return BGRA{B: p[0], G: p[1], R: p[2], A: p[3]}
}

// Set writes the pixel at (x, y).
func (b *ImageBuffer) Set(x, y int, c BGRA) {
	i := b.PixelOffset(x, y)
	p := b.pix[i : i+4 : i+4]
	p[0] = c.B
	p[1] = c.G
	p[2] = c.R
	p[3] = c.A
}

// Fill sets every visible pixel to c.
func (b *ImageBuffer) Fill(c BGRA) {
	for y := 0; y < b.Height; y++ {
		row := b.Row(y)
		for x := 0; x < len(row); x += 4 {
			row[x] = c.B
			row[x+1] = c.G
			row[x+2] = c.R
			row[x+3] = c.A
		}
	}
}

// WithPixels opens a direct-memory window over the whole backing store.
// The window is closed when fn returns, including on panic.
func (b *ImageBuffer) WithPixels(fn func(pix []byte, stride int) error) error {
	if !b.locked.CompareAndSwap(false, true) {
		return ErrBufferLocked
	}
	defer b.locked.Store(false)
	return fn(b.pix, b.Stride)
}

// RGBAView exposes the same memory as an *image.RGBA without copying. The
// view labels bytes R,G,B,A; per-channel operations keep BGRA order intact.
func (b *ImageBuffer) RGBAView() *image.RGBA {
	return &image.RGBA{
		Pix:    b.pix,
		Stride: b.Stride,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Bounds returns the buffer rectangle anchored at the origin.
func (b *ImageBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// ToNRGBA copies the visible pixels into a new *image.NRGBA in RGBA order.
func (b *ImageBuffer) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(b.Bounds())
	for y := 0; y < b.Height; y++ {
		src := b.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+len(src)]
		for x := 0; x < len(src); x += 4 {
			dst[x] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x]
			dst[x+3] = src[x+3]
		}
	}
	return img
}

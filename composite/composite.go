// Package composite joins two frames side by side into one display frame.
package composite

import (
	"errors"
	"fmt"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/models"
)

type Compositor struct {
	pools      *bufpool.Manager
	minBuffers int
}

func NewCompositor(pools *bufpool.Manager, minBuffers int) *Compositor {
	return &Compositor{pools: pools, minBuffers: minBuffers}
}

// Composite returns a (left.Width+right.Width) x height buffer holding
// left's rows followed by right's rows. Both inputs must share a height.
// Each source is read through its own stride, so row padding never lands
// in the visible output.
func (c *Compositor) Composite(left, right *models.ImageBuffer) (*models.ImageBuffer, error) {
	if left == nil || right == nil {
		return nil, errors.New("composite: nil input buffer")
	}
	if left.Height != right.Height {
		return nil, fmt.Errorf("%w: left %dx%d, right %dx%d",
			models.ErrDimensionMismatch, left.Width, left.Height, right.Width, right.Height)
	}

	w, h := left.Width+right.Width, left.Height
	pool, err := c.pools.GetPool(models.FormatBGRA, w, h, c.minBuffers)
	if err != nil {
		return nil, fmt.Errorf("composite pool: %w", err)
	}
	out, err := pool.Acquire()
	if err != nil {
		return nil, err
	}

	if err := CopyRows(out, left, right); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// CopyRows writes left's visible row bytes at offset 0 of each dst row and
// right's immediately after, at left.Width*4. The split is left's visible
// width, not its stride: padding bytes are never copied into the output.
func CopyRows(dst, left, right *models.ImageBuffer) error {
	if left.Height != right.Height {
		return fmt.Errorf("%w: heights %d and %d", models.ErrDimensionMismatch, left.Height, right.Height)
	}
	if dst.Height != left.Height || dst.Width != left.Width+right.Width {
		return fmt.Errorf("%w: output %dx%d for inputs %dx%d + %dx%d", models.ErrDimensionMismatch,
			dst.Width, dst.Height, left.Width, left.Height, right.Width, right.Height)
	}

	split := left.RowBytes()
	for y := 0; y < dst.Height; y++ {
		row := dst.Row(y)
		copy(row[:split], left.Row(y))
		copy(row[split:], right.Row(y))
	}
	return nil
}

// Package depthmap renders a disparity tensor as a displayable grayscale image.
package depthmap

import (
	"fmt"
	"math"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/models"
)

// Normalizer maps a [1,1,H,W] float tensor linearly onto 0..255.
type Normalizer struct {
	pools      *bufpool.Manager
	minBuffers int
}

func NewNormalizer(pools *bufpool.Manager, minBuffers int) *Normalizer {
	return &Normalizer{pools: pools, minBuffers: minBuffers}
}

// Normalize stretches [min, max] of the tensor onto [0, 255] and writes
// (v, v, v, 255) into a pool-allocated W x H buffer. Outliers compress the
// visible range; no equalization is applied.
func (n *Normalizer) Normalize(t models.Tensor) (*models.ImageBuffer, error) {
	h, w, err := CheckShape(t)
	if err != nil {
		return nil, err
	}

	lo, hi, ok := MinMax(t.Data)
	if !ok || hi == lo {
		return nil, fmt.Errorf("%w: min=%g max=%g", models.ErrUniformInput, lo, hi)
	}

	pool, err := n.pools.GetPool(models.FormatBGRA, w, h, n.minBuffers)
	if err != nil {
		return nil, fmt.Errorf("depth pool: %w", err)
	}
	out, err := pool.Acquire()
	if err != nil {
		return nil, err
	}

	// float64 keeps the span finite for ranges wider than float32 can hold
	base, span := float64(lo), float64(hi)-float64(lo)
	for y := 0; y < h; y++ {
		src := t.Data[y*w : (y+1)*w]
		row := out.Row(y)
		for x, v := range src {
			g := toByte(v, base, span)
			p := row[x*4 : x*4+4 : x*4+4]
			p[0] = g
			p[1] = g
			p[2] = g
			p[3] = 255
		}
	}

	return out, nil
}

// CheckShape validates a disparity tensor and returns its height and width.
func CheckShape(t models.Tensor) (h, w int, err error) {
	if t.DType != models.Float32 {
		return 0, 0, fmt.Errorf("%w: dtype %s, want float32", models.ErrShapeMismatch, t.DType)
	}
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 1 {
		return 0, 0, fmt.Errorf("%w: shape %v, want [1 1 H W]", models.ErrShapeMismatch, t.Shape)
	}
	if t.Shape[2] <= 0 || t.Shape[3] <= 0 {
		return 0, 0, fmt.Errorf("%w: empty shape %v", models.ErrShapeMismatch, t.Shape)
	}
	h, w = int(t.Shape[2]), int(t.Shape[3])
	if len(t.Data) != h*w {
		return 0, 0, fmt.Errorf("%w: %d elements for shape %v", models.ErrShapeMismatch, len(t.Data), t.Shape)
	}
	return h, w, nil
}

// MinMax scans data for its extremes, skipping NaN and infinities. ok is
// false when no finite value exists.
func MinMax(data []float32) (lo, hi float32, ok bool) {
	for _, v := range data {
		if v != v || math.IsInf(float64(v), 0) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

func toByte(v float32, lo, span float64) uint8 {
	if v != v {
		return 0
	}
	f := math.Round((float64(v) - lo) / span * 255)
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	default:
		return uint8(f)
	}
}

// Package rescale turns raw camera frames into square model tiles.
package rescale

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/models"
)

// DefaultTargetSize is the stereo model's input resolution.
const DefaultTargetSize = 512

// Transformer center-crops a frame to a square and scales it into a
// pool-allocated targetSize x targetSize buffer.
type Transformer struct {
	pools      *bufpool.Manager
	minBuffers int
	interp     draw.Interpolator
}

// NewTransformer builds a Transformer. interpolation is one of "nearest",
// "approx-bilinear", "bilinear" or "catmullrom"; anything else means bilinear.
func NewTransformer(pools *bufpool.Manager, interpolation string, minBuffers int) *Transformer {
	return &Transformer{
		pools:      pools,
		minBuffers: minBuffers,
		interp:     chooseInterpolator(interpolation),
	}
}

// Rescale crops the centered square of side min(w, h) from src and renders
// it at targetSize x targetSize. The crop is translated to the origin
// before the uniform scale is applied.
func (t *Transformer) Rescale(src *models.ImageBuffer, targetSize int) (models.RescaleResult, error) {
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return models.RescaleResult{}, errors.New("rescale: empty source buffer")
	}
	if targetSize <= 0 {
		return models.RescaleResult{}, fmt.Errorf("rescale: invalid target size %d", targetSize)
	}

	crop := CenterCrop(src.Width, src.Height)
	scale := float64(targetSize) / float64(crop.Dx())

	pool, err := t.pools.GetPool(models.FormatBGRA, targetSize, targetSize, t.minBuffers)
	if err != nil {
		return models.RescaleResult{}, fmt.Errorf("rescale pool: %w", err)
	}
	dst, err := pool.Acquire()
	if err != nil {
		return models.RescaleResult{}, err
	}

	s2d := Concat(ScaleMatrix(scale), TranslateMatrix(-float64(crop.Min.X), -float64(crop.Min.Y)))
	t.interp.Transform(dst.RGBAView(), s2d, src.RGBAView(), crop, draw.Src, nil)

	return models.RescaleResult{
		Buffer:      dst,
		Scale:       float32(scale),
		CropOffsetX: crop.Min.X,
		CropOffsetY: crop.Min.Y,
	}, nil
}

// CenterCrop returns the largest centered square inside a w x h frame.
func CenterCrop(w, h int) image.Rectangle {
	side := min(w, h)
	x0 := (w - side) / 2
	y0 := (h - side) / 2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// TranslateMatrix is the affine translation by (tx, ty).
func TranslateMatrix(tx, ty float64) f64.Aff3 {
	return f64.Aff3{
		1, 0, tx,
		0, 1, ty,
	}
}

// ScaleMatrix is the uniform affine scale by s.
func ScaleMatrix(s float64) f64.Aff3 {
	return f64.Aff3{
		s, 0, 0,
		0, s, 0,
	}
}

// Concat returns the transform that applies b first and then a.
func Concat(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func chooseInterpolator(name string) draw.Interpolator {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return draw.NearestNeighbor
	case "approx-bilinear":
		return draw.ApproxBiLinear
	case "catmullrom", "bicubic":
		return draw.CatmullRom
	case "bilinear":
		fallthrough
	default:
		return draw.BiLinear
	}
}

package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/stereo-depth-service/models"
)

func tile(w, h, stride int) *models.ImageBuffer {
	buf := models.NewImageBuffer(w, h, stride)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.Set(x, y, models.BGRA{B: uint8(x), G: uint8(y), R: 255, A: 255})
		}
	}
	return buf
}

func TestPreprocessor_PlanarRGB(t *testing.T) {
	src := tile(3, 2, 64)
	dst := make([]float32, 3*3*2)

	p := NewPreprocessor()
	require.NoError(t, p.Pack(src, dst))

	plane := 6
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			i := y*3 + x
			assert.InDelta(t, 1.0, dst[i], 1e-6, "R at %d,%d", x, y)
			assert.InDelta(t, float32(y)/255, dst[plane+i], 1e-6, "G at %d,%d", x, y)
			assert.InDelta(t, float32(x)/255, dst[2*plane+i], 1e-6, "B at %d,%d", x, y)
		}
	}
}

func TestPreprocessor_ParallelMatchesSerial(t *testing.T) {
	src := tile(16, 37, 0)
	serial := make([]float32, 3*16*37)
	parallel := make([]float32, 3*16*37)

	p := NewPreprocessor()
	p.parallel = false
	require.NoError(t, p.Pack(src, serial))

	p.parallel = true
	p.numWorkers = 4
	require.NoError(t, p.Pack(src, parallel))

	assert.Equal(t, serial, parallel)
}

func TestPreprocessor_MeanStd(t *testing.T) {
	src := models.NewImageBuffer(1, 1, 0)
	src.Set(0, 0, models.BGRA{B: 0, G: 255, R: 255, A: 255})
	dst := make([]float32, 3)

	p := NewPreprocessor()
	p.Mean = [3]float32{0.5, 0.5, 0.5}
	p.Std = [3]float32{0.5, 0.5, 0.5}
	require.NoError(t, p.Pack(src, dst))

	assert.InDelta(t, 1.0, dst[0], 1e-6)
	assert.InDelta(t, 1.0, dst[1], 1e-6)
	assert.InDelta(t, -1.0, dst[2], 1e-6)
}

func TestPreprocessor_ShortDestination(t *testing.T) {
	p := NewPreprocessor()
	err := p.Pack(tile(4, 4, 0), make([]float32, 10))
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	assert.Error(t, p.Pack(nil, nil))
}

package depthmap

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/models"
)

func grayRows(buf *models.ImageBuffer) [][]uint8 {
	out := make([][]uint8, buf.Height)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			out[y] = append(out[y], buf.At(x, y).R)
		}
	}
	return out
}

func TestNormalize_LinearStretch(t *testing.T) {
	n := NewNormalizer(bufpool.NewManager(), 0)

	out, err := n.Normalize(models.NewDisparityTensor(2, 2, []float32{0, 1, 2, 3}))
	require.NoError(t, err)
	defer out.Release()

	want := [][]uint8{{0, 85}, {170, 255}}
	if diff := cmp.Diff(want, grayRows(out)); diff != "" {
		t.Errorf("gray mismatch (-want +got):\n%s", diff)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			p := out.At(x, y)
			assert.Equal(t, p.R, p.G)
			assert.Equal(t, p.R, p.B)
			assert.Equal(t, uint8(255), p.A)
		}
	}
}

func TestNormalize_NonSquareKeepsRowColumn(t *testing.T) {
	n := NewNormalizer(bufpool.NewManager(), 0)

	// 2 rows x 3 columns, negative range.
	out, err := n.Normalize(models.NewDisparityTensor(2, 3, []float32{-10, -5, 0, 0, -10, -10}))
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 3, out.Width)
	assert.Equal(t, 2, out.Height)
	want := [][]uint8{{0, 128, 255}, {255, 0, 0}}
	assert.Equal(t, want, grayRows(out))
}

func TestNormalize_UniformInput(t *testing.T) {
	pools := bufpool.NewManager()
	n := NewNormalizer(pools, 0)

	data := make([]float32, 12)
	for i := range data {
		data[i] = 5.0
	}
	_, err := n.Normalize(models.NewDisparityTensor(3, 4, data))
	require.ErrorIs(t, err, models.ErrUniformInput)
	assert.Empty(t, pools.Pools(), "no buffer should be allocated")

	nan := float32(math.NaN())
	_, err = n.Normalize(models.NewDisparityTensor(1, 2, []float32{nan, nan}))
	assert.ErrorIs(t, err, models.ErrUniformInput)
}

func TestNormalize_ShapeMismatch(t *testing.T) {
	n := NewNormalizer(bufpool.NewManager(), 0)

	tests := []struct {
		name   string
		tensor models.Tensor
	}{
		{"wrong dtype", models.Tensor{DType: models.Float16, Shape: []int64{1, 1, 1, 2}, Data: []float32{0, 1}}},
		{"rank 3", models.Tensor{DType: models.Float32, Shape: []int64{1, 1, 2}, Data: []float32{0, 1}}},
		{"two channels", models.Tensor{DType: models.Float32, Shape: []int64{1, 2, 1, 1}, Data: []float32{0, 1}}},
		{"batch of two", models.Tensor{DType: models.Float32, Shape: []int64{2, 1, 1, 1}, Data: []float32{0, 1}}},
		{"zero height", models.Tensor{DType: models.Float32, Shape: []int64{1, 1, 0, 2}, Data: nil}},
		{"short data", models.Tensor{DType: models.Float32, Shape: []int64{1, 1, 2, 2}, Data: []float32{0, 1, 2}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.tensor)
			assert.ErrorIs(t, err, models.ErrShapeMismatch)
		})
	}
}

func TestNormalize_NonFiniteValues(t *testing.T) {
	n := NewNormalizer(bufpool.NewManager(), 0)
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	out, err := n.Normalize(models.NewDisparityTensor(1, 4, []float32{nan, 1, 3, inf}))
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, [][]uint8{{0, 0, 255, 255}}, grayRows(out))
}

func TestNormalize_RangeWiderThanFloat32(t *testing.T) {
	n := NewNormalizer(bufpool.NewManager(), 0)

	// max-min overflows float32 although every element is finite
	out, err := n.Normalize(models.NewDisparityTensor(1, 3, []float32{-3e38, 0, 3e38}))
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, [][]uint8{{0, 128, 255}}, grayRows(out))
}

func TestNormalize_ReusesPoolAcrossFrames(t *testing.T) {
	pools := bufpool.NewManager()
	n := NewNormalizer(pools, 0)
	tensor := models.NewDisparityTensor(2, 2, []float32{0, 1, 2, 3})

	for i := 0; i < 5; i++ {
		out, err := n.Normalize(tensor)
		require.NoError(t, err)
		out.Release()
	}

	snap := pools.Pools()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(1), snap[0].Allocations)
	assert.Equal(t, int64(5), snap[0].TotalAcquired)
}

func TestMinMax(t *testing.T) {
	lo, hi, ok := MinMax([]float32{3, -1, 7, 2})
	assert.True(t, ok)
	assert.Equal(t, float32(-1), lo)
	assert.Equal(t, float32(7), hi)

	_, _, ok = MinMax(nil)
	assert.False(t, ok)
}

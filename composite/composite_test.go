package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/models"
)

var (
	red  = models.BGRA{R: 255, A: 255}
	blue = models.BGRA{B: 255, A: 255}
	junk = byte(0xAB)
)

// paddedBuffer returns a w x h buffer whose padding bytes are set to junk.
func paddedBuffer(t *testing.T, w, h, stride int, c models.BGRA) *models.ImageBuffer {
	t.Helper()
	buf := models.NewImageBuffer(w, h, stride)
	require.NoError(t, buf.WithPixels(func(pix []byte, _ int) error {
		for i := range pix {
			pix[i] = junk
		}
		return nil
	}))
	buf.Fill(c)
	return buf
}

func TestComposite_SideBySide(t *testing.T) {
	pools := bufpool.NewManager()
	c := NewCompositor(pools, 0)

	left := paddedBuffer(t, 4, 2, 32, red)
	right := paddedBuffer(t, 4, 2, 24, blue)

	out, err := c.Composite(left, right)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 2, out.Height)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, red, out.At(x, y), "left pixel %d,%d", x, y)
			assert.Equal(t, blue, out.At(x+4, y), "right pixel %d,%d", x+4, y)
		}
		for _, b := range out.Row(y) {
			assert.NotEqual(t, junk, b, "padding leaked into row %d", y)
		}
	}
}

func TestComposite_UnequalWidths(t *testing.T) {
	c := NewCompositor(bufpool.NewManager(), 0)
	left := models.NewImageBuffer(3, 2, 0)
	right := models.NewImageBuffer(5, 2, 0)
	left.Fill(red)
	right.Fill(blue)

	out, err := c.Composite(left, right)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 8, out.Width)
	assert.Equal(t, red, out.At(2, 1))
	assert.Equal(t, blue, out.At(3, 1))
	assert.Equal(t, blue, out.At(7, 0))
}

func TestComposite_HeightMismatchAllocatesNothing(t *testing.T) {
	pools := bufpool.NewManager()
	c := NewCompositor(pools, 2)

	_, err := c.Composite(models.NewImageBuffer(4, 2, 0), models.NewImageBuffer(4, 3, 0))
	require.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Empty(t, pools.Pools())
}

func TestComposite_PoolPerOutputShape(t *testing.T) {
	pools := bufpool.NewManager()
	c := NewCompositor(pools, 0)
	small := models.NewImageBuffer(2, 2, 0)
	large := models.NewImageBuffer(4, 4, 0)

	for i := 0; i < 3; i++ {
		out, err := c.Composite(small, small)
		require.NoError(t, err)
		out.Release()
	}
	out, err := c.Composite(large, large)
	require.NoError(t, err)
	out.Release()

	snap := pools.Pools()
	require.Len(t, snap, 2)
	byKey := map[string]bufpool.MetricsSnapshot{}
	for _, s := range snap {
		byKey[s.Key] = s
	}
	assert.Equal(t, int64(1), byKey["BGRA/4x2"].Allocations)
	assert.Equal(t, int64(3), byKey["BGRA/4x2"].TotalAcquired)
	assert.Equal(t, int64(1), byKey["BGRA/8x4"].Allocations)
}

func TestComposite_PoolExhausted(t *testing.T) {
	c := NewCompositor(bufpool.NewManager(bufpool.WithMaxBuffers(1)), 0)
	in := models.NewImageBuffer(2, 2, 0)

	held, err := c.Composite(in, in)
	require.NoError(t, err)
	defer held.Release()

	_, err = c.Composite(in, in)
	assert.ErrorIs(t, err, models.ErrAllocationFailure)
}

func TestCopyRows_RejectsWrongOutputShape(t *testing.T) {
	in := models.NewImageBuffer(2, 2, 0)
	err := CopyRows(models.NewImageBuffer(3, 2, 0), in, in)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

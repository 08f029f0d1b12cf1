// Package source adapts external frame producers to pipeline.FrameSource.
package source

import (
	"context"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// ChannelSource reads pairs pushed by another goroutine. Closing the
// channel ends the session.
type ChannelSource struct {
	frames <-chan models.StereoFramePair
}

func NewChannelSource(frames <-chan models.StereoFramePair) *ChannelSource {
	return &ChannelSource{frames: frames}
}

func (s *ChannelSource) Next(ctx context.Context) (models.StereoFramePair, error) {
	select {
	case <-ctx.Done():
		return models.StereoFramePair{}, ctx.Err()
	case pair, ok := <-s.frames:
		if !ok {
			return models.StereoFramePair{}, io.EOF
		}
		return pair, nil
	}
}

// FromImage copies any decoded image into a standalone BGRA buffer.
func FromImage(img image.Image) *models.ImageBuffer {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	buf := models.NewImageBuffer(w, h, 0)

	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := buf.Row(y)
		for x := 0; x < w*4; x += 4 {
			dst[x] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x]
			dst[x+3] = src[x+3]
		}
	}
	return buf
}

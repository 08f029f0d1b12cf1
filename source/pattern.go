package source

import (
	"context"
	"time"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// PatternSource synthesizes a moving stereo test card: vertical bars whose
// right-eye copy is shifted by a fixed disparity. Useful without a camera.
type PatternSource struct {
	Width     int
	Height    int
	Disparity int
	Interval  time.Duration

	seq uint64
}

func NewPatternSource(width, height int, interval time.Duration) *PatternSource {
	return &PatternSource{Width: width, Height: height, Disparity: width / 32, Interval: interval}
}

func (s *PatternSource) Next(ctx context.Context) (models.StereoFramePair, error) {
	if s.Interval > 0 && s.seq > 0 {
		timer := time.NewTimer(s.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.StereoFramePair{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return models.StereoFramePair{}, err
	}

	s.seq++
	phase := int(s.seq)
	return models.StereoFramePair{
		Left:      s.render(phase),
		Right:     s.render(phase + s.Disparity),
		Seq:       s.seq,
		Timestamp: time.Now(),
	}, nil
}

func (s *PatternSource) render(shift int) *models.ImageBuffer {
	buf := models.NewImageBuffer(s.Width, s.Height, 0)
	for y := 0; y < s.Height; y++ {
		row := buf.Row(y)
		for x := 0; x < s.Width; x++ {
			v := uint8(((x + shift) * 8) % 256)
			row[x*4] = v
			row[x*4+1] = uint8(y * 255 / max(s.Height-1, 1))
			row[x*4+2] = 255 - v
			row[x*4+3] = 255
		}
	}
	return buf
}

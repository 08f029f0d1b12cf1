// Package display presents finished frames: the latest-frame store, the
// websocket preview hub and the HTTP server in front of them.
package display

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// ErrNoFrame is returned when nothing has been published yet.
var ErrNoFrame = errors.New("no frame published yet")

// Sink is anything that accepts finished frames. Publish takes over one
// reference to frame.
type Sink interface {
	Publish(frame *models.ImageBuffer)
}

// LatestSink keeps only the most recent frame; each Publish supersedes and
// releases the previous one.
type LatestSink struct {
	mu        sync.RWMutex
	frame     *models.ImageBuffer
	published int64
	updated   time.Time
}

func NewLatestSink() *LatestSink {
	return &LatestSink{}
}

func (s *LatestSink) Publish(frame *models.ImageBuffer) {
	s.mu.Lock()
	prev := s.frame
	s.frame = frame
	s.published++
	s.updated = time.Now()
	s.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
}

// Snapshot returns the current frame with an extra reference the caller
// must release, or nil.
func (s *LatestSink) Snapshot() *models.ImageBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil
	}
	return s.frame.Retain()
}

// Published reports how many frames were accepted and when the last arrived.
func (s *LatestSink) Published() (int64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published, s.updated
}

// ParseFormat maps "png", "jpg" or "jpeg" onto an imaging format.
func ParseFormat(name string) (imaging.Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "png":
		return imaging.PNG, nil
	case "jpg", "jpeg":
		return imaging.JPEG, nil
	default:
		return 0, fmt.Errorf("unsupported image format %q", name)
	}
}

// Encode writes the current frame in the given format.
func (s *LatestSink) Encode(w io.Writer, format imaging.Format) error {
	frame := s.Snapshot()
	if frame == nil {
		return ErrNoFrame
	}
	defer frame.Release()

	return imaging.Encode(w, frame.ToNRGBA(), format, imaging.JPEGQuality(90))
}

// Close drops the held frame.
func (s *LatestSink) Close() {
	s.mu.Lock()
	prev := s.frame
	s.frame = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

// FanOut forwards every frame to several sinks.
type FanOut []Sink

func (f FanOut) Publish(frame *models.ImageBuffer) {
	if len(f) == 0 {
		frame.Release()
		return
	}
	for i := 1; i < len(f); i++ {
		frame.Retain()
	}
	for _, s := range f {
		s.Publish(frame)
	}
}

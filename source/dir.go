package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/Tutortoise/stereo-depth-service/models"
)

const (
	leftPrefix  = "left_"
	rightPrefix = "right_"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// FilePair names the two captures of one recorded instant.
type FilePair struct {
	Left  string
	Right string
}

// DirSource replays left_<id>.<ext> / right_<id>.<ext> captures from a
// directory in lexical id order.
type DirSource struct {
	pairs    []FilePair
	interval time.Duration
	loop     bool

	mu   sync.Mutex
	next int
	seq  uint64
	last time.Time
}

// NewDirSource scans dir once. interval paces the replay; zero replays as
// fast as the consumer asks. With loop set the sequence restarts instead of
// ending.
func NewDirSource(dir string, interval time.Duration, loop bool) (*DirSource, error) {
	pairs, err := ScanPairs(dir)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no left_/right_ image pairs found in %s", dir)
	}
	return &DirSource{pairs: pairs, interval: interval, loop: loop}, nil
}

// ScanPairs matches left and right captures by the id after the prefix.
// Unmatched files are ignored.
func ScanPairs(dir string) ([]FilePair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	lefts := make(map[string]string)
	rights := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExts[ext] {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case strings.HasPrefix(id, leftPrefix):
			lefts[strings.TrimPrefix(id, leftPrefix)] = filepath.Join(dir, name)
		case strings.HasPrefix(id, rightPrefix):
			rights[strings.TrimPrefix(id, rightPrefix)] = filepath.Join(dir, name)
		}
	}

	ids := make([]string, 0, len(lefts))
	for id := range lefts {
		if _, ok := rights[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	pairs := make([]FilePair, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, FilePair{Left: lefts[id], Right: rights[id]})
	}
	return pairs, nil
}

// Len reports how many pairs one pass replays.
func (s *DirSource) Len() int {
	return len(s.pairs)
}

// Rewind restarts the replay from the first pair.
func (s *DirSource) Rewind() {
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
}

func (s *DirSource) Next(ctx context.Context) (models.StereoFramePair, error) {
	s.mu.Lock()
	if s.next >= len(s.pairs) {
		if !s.loop {
			s.mu.Unlock()
			return models.StereoFramePair{}, io.EOF
		}
		s.next = 0
	}
	fp := s.pairs[s.next]
	s.next++
	s.seq++
	seq := s.seq
	wait := time.Duration(0)
	if s.interval > 0 && !s.last.IsZero() {
		wait = s.interval - time.Since(s.last)
	}
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.StereoFramePair{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return models.StereoFramePair{}, err
	}

	now := time.Now()
	s.mu.Lock()
	s.last = now
	s.mu.Unlock()

	left, err := imaging.Open(fp.Left)
	if err != nil {
		return models.StereoFramePair{}, fmt.Errorf("%w: decode %s: %v", models.ErrBadFrame, fp.Left, err)
	}
	right, err := imaging.Open(fp.Right)
	if err != nil {
		return models.StereoFramePair{}, fmt.Errorf("%w: decode %s: %v", models.ErrBadFrame, fp.Right, err)
	}

	return models.StereoFramePair{
		Left:      FromImage(left),
		Right:     FromImage(right),
		Seq:       seq,
		Timestamp: now,
	}, nil
}

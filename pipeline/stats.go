package pipeline

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// DefaultStatsWindow is how many recent frames feed the latency summaries.
const DefaultStatsWindow = 256

// LatencySummary describes one stage over the recent window.
type LatencySummary struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// StatsSnapshot is a point-in-time copy of the pipeline counters.
type StatsSnapshot struct {
	Ready       int64                     `json:"ready"`
	Failed      int64                     `json:"failed"`
	Failures    map[string]int64          `json:"failures"`
	LastError   string                    `json:"last_error,omitempty"`
	LastErrorAt time.Time                 `json:"last_error_at,omitempty"`
	LastFrameID string                    `json:"last_frame_id,omitempty"`
	Stages      map[string]LatencySummary `json:"stages"`
}

type window struct {
	samples []float64
	next    int
}

func (w *window) add(v float64) {
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, v)
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
}

func (w *window) summary() LatencySummary {
	n := len(w.samples)
	if n == 0 {
		return LatencySummary{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples)
	sort.Float64s(sorted)
	return LatencySummary{
		Samples: n,
		MeanMs:  stat.Mean(sorted, nil),
		P95Ms:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		MaxMs:   sorted[n-1],
	}
}

// Stats aggregates frame outcomes and per-stage latency.
type Stats struct {
	mu          sync.RWMutex
	size        int
	ready       int64
	failed      int64
	failures    map[string]int64
	lastErr     error
	lastErrAt   time.Time
	lastFrameID string
	stages      map[string]*window
}

func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = DefaultStatsWindow
	}
	return &Stats{
		size:     windowSize,
		failures: make(map[string]int64),
		stages:   make(map[string]*window),
	}
}

func (s *Stats) recordReady(t *models.ProcessingTimings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready++
	s.lastFrameID = t.FrameID
	s.observe(StageRescale, t.Rescale)
	s.observe(StageInference, t.Inference)
	s.observe(StageNormalize, t.Normalize)
	s.observe(StageComposite, t.Composite)
	s.observe(StageTotal, t.Total)
}

func (s *Stats) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed++
	s.failures[models.Kind(err)]++
	s.lastErr = err
	s.lastErrAt = time.Now()
}

func (s *Stats) observe(stage string, d time.Duration) {
	w, ok := s.stages[stage]
	if !ok {
		w = &window{samples: make([]float64, 0, s.size)}
		s.stages[stage] = w
	}
	w.add(float64(d) / float64(time.Millisecond))
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatsSnapshot{
		Ready:       s.ready,
		Failed:      s.failed,
		Failures:    make(map[string]int64, len(s.failures)),
		LastErrorAt: s.lastErrAt,
		LastFrameID: s.lastFrameID,
		Stages:      make(map[string]LatencySummary, len(s.stages)),
	}
	for k, v := range s.failures {
		snap.Failures[k] = v
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	for name, w := range s.stages {
		snap.Stages[name] = w.summary()
	}
	return snap
}

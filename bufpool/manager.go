// Package bufpool keeps reusable image buffers keyed by pixel format and
// dimensions so the frame path does not allocate per frame.
package bufpool

import (
	"sort"
	"sync"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// Manager owns one Pool per (format, width, height). Pools are created on
// first request and live as long as the Manager.
type Manager struct {
	mu         sync.Mutex
	pools      map[Key]*Pool
	maxBuffers int
	alignment  int
	alloc      Allocator
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxBuffers caps live buffers per pool.
func WithMaxBuffers(n int) Option {
	return func(m *Manager) { m.maxBuffers = n }
}

// WithRowAlignment sets the byte alignment of each row.
func WithRowAlignment(n int) Option {
	return func(m *Manager) { m.alignment = n }
}

// WithAllocator replaces the backing-store allocator.
func WithAllocator(a Allocator) Option {
	return func(m *Manager) { m.alloc = a }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pools:      make(map[Key]*Pool),
		maxBuffers: DefaultMaxBuffers,
		alignment:  DefaultRowAlignment,
		alloc:      defaultAllocator,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetPool returns the pool for the given shape, creating it with
// minBufferCount preallocated buffers on first use. Repeated calls with the
// same shape return the same pool; minBufferCount only applies on creation.
func (m *Manager) GetPool(format models.PixelFormat, width, height, minBufferCount int) (*Pool, error) {
	key := Key{Format: format, Width: width, Height: height}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[key]; ok {
		return p, nil
	}

	p, err := newPool(key, minBufferCount, m.maxBuffers, m.alignment, m.alloc)
	if err != nil {
		return nil, err
	}
	m.pools[key] = p
	return p, nil
}

// Acquire is shorthand for GetPool followed by Pool.Acquire.
func (m *Manager) Acquire(format models.PixelFormat, width, height int) (*models.ImageBuffer, error) {
	p, err := m.GetPool(format, width, height, 0)
	if err != nil {
		return nil, err
	}
	return p.Acquire()
}

// Pools returns metrics for every pool, ordered by key.
func (m *Manager) Pools() []MetricsSnapshot {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	out := make([]MetricsSnapshot, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

package bufpool

import (
	"fmt"
	"sync"

	"github.com/Tutortoise/stereo-depth-service/models"
)

const (
	// DefaultMinBuffers matches the minimum count the display path keeps alive.
	DefaultMinBuffers = 3
	// DefaultMaxBuffers bounds the number of live buffers per pool.
	DefaultMaxBuffers = 8
	// DefaultRowAlignment pads each row to a 64-byte boundary.
	DefaultRowAlignment = 64
)

// Key identifies one pool. Every buffer from a pool has exactly this shape.
type Key struct {
	Format models.PixelFormat
	Width  int
	Height int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%dx%d", k.Format, k.Width, k.Height)
}

// Allocator produces zeroed backing stores of the requested size.
type Allocator func(size int) ([]byte, error)

func defaultAllocator(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Pool hands out same-shaped ImageBuffers and takes them back when their
// last reference is released.
type Pool struct {
	key        Key
	stride     int
	maxBuffers int
	free       chan *models.ImageBuffer
	alloc      Allocator

	mu         sync.Mutex
	allocated  int
	metrics    *PoolMetrics
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	Allocations     int64
	InUse           int
	TotalAcquired   int64
	TotalRecycled   int64
	AcquireFailures int64
}

// MetricsSnapshot is a copy of PoolMetrics safe to serialize.
type MetricsSnapshot struct {
	Key             string `json:"key"`
	Stride          int    `json:"stride"`
	Allocations     int64  `json:"allocations"`
	InUse           int    `json:"in_use"`
	Free            int    `json:"free"`
	TotalAcquired   int64  `json:"total_acquired"`
	TotalRecycled   int64  `json:"total_recycled"`
	AcquireFailures int64  `json:"acquire_failures"`
}

func newPool(key Key, minBuffers, maxBuffers, alignment int, alloc Allocator) (*Pool, error) {
	bpp := key.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %d", key.Format)
	}
	if key.Width <= 0 || key.Height <= 0 {
		return nil, fmt.Errorf("invalid pool size %dx%d", key.Width, key.Height)
	}
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxBuffers
	}
	if minBuffers > maxBuffers {
		maxBuffers = minBuffers
	}
	if alloc == nil {
		alloc = defaultAllocator
	}

	p := &Pool{
		key:        key,
		stride:     alignUp(key.Width*bpp, alignment),
		maxBuffers: maxBuffers,
		free:       make(chan *models.ImageBuffer, maxBuffers),
		alloc:      alloc,
		metrics:    &PoolMetrics{},
	}

	for i := 0; i < minBuffers; i++ {
		buf, err := p.allocate()
		if err != nil {
			return nil, fmt.Errorf("failed to preallocate buffer %d for %s: %w", i, key, err)
		}
		p.free <- buf
	}

	return p, nil
}

// Key returns the shape served by this pool.
func (p *Pool) Key() Key {
	return p.key
}

// Stride returns the row stride of every buffer from this pool.
func (p *Pool) Stride() int {
	return p.stride
}

// Acquire returns a buffer holding one reference. It fails with
// models.ErrAllocationFailure when the pool is exhausted or the allocator
// cannot produce memory; callers skip the frame in that case.
func (p *Pool) Acquire() (*models.ImageBuffer, error) {
	var buf *models.ImageBuffer
	select {
	case buf = <-p.free:
	default:
		var err error
		buf, err = p.allocate()
		if err != nil {
			p.metrics.mu.Lock()
			p.metrics.AcquireFailures++
			p.metrics.mu.Unlock()
			p.recordError(err)
			return nil, err
		}
	}

	buf.MarkAcquired()

	p.metrics.mu.Lock()
	p.metrics.InUse++
	p.metrics.TotalAcquired++
	p.metrics.mu.Unlock()

	return buf, nil
}

// Recycle puts a released buffer back on the free list.
func (p *Pool) Recycle(buf *models.ImageBuffer) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalRecycled++
	p.metrics.mu.Unlock()

	select {
	case p.free <- buf:
	default:
		// Free list full; let the buffer go and allow a fresh allocation later.
		p.mu.Lock()
		p.allocated--
		p.mu.Unlock()
	}
}

func (p *Pool) allocate() (*models.ImageBuffer, error) {
	p.mu.Lock()
	if p.allocated >= p.maxBuffers {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool %s exhausted (%d buffers live)", models.ErrAllocationFailure, p.key, p.maxBuffers)
	}
	p.allocated++
	p.mu.Unlock()

	pix, err := p.alloc(p.stride * p.key.Height)
	if err == nil && len(pix) < p.stride*p.key.Height {
		err = fmt.Errorf("allocator returned %d bytes, want %d", len(pix), p.stride*p.key.Height)
	}
	var buf *models.ImageBuffer
	if err == nil {
		buf, err = models.NewPooledImageBuffer(p.key.Format, p.key.Width, p.key.Height, p.stride, pix, p)
	}
	if err != nil {
		p.mu.Lock()
		p.allocated--
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", models.ErrAllocationFailure, err)
	}

	p.metrics.mu.Lock()
	p.metrics.Allocations++
	p.metrics.mu.Unlock()

	return buf, nil
}

func (p *Pool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// LastErrors returns the most recent acquire failures, oldest first.
func (p *Pool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.lastErrors))
	copy(out, p.lastErrors)
	return out
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() MetricsSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return MetricsSnapshot{
		Key:             p.key.String(),
		Stride:          p.stride,
		Allocations:     p.metrics.Allocations,
		InUse:           p.metrics.InUse,
		Free:            len(p.free),
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalRecycled:   p.metrics.TotalRecycled,
		AcquireFailures: p.metrics.AcquireFailures,
	}
}

func alignUp(n, alignment int) int {
	if alignment <= 1 {
		return n
	}
	return (n + alignment - 1) / alignment * alignment
}

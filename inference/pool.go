package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPoolSize is the number of model sessions kept warm.
	DefaultPoolSize   = 2
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var (
	ErrPoolClosed     = errors.New("session pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Session is anything the pool can hand out and tear down.
type Session interface {
	Destroy()
}

// SessionFactory builds one ready-to-run session.
type SessionFactory[S Session] func() (S, error)

// SessionPool keeps a fixed number of model sessions and lends them out one
// caller at a time. Broken sessions are discarded and rebuilt by the health
// check.
type SessionPool[S Session] struct {
	sessions       chan S
	size           int
	factory        SessionFactory[S]
	acquireTimeout time.Duration

	mu         sync.Mutex
	live       int
	closed     bool
	stop       chan struct{}
	metrics    *PoolMetrics
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
	Discarded       int64
	WaitTime        time.Duration
}

// SessionPoolStats is a copy of the pool counters.
type SessionPoolStats struct {
	Size            int           `json:"pool_size"`
	Live            int           `json:"live"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	Discarded       int64         `json:"discarded"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewSessionPool builds size sessions up front. healthPeriod <= 0 disables
// the background replenish loop.
func NewSessionPool[S Session](size int, factory SessionFactory[S], healthPeriod time.Duration) (*SessionPool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool[S]{
		sessions:       make(chan S, size),
		size:           size,
		factory:        factory,
		acquireTimeout: AcquireTimeout,
		stop:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	if healthPeriod > 0 {
		go pool.healthCheck(healthPeriod)
	}

	return pool, nil
}

// SetAcquireTimeout changes how long Acquire waits for a free session.
func (p *SessionPool[S]) SetAcquireTimeout(d time.Duration) {
	p.acquireTimeout = d
}

func (p *SessionPool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session := <-p.sessions:
		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		p.recordError(ErrAcquireTimeout)
		return zero, ErrAcquireTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a healthy session to the pool.
func (p *SessionPool[S]) Release(session S) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.live--
		session.Destroy()
		return
	}

	select {
	case p.sessions <- session:
	default:
		p.live--
		session.Destroy()
	}
}

// Discard destroys a session that failed mid-run instead of returning it.
// The next health check builds a replacement.
func (p *SessionPool[S]) Discard(session S, cause error) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.Discarded++
	p.metrics.mu.Unlock()

	if cause != nil {
		p.recordError(cause)
	}

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	session.Destroy()
}

// Destroy tears down all idle sessions; sessions still lent out are
// destroyed when released.
func (p *SessionPool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.stop)

	for {
		select {
		case session := <-p.sessions:
			p.live--
			session.Destroy()
		default:
			return
		}
	}
}

func (p *SessionPool[S]) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Replenish()
		}
	}
}

// Replenish builds sessions until the pool is back at its configured size.
// It returns how many were added.
func (p *SessionPool[S]) Replenish() int {
	p.mu.Lock()
	missing := p.size - p.live
	if p.closed || missing <= 0 {
		p.mu.Unlock()
		return 0
	}
	p.live += missing
	p.mu.Unlock()

	added := 0
	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.live--
			p.mu.Unlock()
			session.Destroy()
			continue
		}
		p.sessions <- session
		p.mu.Unlock()
		added++
	}
	return added
}

func (p *SessionPool[S]) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// LastErrors returns the most recent session errors, oldest first.
func (p *SessionPool[S]) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.lastErrors))
	copy(out, p.lastErrors)
	return out
}

func (p *SessionPool[S]) GetMetrics() SessionPoolStats {
	p.mu.Lock()
	live := p.live
	p.mu.Unlock()

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return SessionPoolStats{
		Size:            p.size,
		Live:            live,
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		AcquireFailures: p.metrics.AcquireFailures,
		Discarded:       p.metrics.Discarded,
		WaitTime:        p.metrics.WaitTime,
	}
}

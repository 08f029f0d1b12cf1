// Package session switches frame processing on and off. A session is either
// closed, open (the pipeline loop is running) or in transition between the
// two; toggles that arrive mid-transition are rejected.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Tutortoise/stereo-depth-service/logger"
)

type State int32

const (
	Closed State = iota
	InTransition
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case InTransition:
		return "in_transition"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

var ErrInTransition = errors.New("session is changing state")

// Runner is the loop a session keeps alive while open.
type Runner interface {
	Run(ctx context.Context) error
}

// Hooks run while the session is in transition. BeforeOpen may veto the
// open by returning an error.
type Hooks struct {
	BeforeOpen func(ctx context.Context) error
	AfterClose func()
}

type Controller struct {
	mu      sync.Mutex
	state   State
	runner  Runner
	hooks   Hooks
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
	log     *slog.Logger
}

func NewController(r Runner, hooks Hooks, log *slog.Logger) *Controller {
	if log == nil {
		log = logger.L()
	}
	return &Controller{
		runner: r,
		hooks:  hooks,
		log:    log.With("component", "session"),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() string {
	return c.State().String()
}

// Toggle opens a closed session or closes an open one. ctx bounds only the
// transition itself; the run loop gets its own context so it outlives the
// caller.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case InTransition:
		c.mu.Unlock()
		return ErrInTransition
	case Open:
		c.state = InTransition
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		return c.close(ctx, cancel, done)
	default:
		c.state = InTransition
		c.mu.Unlock()
		return c.open(ctx)
	}
}

func (c *Controller) open(ctx context.Context) error {
	if c.hooks.BeforeOpen != nil {
		if err := c.hooks.BeforeOpen(ctx); err != nil {
			c.mu.Lock()
			c.state = Closed
			c.mu.Unlock()
			c.log.Warn("session open aborted", "error", err)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.lastErr = nil
	c.state = Open
	c.mu.Unlock()

	go c.run(runCtx, done)
	c.log.Info("session opened")
	return nil
}

func (c *Controller) close(ctx context.Context, cancel context.CancelFunc, done chan struct{}) error {
	cancel()
	select {
	case <-done:
		c.log.Info("session closed")
		return nil
	case <-ctx.Done():
		// the loop still winds down and run() settles the state
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := c.runner.Run(ctx)
	if err != nil {
		c.log.Error("pipeline loop stopped", "error", err)
	}
	if c.hooks.AfterClose != nil {
		c.hooks.AfterClose()
	}

	c.mu.Lock()
	if c.state == Open {
		c.log.Info("session ended by source")
	}
	c.lastErr = err
	c.state = Closed
	c.cancel()
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
}

// Wait blocks until the current run loop exits or ctx is done and returns
// the loop's error. It returns immediately when no loop is running.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stop closes the session if it is open.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return c.Wait(ctx)
	}
	c.state = InTransition
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	return c.close(ctx, cancel, done)
}

// Package pipeline drives one stereo frame pair at a time through rescale,
// inference, normalization and compositing, and publishes the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/composite"
	"github.com/Tutortoise/stereo-depth-service/depthmap"
	"github.com/Tutortoise/stereo-depth-service/logger"
	"github.com/Tutortoise/stereo-depth-service/models"
	"github.com/Tutortoise/stereo-depth-service/rescale"
)

// FrameSource yields paired captures. Next blocks until a pair is available
// and returns io.EOF once the capture session has stopped. The caller owns
// one reference to each returned buffer.
type FrameSource interface {
	Next(ctx context.Context) (models.StereoFramePair, error)
}

// Engine is the stereo model.
type Engine interface {
	Infer(ctx context.Context, left, right *models.ImageBuffer) (models.Tensor, error)
}

// DisplaySink presents finished frames. Publish takes over one reference.
type DisplaySink interface {
	Publish(frame *models.ImageBuffer)
}

type Config struct {
	TargetSize       int
	Interpolation    string
	MinBuffers       int
	InferenceTimeout time.Duration
	StatsWindow      int
	Logger           *slog.Logger
	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(from, to State)
}

type Orchestrator struct {
	cfg        Config
	source     FrameSource
	engine     Engine
	sink       DisplaySink
	rescaler   *rescale.Transformer
	normalizer *depthmap.Normalizer
	compositor *composite.Compositor
	stats      *Stats
	log        *slog.Logger
	state      atomic.Int32
	// inflight holds one token while a bounded engine call is running,
	// including a call abandoned by a timeout.
	inflight chan struct{}
}

// New wires the stages onto a shared pool manager.
func New(pools *bufpool.Manager, source FrameSource, engine Engine, sink DisplaySink, cfg Config) *Orchestrator {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = rescale.DefaultTargetSize
	}
	if cfg.MinBuffers <= 0 {
		cfg.MinBuffers = bufpool.DefaultMinBuffers
	}
	log := cfg.Logger
	if log == nil {
		log = logger.L()
	}

	return &Orchestrator{
		cfg:        cfg,
		source:     source,
		engine:     engine,
		sink:       sink,
		rescaler:   rescale.NewTransformer(pools, cfg.Interpolation, cfg.MinBuffers),
		normalizer: depthmap.NewNormalizer(pools, cfg.MinBuffers),
		compositor: composite.NewCompositor(pools, cfg.MinBuffers),
		stats:      NewStats(cfg.StatsWindow),
		log:        log.With("component", "pipeline"),
		inflight:   make(chan struct{}, 1),
	}
}

// State reports the current cycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

func (o *Orchestrator) transition(to State) {
	from := State(o.state.Swap(int32(to)))
	if from != to && o.cfg.OnTransition != nil {
		o.cfg.OnTransition(from, to)
	}
}

// Run consumes pairs until the source reports io.EOF or ctx is cancelled,
// both of which return nil. A failed frame, including one the source could
// not read (models.ErrBadFrame), is logged, counted and dropped; it never
// stops the loop. Any other source error is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("pipeline started", "target_size", o.cfg.TargetSize, "inference_timeout", o.cfg.InferenceTimeout)
	defer o.transition(Idle)

	for {
		o.transition(Idle)

		pair, err := o.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.log.Info("frame source ended")
				return nil
			}
			if ctx.Err() != nil {
				o.log.Info("pipeline cancelled")
				return nil
			}
			if errors.Is(err, models.ErrBadFrame) {
				o.stats.recordFailure(err)
				o.log.Warn("source frame skipped", "kind", models.Kind(err), "error", err)
				continue
			}
			return fmt.Errorf("frame source: %w", err)
		}

		out, timings, err := o.ProcessPair(ctx, pair)
		pair.Release()

		if err != nil {
			if ctx.Err() != nil {
				o.log.Info("pipeline cancelled mid-frame", "seq", pair.Seq)
				return nil
			}
			o.stats.recordFailure(err)
			o.log.Warn("frame dropped",
				"seq", pair.Seq,
				"frame_id", timings.FrameID,
				"kind", models.Kind(err),
				"error", err)
			continue
		}

		o.sink.Publish(out)
		o.stats.recordReady(timings)
		o.logTimings(timings)
	}
}

// ProcessPair runs one frame cycle. On success the composited frame carries
// one reference owned by the caller. On failure nothing is returned and the
// error is a *models.ProcessingError naming the stage. The pair itself is
// not released.
func (o *Orchestrator) ProcessPair(ctx context.Context, pair models.StereoFramePair) (*models.ImageBuffer, *models.ProcessingTimings, error) {
	timings := models.NewProcessingTimings(pair.Seq)
	start := time.Now()
	defer func() { timings.Total = time.Since(start) }()

	o.transition(Rescaling)
	stageStart := time.Now()
	left, err := o.rescaler.Rescale(pair.Left, o.cfg.TargetSize)
	if err != nil {
		return nil, timings, o.fail(StageRescale, "left frame", err)
	}
	defer left.Buffer.Release()
	right, err := o.rescaler.Rescale(pair.Right, o.cfg.TargetSize)
	if err != nil {
		return nil, timings, o.fail(StageRescale, "right frame", err)
	}
	defer right.Buffer.Release()
	timings.Rescale = time.Since(stageStart)

	o.transition(Inferring)
	stageStart = time.Now()
	tensor, err := o.infer(ctx, left.Buffer, right.Buffer)
	timings.Inference = time.Since(stageStart)
	if err != nil {
		return nil, timings, o.fail(StageInference, "model call", err)
	}

	o.transition(Normalizing)
	stageStart = time.Now()
	depth, err := o.normalizer.Normalize(tensor)
	if err != nil {
		return nil, timings, o.fail(StageNormalize, "disparity map", err)
	}
	defer depth.Release()
	timings.Normalize = time.Since(stageStart)

	o.transition(Compositing)
	stageStart = time.Now()
	out, err := o.compositor.Composite(left.Buffer, depth)
	if err != nil {
		return nil, timings, o.fail(StageComposite, "side-by-side frame", err)
	}
	timings.Composite = time.Since(stageStart)

	o.transition(Ready)
	return out, timings, nil
}

func (o *Orchestrator) fail(stage, msg string, err error) error {
	o.transition(Failed)
	return &models.ProcessingError{Stage: stage, Message: msg, Cause: err}
}

type inferResult struct {
	tensor models.Tensor
	err    error
}

// infer calls the engine, bounded by InferenceTimeout when set. The tiles are
// retained for the call so a hung engine never reads a recycled buffer.
//
// A timed-out call keeps running in the background until the engine
// returns. At most one engine call is ever in flight: while an abandoned
// call is still running, later frames fail fast with ErrInferenceTimeout
// instead of starting a second, overlapping call.
func (o *Orchestrator) infer(ctx context.Context, left, right *models.ImageBuffer) (models.Tensor, error) {
	if o.cfg.InferenceTimeout <= 0 {
		return checkTensor(o.engine.Infer(ctx, left, right))
	}

	select {
	case o.inflight <- struct{}{}:
	default:
		return models.Tensor{}, fmt.Errorf("%w: previous inference still running", models.ErrInferenceTimeout)
	}

	ictx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	defer cancel()

	left.Retain()
	right.Retain()
	done := make(chan inferResult, 1)
	go func() {
		t, err := o.engine.Infer(ictx, left, right)
		left.Release()
		right.Release()
		// free the slot before reporting so the next frame never sees it held
		<-o.inflight
		done <- inferResult{tensor: t, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return models.Tensor{}, fmt.Errorf("%w after %s", models.ErrInferenceTimeout, o.cfg.InferenceTimeout)
		}
		return checkTensor(res.tensor, res.err)
	case <-ictx.Done():
		if err := ctx.Err(); err != nil {
			return models.Tensor{}, err
		}
		return models.Tensor{}, fmt.Errorf("%w after %s", models.ErrInferenceTimeout, o.cfg.InferenceTimeout)
	}
}

func checkTensor(t models.Tensor, err error) (models.Tensor, error) {
	if err != nil {
		if errors.Is(err, models.ErrInferenceFailure) || errors.Is(err, models.ErrDimensionMismatch) ||
			errors.Is(err, context.Canceled) {
			return models.Tensor{}, err
		}
		return models.Tensor{}, fmt.Errorf("%w: %v", models.ErrInferenceFailure, err)
	}
	if len(t.Data) == 0 {
		return models.Tensor{}, fmt.Errorf("%w: engine returned no data", models.ErrInferenceFailure)
	}
	return t, nil
}

func (o *Orchestrator) logTimings(t *models.ProcessingTimings) {
	o.log.Debug("frame timings",
		"frame_id", t.FrameID,
		"seq", t.Seq,
		"rescale", t.Rescale,
		"inference", t.Inference,
		"normalize", t.Normalize,
		"composite", t.Composite,
		"total", t.Total)
}

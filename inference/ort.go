//go:build cgo

package inference

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Tutortoise/stereo-depth-service/models"
)

// InitRuntime loads the onnxruntime shared library once per process.
func InitRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	resolved, err := ResolveLibrary(libPath)
	if err != nil {
		return err
	}
	ort.SetSharedLibraryPath(resolved)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the onnxruntime environment.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ModelSession binds one onnxruntime session to its preallocated tensors.
type ModelSession struct {
	Session *ort.AdvancedSession
	Left    *ort.Tensor[float32]
	Right   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Left != nil {
		m.Left.Destroy()
	}
	if m.Right != nil {
		m.Right.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

func initSession(opts Options) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}

	size := int64(opts.TargetSize)
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, 1, size, size)

	m := &ModelSession{}
	if m.Left, err = ort.NewEmptyTensor[float32](inputShape); err != nil {
		return nil, fmt.Errorf("error creating left input tensor: %w", err)
	}
	if m.Right, err = ort.NewEmptyTensor[float32](inputShape); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating right input tensor: %w", err)
	}
	if m.Output, err = ort.NewEmptyTensor[float32](outputShape); err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	m.Session, err = ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.LeftInputName, opts.RightInputName},
		[]string{opts.OutputName},
		[]ort.Value{m.Left, m.Right},
		[]ort.Value{m.Output},
		options,
	)
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return m, nil
}

// ORTEngine runs the stereo model through onnxruntime.
type ORTEngine struct {
	opts         Options
	pool         *SessionPool[*ModelSession]
	preprocessor *Preprocessor
}

// NewORTEngine initializes the runtime and builds the session pool.
func NewORTEngine(opts Options) (*ORTEngine, error) {
	opts = opts.withDefaults()
	if err := CheckModel(opts.ModelPath); err != nil {
		return nil, err
	}
	if err := InitRuntime(opts.ORTSharedLibraryPath); err != nil {
		return nil, err
	}

	pool, err := NewSessionPool(opts.PoolSize, func() (*ModelSession, error) {
		return initSession(opts)
	}, HealthCheckPeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to create model session pool: %w", err)
	}

	return &ORTEngine{
		opts:         opts,
		pool:         pool,
		preprocessor: NewPreprocessor(),
	}, nil
}

func (e *ORTEngine) Name() string { return "onnxruntime" }

// Infer packs both tiles, runs one session and copies out the disparity map.
func (e *ORTEngine) Infer(ctx context.Context, left, right *models.ImageBuffer) (models.Tensor, error) {
	if err := checkTiles(left, right, e.opts.TargetSize); err != nil {
		return models.Tensor{}, err
	}

	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return models.Tensor{}, fmt.Errorf("%w: %v", models.ErrInferenceFailure, err)
	}

	if err := e.preprocessor.Pack(left, session.Left.GetData()); err != nil {
		e.pool.Release(session)
		return models.Tensor{}, err
	}
	if err := e.preprocessor.Pack(right, session.Right.GetData()); err != nil {
		e.pool.Release(session)
		return models.Tensor{}, err
	}

	if err := session.Session.Run(); err != nil {
		e.pool.Discard(session, err)
		return models.Tensor{}, fmt.Errorf("%w: model run: %v", models.ErrInferenceFailure, err)
	}

	out := session.Output.GetData()
	data := make([]float32, len(out))
	copy(data, out)
	e.pool.Release(session)

	return disparityTensor(data, e.opts.TargetSize)
}

// Stats reports the session pool counters.
func (e *ORTEngine) Stats() SessionPoolStats {
	return e.pool.GetMetrics()
}

func (e *ORTEngine) Close() error {
	e.pool.Destroy()
	return nil
}

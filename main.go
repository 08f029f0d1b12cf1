package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/stereo-depth-service/bufpool"
	"github.com/Tutortoise/stereo-depth-service/config"
	"github.com/Tutortoise/stereo-depth-service/display"
	"github.com/Tutortoise/stereo-depth-service/inference"
	"github.com/Tutortoise/stereo-depth-service/logger"
	"github.com/Tutortoise/stereo-depth-service/pipeline"
	"github.com/Tutortoise/stereo-depth-service/session"
	"github.com/Tutortoise/stereo-depth-service/source"
)

// Pattern frames stand in for a camera when no source directory is set.
const (
	patternWidth  = 1280
	patternHeight = 720
)

type sessionStatser interface {
	Stats() inference.SessionPoolStats
}

func main() {
	cfg, err := config.Load("", os.Args[1:])
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(2)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log := logger.Init(level)

	if err := cfg.Validate(); err != nil {
		log.Error("configuration rejected", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	engine, err := inference.Open(cfg.InferenceBackend, inference.Options{
		ModelPath:            cfg.ModelPath,
		ORTSharedLibraryPath: cfg.ORTLibraryPath,
		TargetSize:           cfg.TargetSize,
		PoolSize:             cfg.SessionPoolSize,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("engine close failed", "error", err)
		}
		if err := inference.ShutdownRuntime(); err != nil {
			log.Warn("onnxruntime shutdown failed", "error", err)
		}
	}()
	log.Info("model loaded", "backend", engine.Name(), "model", cfg.ModelPath, "target_size", cfg.TargetSize)

	pools := bufpool.NewManager(bufpool.WithMaxBuffers(cfg.PoolMaxBuffers))

	src, hooks, err := openSource(cfg, log)
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := display.NewHub(cfg.PreviewMaxWidth, log)
	go hub.Run(hubCtx)

	latest := display.NewLatestSink()
	defer latest.Close()

	orch := pipeline.New(pools, src, engine, display.FanOut{latest, hub}, pipeline.Config{
		TargetSize:       cfg.TargetSize,
		Interpolation:    cfg.Interpolation,
		MinBuffers:       cfg.PoolMinBuffers,
		InferenceTimeout: cfg.InferenceTimeout,
		Logger:           log,
	})

	ctrl := session.NewController(orch, hooks, log)

	server := &display.Server{
		Latest:  latest,
		Hub:     hub,
		Session: ctrl,
		Log:     log,
		Metrics: func() map[string]any {
			m := map[string]any{
				"backend":        engine.Name(),
				"session":        ctrl.Status(),
				"pipeline_state": orch.State().String(),
				"pipeline":       orch.Stats().Snapshot(),
				"buffer_pools":   pools.Pools(),
			}
			if s, ok := engine.(sessionStatser); ok {
				m["inference_sessions"] = s.Stats()
			}
			return m
		},
	}
	srv := server.NewHTTPServer(cfg.Addr)

	if cfg.AutoStart {
		if err := ctrl.Toggle(ctx); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	if err := ctrl.Stop(shutdownCtx); err != nil {
		log.Warn("session stop failed", "error", err)
	}
	return nil
}

// openSource replays SOURCE_DIR when set and falls back to the synthetic
// pattern otherwise. Directory replays restart from the first pair each time
// the session opens.
func openSource(cfg *config.Config, log *slog.Logger) (pipeline.FrameSource, session.Hooks, error) {
	if cfg.SourceDir == "" {
		log.Info("no source directory configured, using test pattern")
		return source.NewPatternSource(patternWidth, patternHeight, cfg.FrameInterval), session.Hooks{}, nil
	}

	dir, err := source.NewDirSource(cfg.SourceDir, cfg.FrameInterval, cfg.LoopSource)
	if err != nil {
		return nil, session.Hooks{}, err
	}
	log.Info("replaying stereo pairs", "dir", cfg.SourceDir, "pairs", dir.Len(), "loop", cfg.LoopSource)

	return dir, session.Hooks{
		BeforeOpen: func(context.Context) error {
			dir.Rewind()
			return nil
		},
	}, nil
}

// Package config loads service settings from a .env file, the environment
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr             string
	ModelPath        string
	ORTLibraryPath   string
	InferenceBackend string
	SessionPoolSize  int
	TargetSize       int
	Interpolation    string
	InferenceTimeout time.Duration
	SourceDir        string
	FrameInterval    time.Duration
	LoopSource       bool
	PoolMinBuffers   int
	PoolMaxBuffers   int
	PreviewMaxWidth  int
	LogLevel         string
	Debug            bool
	AutoStart        bool
}

// Load reads envFile (if it exists), then the environment, then args.
// An empty envFile means ".env".
func Load(envFile string, args []string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	cfg := FromEnv()

	fsFlags := flag.NewFlagSet("stereo-depth-service", flag.ContinueOnError)
	fsFlags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fsFlags.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Path to the stereo ONNX model")
	fsFlags.StringVar(&cfg.ORTLibraryPath, "ort-lib", cfg.ORTLibraryPath, "onnxruntime shared library file or directory")
	fsFlags.StringVar(&cfg.InferenceBackend, "backend", cfg.InferenceBackend, "Inference backend (ort|opencv)")
	fsFlags.IntVar(&cfg.SessionPoolSize, "sessions", cfg.SessionPoolSize, "Number of pooled inference sessions")
	fsFlags.IntVar(&cfg.TargetSize, "target-size", cfg.TargetSize, "Model tile edge in pixels")
	fsFlags.StringVar(&cfg.Interpolation, "interpolation", cfg.Interpolation, "Rescale filter (nearest|bilinear|approx-bilinear|catmullrom)")
	fsFlags.DurationVar(&cfg.InferenceTimeout, "inference-timeout", cfg.InferenceTimeout, "Per-frame inference bound (0 disables)")
	fsFlags.StringVar(&cfg.SourceDir, "source-dir", cfg.SourceDir, "Directory of left_/right_ image pairs (empty uses a test pattern)")
	fsFlags.DurationVar(&cfg.FrameInterval, "frame-interval", cfg.FrameInterval, "Minimum time between frames")
	fsFlags.BoolVar(&cfg.LoopSource, "loop", cfg.LoopSource, "Replay the source directory forever")
	fsFlags.IntVar(&cfg.PoolMinBuffers, "pool-min", cfg.PoolMinBuffers, "Buffers preallocated per pool")
	fsFlags.IntVar(&cfg.PoolMaxBuffers, "pool-max", cfg.PoolMaxBuffers, "Live buffer cap per pool")
	fsFlags.IntVar(&cfg.PreviewMaxWidth, "preview-width", cfg.PreviewMaxWidth, "Websocket preview width")
	fsFlags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	fsFlags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Log per-frame stage timings")
	fsFlags.BoolVar(&cfg.AutoStart, "auto-start", cfg.AutoStart, "Open the session on startup")
	if err := fsFlags.Parse(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		Addr:             getEnv("ADDR", "127.0.0.1:8080"),
		ModelPath:        getEnv("MODEL_PATH", "models/stereo_512.onnx"),
		ORTLibraryPath:   getEnv("ONNXRUNTIME_SHARED_LIBRARY_PATH", ""),
		InferenceBackend: getEnv("INFERENCE_BACKEND", "ort"),
		SessionPoolSize:  getEnvAsInt("SESSION_POOL_SIZE", 2),
		TargetSize:       getEnvAsInt("TARGET_SIZE", 512),
		Interpolation:    getEnv("INTERPOLATION", "bilinear"),
		InferenceTimeout: getEnvAsDuration("INFERENCE_TIMEOUT", 2*time.Second),
		SourceDir:        getEnv("SOURCE_DIR", ""),
		FrameInterval:    getEnvAsDuration("FRAME_INTERVAL", 33*time.Millisecond),
		LoopSource:       getEnvAsBool("LOOP_SOURCE", true),
		PoolMinBuffers:   getEnvAsInt("POOL_MIN_BUFFERS", 3),
		PoolMaxBuffers:   getEnvAsInt("POOL_MAX_BUFFERS", 8),
		PreviewMaxWidth:  getEnvAsInt("PREVIEW_MAX_WIDTH", 640),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Debug:            getEnvAsBool("DEBUG", false),
		AutoStart:        getEnvAsBool("AUTO_START", true),
	}
}

// Problems lists every invalid setting.
func (c *Config) Problems() []string {
	var problems []string

	if c.Addr == "" {
		problems = append(problems, "listen address is empty")
	}
	switch strings.ToLower(c.InferenceBackend) {
	case "ort", "onnxruntime", "opencv", "gocv":
	default:
		problems = append(problems, fmt.Sprintf("unknown inference backend %q", c.InferenceBackend))
	}
	if c.ModelPath == "" {
		problems = append(problems, "model path is empty")
	}
	if c.SessionPoolSize < 1 {
		problems = append(problems, "session pool size must be at least 1")
	}
	if c.TargetSize < 1 {
		problems = append(problems, "target size must be positive")
	}
	switch strings.ToLower(c.Interpolation) {
	case "nearest", "bilinear", "approx-bilinear", "catmullrom", "bicubic":
	default:
		problems = append(problems, fmt.Sprintf("unknown interpolation %q", c.Interpolation))
	}
	if c.InferenceTimeout < 0 {
		problems = append(problems, "inference timeout must not be negative")
	}
	if c.FrameInterval < 0 {
		problems = append(problems, "frame interval must not be negative")
	}
	if c.PoolMinBuffers < 0 {
		problems = append(problems, "pool min buffers must not be negative")
	}
	if c.PoolMaxBuffers < 0 {
		problems = append(problems, "pool max buffers must not be negative")
	}
	if c.PoolMaxBuffers > 0 && c.PoolMinBuffers > c.PoolMaxBuffers {
		problems = append(problems, "pool min buffers exceeds pool max buffers")
	}
	if c.PreviewMaxWidth < 1 {
		problems = append(problems, "preview width must be positive")
	}
	if c.SourceDir != "" {
		if info, err := os.Stat(c.SourceDir); err != nil || !info.IsDir() {
			problems = append(problems, fmt.Sprintf("source directory %q not found", c.SourceDir))
		}
	}

	return problems
}

// Validate reports all problems as one error.
func (c *Config) Validate() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or bare milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

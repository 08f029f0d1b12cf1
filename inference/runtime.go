package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrCGORequired is returned by the onnxruntime backend in builds without cgo.
var ErrCGORequired = errors.New("onnxruntime backend requires CGO support; rebuild with CGO_ENABLED=1")

// Options describes the stereo model and how to run it.
type Options struct {
	ModelPath            string
	ORTSharedLibraryPath string
	TargetSize           int
	PoolSize             int
	LeftInputName        string
	RightInputName       string
	OutputName           string
	IntraOpThreads       int
}

// DefaultOptions returns the names used by the exported stereo model.
func DefaultOptions() Options {
	return Options{
		TargetSize:     512,
		PoolSize:       DefaultPoolSize,
		LeftInputName:  "left",
		RightInputName: "right",
		OutputName:     "disparity",
		IntraOpThreads: runtime.NumCPU(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TargetSize <= 0 {
		o.TargetSize = d.TargetSize
	}
	if o.PoolSize <= 0 {
		o.PoolSize = d.PoolSize
	}
	if o.LeftInputName == "" {
		o.LeftInputName = d.LeftInputName
	}
	if o.RightInputName == "" {
		o.RightInputName = d.RightInputName
	}
	if o.OutputName == "" {
		o.OutputName = d.OutputName
	}
	if o.IntraOpThreads <= 0 {
		o.IntraOpThreads = d.IntraOpThreads
	}
	return o
}

// LibraryName is the onnxruntime shared library file name for this OS.
func LibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ResolveLibrary turns a configured library location into a file path. An
// empty path falls back to ONNXRUNTIME_SHARED_LIBRARY_PATH; a directory is
// searched for the platform library, including versioned names.
func ResolveLibrary(path string) (string, error) {
	if path == "" {
		path = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if path == "" {
		return "", errors.New("onnxruntime shared library path not set")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("onnxruntime library: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	name := LibraryName()
	candidate := filepath.Join(path, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("onnxruntime library: %w", err)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), stem+".") && strings.Contains(e.Name(), filepath.Ext(name)) {
			return filepath.Join(path, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no %s found in %s", name, path)
}

// CheckModel verifies the model file exists and is a regular file.
func CheckModel(path string) error {
	if path == "" {
		return errors.New("model path not set")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", path)
	}
	return nil
}

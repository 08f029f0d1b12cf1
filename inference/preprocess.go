package inference

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/stereo-depth-service/models"
)

var (
	useAVX2  = cpu.X86.HasAVX2
	useSSE41 = cpu.X86.HasSSE41
	useASIMD = cpu.ARM64.HasASIMD
)

// Preprocessor packs BGRA tiles into planar RGB float32 (NCHW) model input.
type Preprocessor struct {
	Mean       [3]float32
	Std        [3]float32
	numWorkers int
	parallel   bool
}

// NewPreprocessor scales bytes into [0,1]. Rows are split across workers
// when the CPU has wide vector units.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		Std:        [3]float32{1, 1, 1},
		numWorkers: runtime.GOMAXPROCS(0),
		parallel:   useAVX2 || useSSE41 || useASIMD,
	}
}

// Pack writes src into dst as three width*height planes in R, G, B order.
func (p *Preprocessor) Pack(src *models.ImageBuffer, dst []float32) error {
	if src == nil {
		return fmt.Errorf("preprocess: nil buffer")
	}
	if src.Format != models.FormatBGRA {
		return fmt.Errorf("preprocess: unsupported format %s", src.Format)
	}
	if need := 3 * src.Width * src.Height; len(dst) < need {
		return fmt.Errorf("%w: input tensor holds %d values, need %d", models.ErrShapeMismatch, len(dst), need)
	}

	if p.parallel && p.numWorkers > 1 && src.Height >= p.numWorkers {
		p.packParallel(src, dst)
	} else {
		p.packRows(src, dst, 0, src.Height)
	}
	return nil
}

func (p *Preprocessor) packParallel(src *models.ImageBuffer, dst []float32) {
	rowsPerWorker := src.Height / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		start := w * rowsPerWorker
		end := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			end = src.Height
		}

		go func(start, end int) {
			defer wg.Done()
			p.packRows(src, dst, start, end)
		}(start, end)
	}

	wg.Wait()
}

func (p *Preprocessor) packRows(src *models.ImageBuffer, dst []float32, start, end int) {
	channelSize := src.Width * src.Height
	scale := [3]float32{
		1 / (255 * p.std(0)),
		1 / (255 * p.std(1)),
		1 / (255 * p.std(2)),
	}
	bias := [3]float32{
		p.Mean[0] / p.std(0),
		p.Mean[1] / p.std(1),
		p.Mean[2] / p.std(2),
	}

	for y := start; y < end; y++ {
		row := src.Row(y)
		offset := y * src.Width
		for x := 0; x < src.Width; x++ {
			px := row[x*4 : x*4+4 : x*4+4]
			i := offset + x
			dst[i] = float32(px[2])*scale[0] - bias[0]
			dst[channelSize+i] = float32(px[1])*scale[1] - bias[1]
			dst[channelSize*2+i] = float32(px[0])*scale[2] - bias[2]
		}
	}
}

func (p *Preprocessor) std(c int) float32 {
	if p.Std[c] == 0 {
		return 1
	}
	return p.Std[c]
}

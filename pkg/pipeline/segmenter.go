// Package pipeline runs a full segmentation job: load a reconstructed volume,
// segment it chunk by chunk on a pool of workers, write the binary result and
// report simple quality metrics.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"tomoseg/internal/models"
	"tomoseg/pkg/chunking"
	"tomoseg/pkg/segment"
	"tomoseg/pkg/visualization"
	"tomoseg/pkg/volumeio"
)

// Params holds the job configuration
type Params struct {
	// InputDir is the directory of reconstructed slice images
	InputDir string

	// OutputDir receives the segmented slices (or volume.raw for raw output)
	OutputDir string

	// Format is the output encoding
	Format volumeio.Format

	// Segmentation is applied to every slice
	Segmentation segment.Params

	// NumWorkers bounds concurrently processed chunks; zero uses every CPU
	NumWorkers int

	// ChunkSize is the number of slices per chunk; zero splits the volume
	// evenly across workers
	ChunkSize int

	// PreviewDir, when set, receives the middle slice along each axis
	PreviewDir string
}

// Metrics summarises a segmented volume
type Metrics struct {
	// ForegroundFraction is the share of foreground voxels in the volume
	ForegroundFraction float64

	// SliceFractions holds the foreground share of each slice
	SliceFractions []float64

	// SliceMean and SliceStdDev describe the spread of SliceFractions.
	// A large spread usually means block size or offset needs tuning.
	SliceMean   float64
	SliceStdDev float64

	// EmptySlices counts slices with no foreground at all
	EmptySlices int

	// Chunks is the number of units of work dispatched
	Chunks int

	// Elapsed is the wall time spent segmenting
	Elapsed time.Duration
}

// Segmenter drives one segmentation job
type Segmenter struct {
	params *Params
	logger logrus.FieldLogger

	volume  *models.Volume
	metrics Metrics
}

// NewSegmenter creates a segmenter for params. A nil logger uses the logrus
// standard logger.
func NewSegmenter(params *Params, logger logrus.FieldLogger) *Segmenter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Segmenter{params: params, logger: logger}
}

// Process runs the complete pipeline
func (s *Segmenter) Process(ctx context.Context) error {
	// Step 1: load
	s.logger.WithField("input", s.params.InputDir).Info("loading slices")
	vol, err := volumeio.LoadStack(s.params.InputDir)
	if err != nil {
		return fmt.Errorf("failed to load slices: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"width":  vol.Width,
		"height": vol.Height,
		"slices": vol.Depth,
	}).Info("volume loaded")

	// Step 2: segment
	if err := s.Segment(ctx, vol); err != nil {
		return err
	}

	// Step 3: write
	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save segmented volume: %w", err)
	}

	if s.params.PreviewDir != "" {
		paths, err := visualization.NewViewer(vol).SavePreviews(s.params.PreviewDir)
		if err != nil {
			s.logger.WithError(err).Warn("failed to save previews")
		} else {
			s.logger.WithField("files", paths).Info("previews saved")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"foreground": s.metrics.ForegroundFraction,
		"empty":      s.metrics.EmptySlices,
		"elapsed":    s.metrics.Elapsed,
	}).Info("segmentation complete")
	return nil
}

// Segment segments vol in place using the configured chunking and records
// metrics. Process calls it after loading; it is exported for callers that
// already hold a volume in memory.
func (s *Segmenter) Segment(ctx context.Context, vol *models.Volume) error {
	ranges, err := s.ranges(vol.Depth)
	if err != nil {
		return err
	}

	started := time.Now()
	dispatcher := chunking.NewDispatcher(s.params.NumWorkers, s.logger)
	if _, err := dispatcher.Run(ctx, vol, s.params.Segmentation, ranges); err != nil {
		return fmt.Errorf("failed to segment volume: %w", err)
	}

	s.volume = vol
	s.metrics = computeMetrics(vol)
	s.metrics.Chunks = len(ranges)
	s.metrics.Elapsed = time.Since(started)
	return nil
}

// GetMetrics returns the metrics of the last run
func (s *Segmenter) GetMetrics() Metrics {
	return s.metrics
}

// GetVolume returns the segmented volume of the last run
func (s *Segmenter) GetVolume() *models.Volume {
	return s.volume
}

func (s *Segmenter) ranges(depth int) ([]models.IndexRange, error) {
	if s.params.ChunkSize > 0 {
		return chunking.Partition(depth, s.params.ChunkSize)
	}
	workers := s.params.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return chunking.Split(depth, workers)
}

func (s *Segmenter) save() error {
	switch s.params.Format {
	case volumeio.FormatRaw:
		path := filepath.Join(s.params.OutputDir, "volume.raw")
		if err := volumeio.SaveRaw(s.volume, path); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"path":  path,
			"shape": fmt.Sprintf("%dx%dx%d", s.volume.Width, s.volume.Height, s.volume.Depth),
		}).Info("raw volume written")
		return nil
	case "":
		return volumeio.SaveStack(s.volume, s.params.OutputDir, volumeio.FormatTIFF)
	default:
		return volumeio.SaveStack(s.volume, s.params.OutputDir, s.params.Format)
	}
}

func computeMetrics(vol *models.Volume) Metrics {
	var m Metrics
	if vol.Depth == 0 || vol.SliceSize() == 0 {
		return m
	}

	m.ForegroundFraction = stat.Mean(vol.Data, nil)
	m.SliceFractions = make([]float64, vol.Depth)
	size := vol.SliceSize()
	for z := 0; z < vol.Depth; z++ {
		f := stat.Mean(vol.Data[z*size:(z+1)*size], nil)
		m.SliceFractions[z] = f
		if f == 0 {
			m.EmptySlices++
		}
	}
	if vol.Depth > 1 {
		m.SliceMean, m.SliceStdDev = stat.MeanStdDev(m.SliceFractions, nil)
	} else {
		m.SliceMean = m.SliceFractions[0]
	}
	return m
}

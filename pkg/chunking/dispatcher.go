// Package chunking splits a volume into contiguous slice ranges, segments
// them on a bounded pool of workers and reassembles the results by index
// range.
package chunking

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tomoseg/internal/models"
	"tomoseg/pkg/segment"
)

// Partition cuts [0, depth) into consecutive ranges of at most chunkSize
// slices. The last range may be shorter.
func Partition(depth, chunkSize int) ([]models.IndexRange, error) {
	if depth < 0 {
		return nil, fmt.Errorf("negative depth %d", depth)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	ranges := make([]models.IndexRange, 0, (depth+chunkSize-1)/chunkSize)
	for start := 0; start < depth; start += chunkSize {
		end := start + chunkSize
		if end > depth {
			end = depth
		}
		ranges = append(ranges, models.IndexRange{Start: start, End: end})
	}
	return ranges, nil
}

// Split divides [0, depth) into at most numChunks ranges of near-equal size
func Split(depth, numChunks int) ([]models.IndexRange, error) {
	if numChunks <= 0 {
		return nil, fmt.Errorf("number of chunks must be positive, got %d", numChunks)
	}
	if depth == 0 {
		return nil, nil
	}
	slicesPerChunk := (depth + numChunks - 1) / numChunks
	return Partition(depth, slicesPerChunk)
}

// Dispatcher runs segment.SegmentChunk over many chunks of one volume.
type Dispatcher struct {
	// Workers bounds the number of chunks processed at once. Zero means
	// one per CPU.
	Workers int

	// Logger receives per-chunk progress. Nil disables logging.
	Logger logrus.FieldLogger
}

// NewDispatcher creates a dispatcher with the given worker count and logger
func NewDispatcher(workers int, logger logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{Workers: workers, Logger: logger}
}

// Run segments every range of vol in place. Each chunk is handed to a worker
// as a view over its own slices, so no two workers touch the same memory.
// Results are put back by index range; the first failure cancels chunks that
// have not started yet and is returned.
func (d *Dispatcher) Run(ctx context.Context, vol *models.Volume, params segment.Params, ranges []models.IndexRange) ([]segment.Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume: %w", err)
	}
	if err := checkRanges(ranges, vol.Depth); err != nil {
		return nil, err
	}

	logger := d.logger()
	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]segment.Result, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	started := time.Now()
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			chunk, err := vol.SubVolume(r.Start, r.End)
			if err != nil {
				return err
			}

			t0 := time.Now()
			res, err := segment.SegmentChunk(segment.Request{
				Slices:   chunk,
				Params:   params,
				IndStart: r.Start,
				IndEnd:   r.End,
			})
			if err != nil {
				return fmt.Errorf("chunk %v: %w", r, err)
			}
			results[i] = res

			logger.WithFields(logrus.Fields{
				"ind_start": res.IndStart,
				"ind_end":   res.IndEnd,
				"elapsed":   time.Since(t0),
			}).Debug("chunk segmented")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("segmentation aborted")
		return nil, err
	}

	if err := Reassemble(vol, results); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"chunks":  len(ranges),
		"slices":  vol.Depth,
		"workers": workers,
		"elapsed": time.Since(started),
	}).Info("volume segmented")

	return results, nil
}

// Reassemble copies each result's slices into vol at its index range. Results
// that are already views into vol are left alone.
func Reassemble(vol *models.Volume, results []segment.Result) error {
	size := vol.SliceSize()
	for _, res := range results {
		r := res.Range()
		if r.Start < 0 || r.End > vol.Depth || r.Start > r.End {
			return fmt.Errorf("result range %v outside volume depth %d", r, vol.Depth)
		}
		if res.Slices == nil || res.Slices.Depth != r.Len() || res.Slices.SliceSize() != size {
			return fmt.Errorf("result %v does not fit volume slices of %dx%d", r, vol.Width, vol.Height)
		}
		if err := res.Slices.Validate(); err != nil {
			return fmt.Errorf("result %v: %w", r, err)
		}

		dst := vol.Data[r.Start*size : r.End*size]
		src := res.Slices.Data
		if len(dst) > 0 && &dst[0] == &src[0] {
			continue
		}
		copy(dst, src)
	}
	return nil
}

func checkRanges(ranges []models.IndexRange, depth int) error {
	covered := make([]bool, depth)
	for _, r := range ranges {
		if r.Start < 0 || r.End > depth || r.Start > r.End {
			return fmt.Errorf("range %v outside volume depth %d", r, depth)
		}
		for z := r.Start; z < r.End; z++ {
			if covered[z] {
				return fmt.Errorf("range %v overlaps another chunk at slice %d", r, z)
			}
			covered[z] = true
		}
	}
	return nil
}

func (d *Dispatcher) logger() logrus.FieldLogger {
	if d.Logger != nil {
		return d.Logger
	}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

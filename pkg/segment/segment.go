// Package segment turns chunks of reconstructed tomography slices into binary
// masks.
//
// Each slice is adaptively thresholded, then cleaned with a binary opening
// (removing small bright specks) and a binary closing (filling small dark
// holes). Slices are independent of one another, so a volume can be split
// into chunks of contiguous slices, segmented on separate workers, and put
// back together by index range.
package segment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"tomoseg/internal/models"
	"tomoseg/pkg/morphology"
	"tomoseg/pkg/threshold"
)

// Request describes one unit of work: the slices of a chunk together with the
// global index range they occupy in the full volume.
type Request struct {
	// Slices holds IndEnd-IndStart slices. It is overwritten in place.
	Slices *models.Volume

	Params

	IndStart int
	IndEnd   int
}

// Result carries the processed chunk back to whoever reassembles the volume.
// IndStart and IndEnd are always those of the Request.
type Result struct {
	IndStart int
	IndEnd   int
	Slices   *models.Volume
}

// Range returns the global slice range of the result
func (r Result) Range() models.IndexRange {
	return models.IndexRange{Start: r.IndStart, End: r.IndEnd}
}

// SegmentChunk thresholds and cleans every slice of req.Slices in place and
// returns the same volume with the request's index range.
//
// All parameters and shapes are checked before any slice is touched, so an
// *InvalidParameterError or *ShapeMismatchError leaves the input unchanged.
// Once processing starts slices are overwritten one at a time: an error
// returned from the slice loop leaves the earlier slices already segmented
// and the caller must discard the chunk. Validation rules out every such
// failure for well-formed input.
func SegmentChunk(req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	vol := req.Slices
	if vol.Depth > 0 && vol.SliceSize() == 0 {
		return Result{}, fmt.Errorf("chunk [%d, %d): %w", req.IndStart, req.IndEnd, threshold.ErrEmptyImage)
	}

	for m := 0; m < vol.Depth; m++ {
		if err := SegmentSlice(vol.Slice(m), req.Params); err != nil {
			return Result{}, fmt.Errorf("slice %d: %w", req.IndStart+m, err)
		}
	}

	return Result{IndStart: req.IndStart, IndEnd: req.IndEnd, Slices: vol}, nil
}

// Segment is SegmentChunk with the positional shape used by chunk
// dispatchers: (data, params, ind_start, ind_end) -> (ind_start, ind_end, data).
func Segment(data *models.Volume, params Params, indStart, indEnd int) (int, int, *models.Volume, error) {
	res, err := SegmentChunk(Request{Slices: data, Params: params, IndStart: indStart, IndEnd: indEnd})
	if err != nil {
		return indStart, indEnd, data, err
	}
	return res.IndStart, res.IndEnd, res.Slices, nil
}

// SegmentSlice replaces img with its cleaned binary mask.
func SegmentSlice(img *mat.Dense, p Params) error {
	var mask *mat.Dense
	var err error
	if p.Method == threshold.Generic {
		mask, err = threshold.ApplyGeneric(img, p.BlockSize, p.Offset, p.Func)
	} else {
		mask, err = threshold.Apply(img, p.BlockSize, p.Offset, p.Method)
	}
	if err != nil {
		return fmt.Errorf("adaptive threshold: %w", err)
	}
	cleaned, err := morphology.Clean(mask, p.Connectivity)
	if err != nil {
		return err
	}
	img.Copy(cleaned)
	return nil
}

func (r Request) validate() error {
	if err := r.Params.Validate(); err != nil {
		return err
	}
	if r.IndStart < 0 {
		return &InvalidParameterError{Name: "ind_start", Value: r.IndStart, Reason: "must be non-negative"}
	}
	if r.IndEnd < r.IndStart {
		return &InvalidParameterError{Name: "ind_end", Value: r.IndEnd, Reason: fmt.Sprintf("must be >= ind_start (%d)", r.IndStart)}
	}
	if r.Slices == nil {
		return &ShapeMismatchError{IndStart: r.IndStart, IndEnd: r.IndEnd, Detail: "no slice data"}
	}
	if err := r.Slices.Validate(); err != nil {
		return &ShapeMismatchError{IndStart: r.IndStart, IndEnd: r.IndEnd, Depth: r.Slices.Depth, Detail: err.Error()}
	}
	if r.Slices.Depth != r.IndEnd-r.IndStart {
		return &ShapeMismatchError{IndStart: r.IndStart, IndEnd: r.IndEnd, Depth: r.Slices.Depth}
	}
	return nil
}

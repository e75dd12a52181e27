package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Volume represents a stack of reconstructed tomography slices
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order,
	// indexed as [slice][row][column]
	Data []float64

	// Width is the number of columns in each slice
	Width int

	// Height is the number of rows in each slice
	Height int

	// Depth is the number of slices
	Depth int
}

// NewVolume allocates a zero-filled volume with the given dimensions
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// SliceSize returns the number of samples in a single slice
func (v *Volume) SliceSize() int {
	return v.Width * v.Height
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Validate checks that the backing array matches the declared dimensions.
func (v *Volume) Validate() error {
	if v.Width < 0 || v.Height < 0 || v.Depth < 0 {
		return fmt.Errorf("negative volume dimensions %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return fmt.Errorf("volume data length %d does not match dimensions %dx%dx%d",
			len(v.Data), v.Width, v.Height, v.Depth)
	}
	return nil
}

// Slice returns slice z as a Height x Width matrix. The matrix shares its
// backing array with the volume, so writes through it update the volume.
func (v *Volume) Slice(z int) *mat.Dense {
	size := v.SliceSize()
	return mat.NewDense(v.Height, v.Width, v.Data[z*size:(z+1)*size:(z+1)*size])
}

// SubVolume returns a view over slices [start, end). The view shares storage
// with v.
func (v *Volume) SubVolume(start, end int) (*Volume, error) {
	if start < 0 || end > v.Depth || start > end {
		return nil, fmt.Errorf("slice range [%d, %d) outside volume depth %d", start, end, v.Depth)
	}
	size := v.SliceSize()
	return &Volume{
		Data:   v.Data[start*size : end*size : end*size],
		Width:  v.Width,
		Height: v.Height,
		Depth:  end - start,
	}, nil
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Width: v.Width, Height: v.Height, Depth: v.Depth}
}

// IndexRange identifies the global slice indices [Start, End) a chunk covers
type IndexRange struct {
	Start int
	End   int
}

// Len returns the number of slices in the range
func (r IndexRange) Len() int {
	return r.End - r.Start
}

func (r IndexRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Package threshold implements adaptive (local) thresholding of 2D slices.
//
// The threshold for each pixel is the weighted mean of its blockSize x blockSize
// neighbourhood minus a constant offset. Neighbourhoods that run past the image
// edge are completed by reflection about the edge (d c b a | a b c d), so border
// pixels see a mirrored copy of their interior neighbours rather than zeros.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Method selects how the local weighted mean is computed
type Method int

const (
	// Gaussian weights the neighbourhood with a gaussian of sigma (blockSize-1)/6
	Gaussian Method = iota
	// Mean weights every pixel in the block equally
	Mean
	// Median uses the median of the block instead of a mean
	Median
	// Generic derives the threshold from a caller supplied BlockFunc
	Generic
)

// BlockFunc computes the local threshold of a pixel from the samples of its
// blockSize x blockSize neighbourhood, row-major and reflected at the edges.
// The slice is reused between pixels and may be reordered by the function.
type BlockFunc func(block []float64) float64

// truncate is the gaussian kernel radius in units of sigma
const truncate = 4.0

// tieTolerance is the relative distance under which a pixel is considered
// equal to its local threshold
const tieTolerance = 1e-9

// ErrEmptyImage is returned when a slice has no rows or columns
var ErrEmptyImage = errors.New("threshold: empty image")

func (m Method) String() string {
	switch m {
	case Gaussian:
		return "gaussian"
	case Mean:
		return "mean"
	case Median:
		return "median"
	case Generic:
		return "generic"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Valid reports whether m is a known method
func (m Method) Valid() bool {
	return m == Gaussian || m == Mean || m == Median || m == Generic
}

// ParseMethod converts a method name as written in config files or flags.
// Generic is not accepted since it needs a BlockFunc.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gaussian":
		return Gaussian, nil
	case "mean":
		return Mean, nil
	case "median":
		return Median, nil
	}
	return Gaussian, fmt.Errorf("unknown threshold method %q (must be gaussian, mean or median)", name)
}

// ValidateBlockSize checks that blockSize describes a centred neighbourhood.
func ValidateBlockSize(blockSize int) error {
	if blockSize < 3 || blockSize%2 == 0 {
		return fmt.Errorf("block size must be an odd integer >= 3, got %d", blockSize)
	}
	return nil
}

// Apply thresholds img and returns a new binary matrix of the same shape
// holding 1 for foreground and 0 for background.
//
// A pixel is foreground when its value exceeds its local mean minus offset.
// A pixel that ties its local threshold inside a perfectly flat neighbourhood
// has no local contrast to decide it, so it is classified against the
// slice-wide mean instead.
func Apply(img *mat.Dense, blockSize int, offset float64, method Method) (*mat.Dense, error) {
	local, err := LocalMean(img, blockSize, method)
	if err != nil {
		return nil, err
	}
	return classify(img, local, offset, supportRadius(blockSize, method)), nil
}

// ApplyGeneric is Apply with the local threshold computed by fn over each
// neighbourhood.
func ApplyGeneric(img *mat.Dense, blockSize int, offset float64, fn BlockFunc) (*mat.Dense, error) {
	local, err := LocalGeneric(img, blockSize, fn)
	if err != nil {
		return nil, err
	}
	return classify(img, local, offset, blockSize/2), nil
}

// LocalMean returns the per-pixel local weighted mean used as the adaptive
// threshold before the offset is subtracted.
func LocalMean(img *mat.Dense, blockSize int, method Method) (*mat.Dense, error) {
	if img == nil || img.IsEmpty() {
		return nil, ErrEmptyImage
	}
	if err := ValidateBlockSize(blockSize); err != nil {
		return nil, err
	}

	switch method {
	case Gaussian:
		sigma := float64(blockSize-1) / 6.0
		return separable(img, gaussianKernel(sigma)), nil
	case Mean:
		kernel := make([]float64, blockSize)
		for i := range kernel {
			kernel[i] = 1
		}
		floats.Scale(1/floats.Sum(kernel), kernel)
		return separable(img, kernel), nil
	case Median:
		return blockFilter(img, blockSize, median), nil
	case Generic:
		return nil, errors.New("threshold: generic method needs a BlockFunc")
	}
	return nil, fmt.Errorf("unknown threshold method %v", method)
}

// LocalGeneric returns fn evaluated over every blockSize x blockSize
// neighbourhood of img.
func LocalGeneric(img *mat.Dense, blockSize int, fn BlockFunc) (*mat.Dense, error) {
	if img == nil || img.IsEmpty() {
		return nil, ErrEmptyImage
	}
	if err := ValidateBlockSize(blockSize); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("threshold: nil BlockFunc")
	}
	return blockFilter(img, blockSize, fn), nil
}

func classify(img, local *mat.Dense, offset float64, radius int) *mat.Dense {
	src := img.RawMatrix()
	lm := local.RawMatrix()
	globalThresh := stat.Mean(contiguous(src), nil) - offset

	var lo, hi []float64
	out := mat.NewDense(src.Rows, src.Cols, nil)
	dst := out.RawMatrix()
	for i := 0; i < src.Rows; i++ {
		for j := 0; j < src.Cols; j++ {
			v := src.Data[i*src.Stride+j]
			t := lm.Data[i*lm.Stride+j] - offset

			fg := v > t
			if isTie(v, t) {
				if lo == nil {
					lo, hi = localRange(src, radius)
				}
				if lo[i*src.Cols+j] == hi[i*src.Cols+j] {
					fg = v > globalThresh
				}
			}
			if fg {
				dst.Data[i*dst.Stride+j] = 1
			}
		}
	}
	return out
}

// supportRadius is the half-width of the neighbourhood that actually
// contributes to the local threshold.
func supportRadius(blockSize int, method Method) int {
	if method == Gaussian {
		sigma := float64(blockSize-1) / 6.0
		return int(truncate*sigma + 0.5)
	}
	return blockSize / 2
}

// gaussianKernel builds a normalised 1D gaussian truncated at truncate*sigma
func gaussianKernel(sigma float64) []float64 {
	radius := int(truncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// separable correlates img with kernel along rows and then along columns.
func separable(img *mat.Dense, kernel []float64) *mat.Dense {
	src := img.RawMatrix()
	rows, cols := src.Rows, src.Cols
	radius := len(kernel) / 2

	tmp := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		row := src.Data[i*src.Stride : i*src.Stride+cols]
		for j := 0; j < cols; j++ {
			var sum float64
			for k, w := range kernel {
				sum += w * row[reflect(j+k-radius, cols)]
			}
			tmp[i*cols+j] = sum
		}
	}

	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			for k, w := range kernel {
				sum += w * tmp[reflect(i+k-radius, rows)*cols+j]
			}
			out[i*cols+j] = sum
		}
	}
	return mat.NewDense(rows, cols, out)
}

func blockFilter(img *mat.Dense, blockSize int, fn BlockFunc) *mat.Dense {
	src := img.RawMatrix()
	rows, cols := src.Rows, src.Cols
	radius := blockSize / 2

	out := make([]float64, rows*cols)
	window := make([]float64, blockSize*blockSize)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			n := 0
			for di := -radius; di <= radius; di++ {
				r := reflect(i+di, rows)
				for dj := -radius; dj <= radius; dj++ {
					window[n] = src.Data[r*src.Stride+reflect(j+dj, cols)]
					n++
				}
			}
			out[i*cols+j] = fn(window)
		}
	}
	return mat.NewDense(rows, cols, out)
}

func median(block []float64) float64 {
	sort.Float64s(block)
	return stat.Quantile(0.5, stat.Empirical, block, nil)
}

// localRange returns the minimum and maximum of every (2*radius+1) square
// neighbourhood, reflected at the edges, as row-major Rows*Cols slices.
func localRange(src blas64.General, radius int) (lo, hi []float64) {
	rows, cols := src.Rows, src.Cols
	rowLo := make([]float64, rows*cols)
	rowHi := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		row := src.Data[i*src.Stride : i*src.Stride+cols]
		for j := 0; j < cols; j++ {
			mn, mx := math.Inf(1), math.Inf(-1)
			for k := -radius; k <= radius; k++ {
				v := row[reflect(j+k, cols)]
				mn = math.Min(mn, v)
				mx = math.Max(mx, v)
			}
			rowLo[i*cols+j], rowHi[i*cols+j] = mn, mx
		}
	}

	lo = make([]float64, rows*cols)
	hi = make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			mn, mx := math.Inf(1), math.Inf(-1)
			for k := -radius; k <= radius; k++ {
				r := reflect(i+k, rows) * cols
				mn = math.Min(mn, rowLo[r+j])
				mx = math.Max(mx, rowHi[r+j])
			}
			lo[i*cols+j], hi[i*cols+j] = mn, mx
		}
	}
	return lo, hi
}

// reflect maps an out-of-range index back into [0, n) by mirroring about the
// edges, repeating the edge sample (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i - 1
	}
	return i
}

func isTie(v, t float64) bool {
	scale := math.Max(1, math.Max(math.Abs(v), math.Abs(t)))
	return math.Abs(v-t) <= tieTolerance*scale
}

// contiguous returns the matrix samples without row padding
func contiguous(m blas64.General) []float64 {
	if m.Stride == m.Cols {
		return m.Data[:m.Rows*m.Cols]
	}
	data := make([]float64, 0, m.Rows*m.Cols)
	for i := 0; i < m.Rows; i++ {
		data = append(data, m.Data[i*m.Stride:i*m.Stride+m.Cols]...)
	}
	return data
}

package segment

import (
	"math"

	"tomoseg/pkg/morphology"
	"tomoseg/pkg/threshold"
)

// DefaultBlockSize is the neighbourhood side used when none is configured
const DefaultBlockSize = 21

// Params holds the segmentation parameters applied to every slice of a chunk
type Params struct {
	// BlockSize is the side of the square neighbourhood used for the local
	// threshold. It must be odd and at least 3.
	BlockSize int

	// Offset is subtracted from the local weighted mean to get the threshold
	Offset float64

	// Method selects the local weighting (gaussian by default)
	Method threshold.Method

	// Func computes the local threshold when Method is threshold.Generic
	Func threshold.BlockFunc

	// Connectivity selects the structuring element for opening and closing.
	// Defaults to morphology.Eight, the square, rather than scipy's cross.
	Connectivity morphology.Connectivity
}

// Option customizes Params built by NewParams
type Option func(*Params)

// WithMethod sets the local weighting method
func WithMethod(m threshold.Method) Option {
	return func(p *Params) { p.Method = m }
}

// WithFunc thresholds against fn evaluated over each neighbourhood and
// switches Method to threshold.Generic
func WithFunc(fn threshold.BlockFunc) Option {
	return func(p *Params) {
		p.Method = threshold.Generic
		p.Func = fn
	}
}

// WithConnectivity sets the morphological structuring element
func WithConnectivity(c morphology.Connectivity) Option {
	return func(p *Params) { p.Connectivity = c }
}

// NewParams builds validated segmentation parameters. Malformed values are
// rejected here instead of deep inside slice processing.
func NewParams(blockSize int, offset float64, opts ...Option) (Params, error) {
	p := Params{
		BlockSize:    blockSize,
		Offset:       offset,
		Method:       threshold.Gaussian,
		Connectivity: morphology.Eight,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks every parameter and returns an *InvalidParameterError for
// the first one out of range.
func (p Params) Validate() error {
	if err := threshold.ValidateBlockSize(p.BlockSize); err != nil {
		return &InvalidParameterError{Name: "block_size", Value: p.BlockSize, Reason: "must be an odd integer >= 3"}
	}
	if math.IsNaN(p.Offset) || math.IsInf(p.Offset, 0) {
		return &InvalidParameterError{Name: "offset", Value: p.Offset, Reason: "must be finite"}
	}
	if !p.Method.Valid() {
		return &InvalidParameterError{Name: "method", Value: p.Method, Reason: "unknown threshold method"}
	}
	if p.Method == threshold.Generic && p.Func == nil {
		return &InvalidParameterError{Name: "method", Value: p.Method, Reason: "generic method needs a threshold function"}
	}
	if !p.Connectivity.Valid() {
		return &InvalidParameterError{Name: "connectivity", Value: p.Connectivity, Reason: "must be 4 or 8"}
	}
	return nil
}

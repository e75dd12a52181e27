// Package morphology provides binary morphological operators on 2D masks.
//
// Masks are gonum matrices where any non-zero sample is foreground. Results
// always hold exactly 0 or 1. Samples outside the image are background, so
// erosion eats foreground that touches the image border and dilation never
// grows anything in from outside.
package morphology

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Connectivity selects the 3x3 structuring element
type Connectivity int

const (
	// Eight uses the full 3x3 square (8-connected neighbourhood). It is the
	// default, unlike scipy.ndimage whose binary opening and closing default
	// to the cross; with the cross a solid 3x3 block does not survive opening.
	Eight Connectivity = iota
	// Four uses the 3x3 cross (4-connected neighbourhood), the scipy.ndimage
	// default element
	Four
)

// ErrEmptyMask is returned for masks with no rows or columns
var ErrEmptyMask = errors.New("morphology: empty mask")

type offset struct{ dy, dx int }

var (
	squareElement = []offset{
		{-1, -1}, {-1, 0}, {-1, 1},
		{0, -1}, {0, 0}, {0, 1},
		{1, -1}, {1, 0}, {1, 1},
	}
	crossElement = []offset{
		{-1, 0},
		{0, -1}, {0, 0}, {0, 1},
		{1, 0},
	}
)

func (c Connectivity) String() string {
	switch c {
	case Eight:
		return "8"
	case Four:
		return "4"
	}
	return fmt.Sprintf("Connectivity(%d)", int(c))
}

// Valid reports whether c is a known connectivity
func (c Connectivity) Valid() bool {
	return c == Eight || c == Four
}

// ParseConnectivity accepts "4" or "8" (also "four", "eight", "cross", "square")
func ParseConnectivity(s string) (Connectivity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "8", "eight", "square":
		return Eight, nil
	case "4", "four", "cross":
		return Four, nil
	}
	return Eight, fmt.Errorf("unknown connectivity %q (must be 4 or 8)", s)
}

func (c Connectivity) element() ([]offset, error) {
	switch c {
	case Eight:
		return squareElement, nil
	case Four:
		return crossElement, nil
	}
	return nil, fmt.Errorf("unknown connectivity %v", c)
}

// Erode keeps a pixel only if every pixel under the structuring element is
// foreground.
func Erode(mask *mat.Dense, conn Connectivity) (*mat.Dense, error) {
	return apply(mask, conn, true)
}

// Dilate sets a pixel if any pixel under the structuring element is
// foreground.
func Dilate(mask *mat.Dense, conn Connectivity) (*mat.Dense, error) {
	return apply(mask, conn, false)
}

// Open applies an erosion followed by a dilation. It removes foreground
// specks smaller than the structuring element.
func Open(mask *mat.Dense, conn Connectivity) (*mat.Dense, error) {
	eroded, err := Erode(mask, conn)
	if err != nil {
		return nil, err
	}
	return Dilate(eroded, conn)
}

// Close applies a dilation followed by an erosion. It fills background holes
// smaller than the structuring element.
func Close(mask *mat.Dense, conn Connectivity) (*mat.Dense, error) {
	dilated, err := Dilate(mask, conn)
	if err != nil {
		return nil, err
	}
	return Erode(dilated, conn)
}

// Clean opens and then closes mask
func Clean(mask *mat.Dense, conn Connectivity) (*mat.Dense, error) {
	opened, err := Open(mask, conn)
	if err != nil {
		return nil, fmt.Errorf("binary opening: %w", err)
	}
	closed, err := Close(opened, conn)
	if err != nil {
		return nil, fmt.Errorf("binary closing: %w", err)
	}
	return closed, nil
}

func apply(mask *mat.Dense, conn Connectivity, erode bool) (*mat.Dense, error) {
	if mask == nil || mask.IsEmpty() {
		return nil, ErrEmptyMask
	}
	elem, err := conn.element()
	if err != nil {
		return nil, err
	}

	src := mask.RawMatrix()
	rows, cols := src.Rows, src.Cols
	out := mat.NewDense(rows, cols, nil)
	dst := out.RawMatrix()

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			// erosion looks for any background under the element,
			// dilation for any foreground
			hit := false
			for _, o := range elem {
				y, x := i+o.dy, j+o.dx
				inside := y >= 0 && y < rows && x >= 0 && x < cols
				fg := inside && src.Data[y*src.Stride+x] != 0
				if erode && !fg || !erode && fg {
					hit = true
					break
				}
			}
			if hit != erode {
				dst.Data[i*dst.Stride+j] = 1
			}
		}
	}
	return out, nil
}

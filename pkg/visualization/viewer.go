package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"tomoseg/internal/models"
)

// Viewer extracts orthogonal slices and sub-regions from a volume so that
// segmentation results can be inspected along every axis.
type Viewer struct {
	vol *models.Volume
}

// NewViewer creates a viewer over vol. The volume is not copied.
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{vol: vol}
}

// axisLength returns the number of positions along axis
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.vol.Width, nil
	case "y", "Y":
		return v.vol.Height, nil
	case "z", "Z":
		return v.vol.Depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// Values are clamped to [0, 1] and scaled to 16-bit gray.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside axis %s of length %d", position, axis, n)
	}

	vol := v.vol
	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane, depth runs horizontally
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, gray(vol.Data[vol.Index(position, y, z)]))
			}
		}
	case "y", "Y":
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, gray(vol.Data[vol.Index(x, position, z)]))
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, gray(vol.Data[vol.Index(x, y, position)]))
			}
		}
	}
	return img, nil
}

// ExtractRegion copies a 3D subregion out of the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.vol.Width || startY+sizeY > v.vol.Height || startZ+sizeZ > v.vol.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := models.NewVolume(sizeX, sizeY, sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := v.vol.Index(startX, startY+y, startZ+z)
			copy(region.Data[region.Index(0, y, z):region.Index(0, y, z)+sizeX], v.vol.Data[src:src+sizeX])
		}
	}
	return region, nil
}

// SaveSliceSequence writes every slice along axis as a PNG into outputDir
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	n, err := v.axisLength(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%04d.png", axis, pos))
		if err := savePNG(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// SavePreviews writes the middle slice along each axis into outputDir and
// returns the written paths.
func (v *Viewer) SavePreviews(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.axisLength(axis)
		if n == 0 {
			continue
		}
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("preview_%s.png", axis))
		if err := savePNG(img, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

func gray(v float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v*65535)))}
}

func savePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

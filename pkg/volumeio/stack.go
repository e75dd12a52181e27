// Package volumeio reads and writes volumes as stacks of slice images or as
// raw float32 files.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"

	"golang.org/x/image/tiff"

	"tomoseg/internal/models"
)

// Format is an on-disk volume encoding
type Format string

const (
	FormatTIFF Format = "tiff"
	FormatPNG  Format = "png"
	FormatRaw  Format = "raw"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", "tif", FormatTIFF:
		return FormatTIFF, nil
	case FormatPNG:
		return FormatPNG, nil
	case FormatRaw, "bin":
		return FormatRaw, nil
	}
	return "", fmt.Errorf("unknown volume format %q (must be tiff, png or raw)", s)
}

var sliceExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadStack reads every slice image in dir into a volume. Slices are ordered
// by the number embedded in their file name and normalised to [0, 1].
func LoadStack(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sliceExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	var vol *models.Volume
	for z, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", name, err)
		}

		b := img.Bounds()
		if vol == nil {
			vol = models.NewVolume(b.Dx(), b.Dy(), len(files))
		} else if b.Dx() != vol.Width || b.Dy() != vol.Height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", name, b.Dx(), b.Dy(), vol.Width, vol.Height)
		}

		imageToFloat(img, vol.Data[z*vol.SliceSize():(z+1)*vol.SliceSize()])
	}
	return vol, nil
}

// SaveStack writes one image per slice into dir, named by slice index
func SaveStack(vol *models.Volume, dir string, format Format) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if format != FormatTIFF && format != FormatPNG {
		return fmt.Errorf("cannot write a slice stack as %q", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for z := 0; z < vol.Depth; z++ {
		img := floatToImage(vol.Data[z*vol.SliceSize():(z+1)*vol.SliceSize()], vol.Width, vol.Height)
		filename := filepath.Join(dir, fmt.Sprintf("slice_%04d.%s", z, format))
		if err := saveImage(img, filename, format); err != nil {
			return fmt.Errorf("failed to save slice %d: %w", z, err)
		}
	}
	return nil
}

// SaveRaw writes the volume as little-endian float32 samples in
// [slice][row][column] order.
func SaveRaw(vol *models.Volume, path string) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	buf := make([]byte, 4)
	for _, v := range vol.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// LoadRaw reads a volume written by SaveRaw
func LoadRaw(path string, width, height, depth int) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	vol := models.NewVolume(width, height, depth)
	r := bufio.NewReader(file)
	buf := make([]byte, 4)
	for i := range vol.Data {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("raw volume %s truncated at sample %d: %w", path, i, err)
		}
		vol.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	return vol, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if n, err := strconv.Atoi(digits.String()); err == nil {
		return n
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// imageToFloat writes the luminance of img into dst as values in [0, 1]
func imageToFloat(img image.Image, dst []float64) {
	b := img.Bounds()
	width := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			dst[y*width+x] = float64(g.Y) / 65535.0
		}
	}
}

// floatToImage converts a slice to a 16-bit image, clamping to [0, 1]
func floatToImage(data []float64, width, height int) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Max(0, math.Min(1, data[y*width+x]))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}

func saveImage(img image.Image, filename string, format Format) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch format {
	case FormatTIFF:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return err
	}
	return file.Close()
}

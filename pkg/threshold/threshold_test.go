package threshold

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// blockImage returns a size x size image of zeros with a centred square of
// side block set to value
func blockImage(size, block int, value float64) *mat.Dense {
	img := mat.NewDense(size, size, nil)
	start := (size - block) / 2
	for i := start; i < start+block; i++ {
		for j := start; j < start+block; j++ {
			img.Set(i, j, value)
		}
	}
	return img
}

func TestReflect(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
		{-6, 5, 4},
		{11, 5, 1},
		{3, 1, 0},
	}
	for _, tt := range tests {
		if got := reflect(tt.i, tt.n); got != tt.want {
			t.Errorf("reflect(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestGaussianKernel(t *testing.T) {
	// blockSize 3 gives sigma 1/3 and a radius of one sample
	k := gaussianKernel(1.0 / 3.0)
	if len(k) != 3 {
		t.Fatalf("Expected 3 taps, got %d", len(k))
	}

	sum := k[0] + k[1] + k[2]
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("Kernel not normalised, sum=%f", sum)
	}
	if k[0] != k[2] || k[1] <= k[0] {
		t.Errorf("Kernel should be symmetric and peaked: %v", k)
	}

	if got := len(gaussianKernel(float64(21-1) / 6.0)); got != 27 {
		t.Errorf("Expected 27 taps for blockSize 21, got %d", got)
	}
}

func TestLocalMeanUniform(t *testing.T) {
	img := mat.NewDense(6, 7, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 7; j++ {
			img.Set(i, j, 3.5)
		}
	}

	for _, m := range []Method{Gaussian, Mean, Median} {
		local, err := LocalMean(img, 5, m)
		if err != nil {
			t.Fatalf("%v: LocalMean failed: %v", m, err)
		}
		for i := 0; i < 6; i++ {
			for j := 0; j < 7; j++ {
				if v := local.At(i, j); math.Abs(v-3.5) > 1e-12 {
					t.Errorf("%v: local mean at (%d,%d) = %f, want 3.5", m, i, j, v)
				}
			}
		}
	}
}

func TestLocalMeanBoxUsesReflection(t *testing.T) {
	// Row [1 2 3] reflected: [1 | 1 2 3 | 3], so the 3-wide box mean at
	// column 0 is (1+1+2)/3 and at column 2 is (2+3+3)/3.
	img := mat.NewDense(1, 3, []float64{1, 2, 3})
	local, err := LocalMean(img, 3, Mean)
	if err != nil {
		t.Fatalf("LocalMean failed: %v", err)
	}
	want := []float64{4.0 / 3.0, 2, 8.0 / 3.0}
	for j, w := range want {
		if got := local.At(0, j); math.Abs(got-w) > 1e-12 {
			t.Errorf("column %d: got %f, want %f", j, got, w)
		}
	}
}

func TestLocalMeanMedian(t *testing.T) {
	img := mat.NewDense(3, 3, []float64{
		1, 9, 2,
		8, 5, 7,
		3, 6, 4,
	})
	local, err := LocalMean(img, 3, Median)
	if err != nil {
		t.Fatalf("LocalMean failed: %v", err)
	}
	if got := local.At(1, 1); got != 5 {
		t.Errorf("Median at centre = %f, want 5", got)
	}
}

func TestApplyCentredBlock(t *testing.T) {
	img := blockImage(5, 3, 10)
	out, err := Apply(img, 3, 0, Gaussian)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := blockImage(5, 3, 1)
	if !mat.Equal(out, want) {
		t.Errorf("Unexpected threshold result\n got: %v\nwant: %v", mat.Formatted(out), mat.Formatted(want))
	}
}

func TestApplyUniformIsBackground(t *testing.T) {
	for _, value := range []float64{0, 1, -4} {
		img := mat.NewDense(10, 10, nil)
		for i := 0; i < 10; i++ {
			for j := 0; j < 10; j++ {
				img.Set(i, j, value)
			}
		}
		for _, m := range []Method{Gaussian, Mean, Median} {
			out, err := Apply(img, 3, 0, m)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if s := mat.Sum(out); s != 0 {
				t.Errorf("value %f, method %v: expected all background, got %f foreground pixels", value, m, s)
			}
		}
	}
}

func TestApplyOffset(t *testing.T) {
	// A linear ramp: every interior pixel equals its box mean, so the offset
	// alone decides which side of the threshold it falls on.
	img := mat.NewDense(1, 5, []float64{1, 2, 3, 4, 5})

	out, err := Apply(img, 3, 0.5, Mean)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for j := 1; j < 4; j++ {
		if out.At(0, j) != 1 {
			t.Errorf("column %d: expected foreground with positive offset", j)
		}
	}

	out, err = Apply(img, 3, -0.5, Mean)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for j := 1; j < 4; j++ {
		if out.At(0, j) != 0 {
			t.Errorf("column %d: expected background with negative offset", j)
		}
	}
}

func TestApplyErrors(t *testing.T) {
	img := mat.NewDense(4, 4, nil)
	for _, bs := range []int{-3, 0, 1, 2, 4} {
		if _, err := Apply(img, bs, 0, Gaussian); err == nil {
			t.Errorf("Expected error for block size %d", bs)
		}
	}
	if _, err := Apply(&mat.Dense{}, 3, 0, Gaussian); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Expected ErrEmptyImage, got %v", err)
	}
	if _, err := Apply(img, 3, 0, Method(42)); err == nil {
		t.Errorf("Expected error for unknown method")
	}
}

func TestParseMethod(t *testing.T) {
	for name, want := range map[string]Method{"gaussian": Gaussian, "": Gaussian, "MEAN": Mean, " median ": Median} {
		got, err := ParseMethod(name)
		if err != nil {
			t.Errorf("ParseMethod(%q) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("ParseMethod(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseMethod("generic"); err == nil {
		t.Errorf("Expected error for unsupported method")
	}
}

// noiseImage fills a size x size image with uniform noise in [0, 1)
func noiseImage(size int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	img := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			img.Set(i, j, rng.Float64())
		}
	}
	return img
}

// TestApplyStrictOnTexturedImage checks that on an image without flat
// neighbourhoods every pixel follows value > local threshold, including
// pixels that equal their own window median.
func TestApplyStrictOnTexturedImage(t *testing.T) {
	img := noiseImage(64, 7)

	for _, m := range []Method{Median, Mean, Gaussian} {
		out, err := Apply(img, 3, 0, m)
		if err != nil {
			t.Fatalf("%v: Apply failed: %v", m, err)
		}
		local, err := LocalMean(img, 3, m)
		if err != nil {
			t.Fatalf("%v: LocalMean failed: %v", m, err)
		}

		mismatches := 0
		for i := 0; i < 64; i++ {
			for j := 0; j < 64; j++ {
				want := 0.0
				if img.At(i, j) > local.At(i, j) {
					want = 1
				}
				if out.At(i, j) != want {
					mismatches++
				}
			}
		}
		if mismatches != 0 {
			t.Errorf("%v: %d pixels differ from the strict local rule", m, mismatches)
		}
	}
}

func TestLocalRange(t *testing.T) {
	img := mat.NewDense(3, 3, []float64{
		1, 1, 1,
		1, 1, 1,
		1, 1, 5,
	})
	lo, hi := localRange(img.RawMatrix(), 1)
	if lo[0] != 1 || hi[0] != 1 {
		t.Errorf("Corner (0,0) should be flat, got [%f, %f]", lo[0], hi[0])
	}
	if lo[4] != 1 || hi[4] != 5 {
		t.Errorf("Centre should span [1, 5], got [%f, %f]", lo[4], hi[4])
	}
}

func TestApplyGeneric(t *testing.T) {
	img := noiseImage(16, 3)

	maxFn := func(block []float64) float64 {
		mx := block[0]
		for _, v := range block[1:] {
			mx = math.Max(mx, v)
		}
		return mx
	}
	// nothing exceeds its own neighbourhood maximum
	out, err := ApplyGeneric(img, 3, 0, maxFn)
	if err != nil {
		t.Fatalf("ApplyGeneric failed: %v", err)
	}
	if s := mat.Sum(out); s != 0 {
		t.Errorf("Expected no foreground against the local maximum, got %f", s)
	}

	// the median as a BlockFunc matches the built-in method
	viaFunc, err := ApplyGeneric(img, 5, 0.01, median)
	if err != nil {
		t.Fatalf("ApplyGeneric failed: %v", err)
	}
	builtin, err := Apply(img, 5, 0.01, Median)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !mat.Equal(viaFunc, builtin) {
		t.Errorf("Generic median differs from Median method")
	}

	if _, err := ApplyGeneric(img, 3, 0, nil); err == nil {
		t.Errorf("Expected error for nil BlockFunc")
	}
	if _, err := Apply(img, 3, 0, Generic); err == nil {
		t.Errorf("Expected error for Generic without a BlockFunc")
	}
}

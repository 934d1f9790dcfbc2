package keypoints

import (
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func rectangleImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 30; y < 70; y++ {
		for x := 30; x < 70; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

// texturedImage is a mosaic of random gray blocks, rich in corners.
func texturedImage(w, h int, seed uint64) *image.Gray {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	const block = 6
	img := image.NewGray(image.Rect(0, 0, w, h))
	vals := make([]uint8, (w/block+1)*(h/block+1))
	for i := range vals {
		vals[i] = uint8(rng.IntN(256))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: vals[(y/block)*(w/block+1)+x/block]})
		}
	}
	return img
}

func TestIsValidSlice(t *testing.T) {
	test.That(t, isValidSliceVals([]float64{1, 1, 0, 1, 1, 1}, 5), test.ShouldBeTrue)
	test.That(t, isValidSliceVals([]float64{1, 1, 0, 1, 1, 1}, 6), test.ShouldBeFalse)
	test.That(t, isValidSliceVals([]float64{0, 0, 0}, 1), test.ShouldBeFalse)
	test.That(t, isValidSliceVals([]float64{0, 1, 0}, 1), test.ShouldBeTrue)
}

func TestSliceHelpers(t *testing.T) {
	s := []float64{-2, 3, 0, -1, 5}
	test.That(t, sumOfPositiveValuesSlice(s), test.ShouldEqual, 8)
	test.That(t, sumOfNegativeValuesSlice(s), test.ShouldEqual, -3)
	test.That(t, getBrighterValues(s, 0), test.ShouldResemble, []float64{0, 1, 0, 0, 1})
	test.That(t, getDarkerValues(s, 0), test.ShouldResemble, []float64{1, 0, 0, 1, 0})

	img := rectangleImage()
	vals := GetPointValuesInNeighborhood(img, image.Point{30, 30}, CrossIdx)
	test.That(t, vals, test.ShouldResemble, []float64{255, 255, 0, 0})
}

func TestComputeFASTRectangle(t *testing.T) {
	cfg := DefaultFASTConfig()
	cfg.Oriented = false
	kps, scores := ComputeFAST(rectangleImage(), cfg)
	test.That(t, len(kps), test.ShouldBeGreaterThanOrEqualTo, 4)
	test.That(t, len(scores), test.ShouldEqual, len(kps))

	corners := []image.Point{{30, 30}, {69, 30}, {30, 69}, {69, 69}}
	found := make([]bool, len(corners))
	for _, kp := range kps {
		near := false
		for i, c := range corners {
			d := kp.Sub(c)
			if d.X >= -3 && d.X <= 3 && d.Y >= -3 && d.Y <= 3 {
				near = true
				found[i] = true
			}
		}
		test.That(t, near, test.ShouldBeTrue)
	}
	test.That(t, found, test.ShouldResemble, []bool{true, true, true, true})

	// strongest first
	for i := 1; i < len(scores); i++ {
		test.That(t, scores[i], test.ShouldBeLessThanOrEqualTo, scores[i-1])
	}
}

func TestFASTKeypointsFromImage(t *testing.T) {
	img := texturedImage(120, 90, 3)
	kps := NewFASTKeypointsFromImage(img, DefaultFASTConfig())
	test.That(t, kps.IsOriented(), test.ShouldBeTrue)
	test.That(t, len(kps.Orientations), test.ShouldEqual, len(kps.Points))

	scaled := kps.KeyPoints(2)
	test.That(t, len(scaled), test.ShouldEqual, len(kps.Points))
	if len(scaled) > 0 {
		test.That(t, scaled[0].Point.X, test.ShouldEqual, 2*float64(kps.Points[0].X))
		test.That(t, scaled[0].Scale, test.ShouldEqual, 2)
		test.That(t, scaled[0].Response, test.ShouldEqual, kps.Responses[0])
	}

	out := filepath.Join(t.TempDir(), "kps.png")
	test.That(t, PlotKeypoints(img, scaled, out), test.ShouldBeNil)
}

func TestFASTConfigValidate(t *testing.T) {
	test.That(t, DefaultFASTConfig().Validate("fast"), test.ShouldBeNil)
	cfg := DefaultFASTConfig()
	cfg.NMatchesCircle = 4
	test.That(t, cfg.Validate("fast"), test.ShouldNotBeNil)
	cfg = DefaultFASTConfig()
	cfg.Threshold = 1.5
	test.That(t, cfg.Validate("fast"), test.ShouldNotBeNil)
}

func TestLoadFASTConfiguration(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "fast.json")
	test.That(t, os.WriteFile(fn, []byte(`{"n_matches": 12, "nms_win_size": 3, "threshold": 0.2}`), 0o600), test.ShouldBeNil)
	cfg, err := LoadFASTConfiguration(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.NMatchesCircle, test.ShouldEqual, 12)
	test.That(t, cfg.Oriented, test.ShouldBeFalse)

	test.That(t, os.WriteFile(fn, []byte(`{"n_matches": 3, "nms_win_size": 3, "threshold": 0.2}`), 0o600), test.ShouldBeNil)
	_, err = LoadFASTConfiguration(fn)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = LoadFASTConfiguration(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

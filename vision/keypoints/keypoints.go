// Package keypoints contains the implementation of keypoints in an image. For now:
// - FAST keypoints
// - BRIEF descriptors, combined in an ORB-like multi scale extractor
// - brute force descriptor matching with Lowe's ratio test.
package keypoints

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// KeyPoint is a detected image feature location with its detection attributes.
type KeyPoint struct {
	Point       r2.Point
	Scale       float64
	Orientation float64
	Response    float64
}

// KeyPoints is a set of keypoints.
type KeyPoints []KeyPoint

// Points returns the image positions of the keypoints.
func (kps KeyPoints) Points() []r2.Point {
	pts := make([]r2.Point, len(kps))
	for i, kp := range kps {
		pts[i] = kp.Point
	}
	return pts
}

// Descriptor is a fixed length feature vector compared with the L2 distance.
type Descriptor []float64

// Features are the keypoints of an image and their descriptors; entry i of both slices
// describes the same feature.
type Features struct {
	KeyPoints   KeyPoints
	Descriptors []Descriptor
}

// Len returns the number of features.
func (f *Features) Len() int {
	if f == nil {
		return 0
	}
	return len(f.KeyPoints)
}

// Validate checks that keypoints and descriptors pair up and that descriptors share one length.
func (f *Features) Validate() error {
	if f == nil {
		return errors.New("features are nil")
	}
	if len(f.KeyPoints) != len(f.Descriptors) {
		return errors.Errorf("%d keypoints but %d descriptors", len(f.KeyPoints), len(f.Descriptors))
	}
	for i, d := range f.Descriptors {
		if len(d) != len(f.Descriptors[0]) {
			return errors.Errorf("descriptor %d has length %d, expected %d", i, len(d), len(f.Descriptors[0]))
		}
	}
	return nil
}

// RescaleKeypoints rescales given keypoints wrt scaleFactor.
func RescaleKeypoints(kps KeyPoints, scaleFactor float64) KeyPoints {
	rescaled := make(KeyPoints, len(kps))
	for i, kp := range kps {
		kp.Point = kp.Point.Mul(scaleFactor)
		kp.Scale *= scaleFactor
		rescaled[i] = kp
	}
	return rescaled
}

// orientationRadius is the radius of the disc used to compute keypoint orientations.
const orientationRadius = 15

// computeMaskOrientationFAST creates the mask used to compute orientations of corners.
func computeMaskOrientationFAST() *image.Gray {
	size := 2*orientationRadius + 1
	mask := image.NewGray(image.Rect(0, 0, size, size))
	indices := []int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}
	for i := -orientationRadius; i <= orientationRadius; i++ {
		half := indices[int(math.Abs(float64(i)))]
		for j := -half; j <= half; j++ {
			mask.SetGray(j+orientationRadius, i+orientationRadius, color.Gray{1})
		}
	}
	return mask
}

var orientationMask = computeMaskOrientationFAST()

// computeKeypointOrientation returns the angle of the intensity centroid of the disc around pt.
// Pixels outside of the image count as black.
func computeKeypointOrientation(img *image.Gray, pt image.Point) float64 {
	bnd := img.Bounds()
	m01, m10 := 0, 0
	for y := -orientationRadius; y <= orientationRadius; y++ {
		for x := -orientationRadius; x <= orientationRadius; x++ {
			if orientationMask.GrayAt(x+orientationRadius, y+orientationRadius).Y == 0 {
				continue
			}
			p := image.Point{pt.X + x, pt.Y + y}
			if !p.In(bnd) {
				continue
			}
			pixVal := int(img.GrayAt(p.X, p.Y).Y)
			m10 += pixVal * x
			m01 += pixVal * y
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

// PlotKeypoints plots keypoints on image.
func PlotKeypoints(img *image.Gray, kps KeyPoints, outName string) error {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	dc := gg.NewContext(w, h)
	dc.DrawImage(img, 0, 0)

	// draw keypoints on image
	dc.SetRGBA(0, 0, 1, 0.5)
	for _, kp := range kps {
		dc.DrawCircle(kp.Point.X, kp.Point.Y, 3*math.Max(kp.Scale, 1))
		dc.Fill()
	}
	return dc.SavePNG(outName)
}

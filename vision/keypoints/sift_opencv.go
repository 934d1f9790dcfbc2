//go:build opencv

package keypoints

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/monovo/rimage"
)

func init() {
	RegisterExtractor("sift", func() (Extractor, error) {
		return &SIFTExtractor{}, nil
	})
}

// SIFTExtractor wraps the OpenCV SIFT detector.
type SIFTExtractor struct{}

// Name returns "sift".
func (e *SIFTExtractor) Name() string {
	return "sift"
}

// DetectAndCompute runs SIFT on the gray version of the image.
func (e *SIFTExtractor) DetectAndCompute(img image.Image) (*Features, error) {
	gray, err := gocv.ImageGrayToMatGray(rimage.MakeGray(img))
	if err != nil {
		return nil, errors.Wrap(err, "cannot convert image for opencv")
	}
	defer gray.Close()

	sift := gocv.NewSIFT()
	defer sift.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	kps, desc := sift.DetectAndCompute(gray, mask)
	defer desc.Close()
	if len(kps) > 0 && desc.Rows() != len(kps) {
		return nil, errors.Errorf("sift returned %d keypoints but %d descriptors", len(kps), desc.Rows())
	}

	features := &Features{
		KeyPoints:   make(KeyPoints, len(kps)),
		Descriptors: make([]Descriptor, len(kps)),
	}
	for i, kp := range kps {
		features.KeyPoints[i] = KeyPoint{
			Point:       r2.Point{X: kp.X, Y: kp.Y},
			Scale:       kp.Size,
			Orientation: kp.Angle,
			Response:    kp.Response,
		}
		d := make(Descriptor, desc.Cols())
		for j := range d {
			d[j] = float64(desc.GetFloatAt(i, j))
		}
		features.Descriptors[i] = d
	}
	return features, nil
}

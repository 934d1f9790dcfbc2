//go:build opencv

package odometry

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

func init() {
	RegisterTracker("opencv_lk", func(cfg *FlowConfig) (PointTracker, error) {
		return &openCVTracker{cfg: cfg}, nil
	})
}

// openCVTracker wraps the OpenCV pyramidal Lucas-Kanade implementation.
type openCVTracker struct {
	cfg *FlowConfig
}

func (t *openCVTracker) Track(prev, next *image.Gray, pts []r2.Point) ([]r2.Point, []bool, error) {
	if len(pts) == 0 {
		return nil, nil, nil
	}
	prevMat, err := gocv.ImageGrayToMatGray(prev)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot convert previous image")
	}
	defer prevMat.Close()
	nextMat, err := gocv.ImageGrayToMatGray(next)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot convert next image")
	}
	defer nextMat.Close()

	prevPts := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	defer prevPts.Close()
	for i, p := range pts {
		prevPts.SetFloatAt(i, 0, float32(p.X))
		prevPts.SetFloatAt(i, 1, float32(p.Y))
	}
	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	gocv.CalcOpticalFlowPyrLK(prevMat, nextMat, prevPts, nextPts, &status, &errMat)

	tracked := make([]r2.Point, len(pts))
	ok := make([]bool, len(pts))
	for i := range pts {
		tracked[i] = r2.Point{X: float64(nextPts.GetFloatAt(i, 0)), Y: float64(nextPts.GetFloatAt(i, 1))}
		ok[i] = status.GetUCharAt(i, 0) == 1
	}
	return tracked, ok, nil
}

package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *Distortion `json:"distortion,omitempty"`
}

// Project maps a point given in camera coordinates to pixel coordinates, applying the
// distortion model when there is one.
func (params *PinholeCameraModel) Project(pt r3.Vector) (r2.Point, bool) {
	if pt.Z <= 0 {
		return r2.Point{}, false
	}
	x, y := pt.X/pt.Z, pt.Y/pt.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return params.NormalizedToPixel(r2.Point{X: x, Y: y}), true
}

// UndistortPoints maps distorted pixels to the pixels an ideal pinhole camera would have seen.
func (params *PinholeCameraModel) UndistortPoints(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		if params.Distortion == nil {
			out[i] = pt
			continue
		}
		n := params.PixelToNormalized(pt)
		x, y := params.Distortion.Undistort(n.X, n.Y)
		out[i] = params.NormalizedToPixel(r2.Point{X: x, Y: y})
	}
	return out
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromMatrix reads the focal lengths and principal point of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	return params, params.CheckValid()
}

// PixelToNormalized removes the camera calibration from a pixel, giving coordinates on the z=1 plane.
func (params *PinholeCameraIntrinsics) PixelToNormalized(pt r2.Point) r2.Point {
	return r2.Point{X: (pt.X - params.Ppx) / params.Fx, Y: (pt.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel applies the camera calibration to a point of the z=1 plane.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(pt r2.Point) r2.Point {
	return r2.Point{X: pt.X*params.Fx + params.Ppx, Y: pt.Y*params.Fy + params.Ppy}
}

// PointToPixel projects a 3D point to a pixel in an image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	// if depth is zero return negative coordinates so that a cropping to image bounds filters it out
	return -1.0, -1.0
}

// MeanFocal is the average of the two focal lengths, used to express pixel thresholds in
// normalized coordinates.
func (params *PinholeCameraIntrinsics) MeanFocal() float64 {
	return (params.Fx + params.Fy) / 2
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// GetInverseCameraMatrix returns the closed form inverse of the camera matrix.
func (params *PinholeCameraIntrinsics) GetInverseCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	inv := mat.NewDense(3, 3, nil)
	inv.Set(0, 0, 1/params.Fx)
	inv.Set(1, 1, 1/params.Fy)
	inv.Set(0, 2, -params.Ppx/params.Fx)
	inv.Set(1, 2, -params.Ppy/params.Fy)
	inv.Set(2, 2, 1)
	return inv
}

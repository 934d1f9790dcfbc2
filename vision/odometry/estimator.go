package odometry

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/keypoints"
	"go.viam.com/monovo/vision/odometry/groundtruth"
)

// Reference is the frame the next frame is compared against, along with what was detected on it.
type Reference struct {
	Index    int
	Image    image.Image
	Features *keypoints.Features
}

// Step is the outcome of estimating the motion between a reference and a current frame.
type Step struct {
	// Pose maps points of the current frame into the reference frame.
	Pose Pose
	// Next is the current frame, which becomes the reference of the following step.
	Next *Reference
	// RefPoints and CurPoints are the correspondences the pose was estimated from; Inliers marks
	// those that agree with the pose.
	RefPoints []r2.Point
	CurPoints []r2.Point
	Inliers   []bool
}

// NumInliers returns the number of correspondences that agree with the pose.
func (s *Step) NumInliers() int {
	n := 0
	for _, in := range s.Inliers {
		if in {
			n++
		}
	}
	return n
}

// PoseEstimator computes the relative motion of the camera between consecutive frames.
type PoseEstimator interface {
	// Calibrate estimates the camera intrinsics from the calibration points seen in a frame of
	// the given size. It must succeed before any pose is estimated.
	Calibrate(ctx context.Context, pts *groundtruth.Points, width, height int) (*transform.CalibrationResult, error)
	// Reference prepares a frame to be compared against.
	Reference(ctx context.Context, index int, img image.Image) (*Reference, error)
	// EstimateRelativePose estimates the motion between ref and the frame img.
	EstimateRelativePose(ctx context.Context, ref *Reference, index int, img image.Image) (*Step, error)
}

// NewPoseEstimator builds the estimator selected by the configuration method.
func NewPoseEstimator(cfg *MotionEstimationConfig, logger logging.Logger) (PoseEstimator, error) {
	if err := cfg.Validate("odometry"); err != nil {
		return nil, err
	}
	switch cfg.Method {
	case MethodFeature:
		return NewFeatureBased(cfg, logger)
	case MethodFlow:
		return NewFlowBased(cfg, logger)
	default:
		return nil, errors.Errorf("unknown method %q", cfg.Method)
	}
}

// calibrator holds the camera intrinsics shared by every estimator.
type calibrator struct {
	cfg        *CalibrationConfig
	logger     logging.Logger
	intrinsics *transform.PinholeCameraIntrinsics
	distortion *transform.Distortion
}

// Calibrate refines the initial guess of the configuration with the calibration points.
func (c *calibrator) Calibrate(
	ctx context.Context,
	pts *groundtruth.Points,
	width, height int,
) (*transform.CalibrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pts == nil {
		return nil, errors.Wrap(transform.ErrCalibrationFailed, "no calibration points")
	}
	if err := pts.Validate(); err != nil {
		return nil, errors.Wrap(transform.ErrCalibrationFailed, err.Error())
	}
	ppx, ppy := float64(width)/2, float64(height)/2
	if len(c.cfg.PrincipalPoint) == 2 {
		ppx, ppy = c.cfg.PrincipalPoint[0], c.cfg.PrincipalPoint[1]
	}
	dist, err := transform.NewDistortion(c.cfg.Distortion)
	if err != nil {
		return nil, errors.Wrap(transform.ErrCalibrationFailed, err.Error())
	}
	res, err := transform.CalibrateCamera(transform.CalibrationProblem{
		ObjectPoints: pts.Object,
		ImagePoints:  pts.Image,
		Initial: transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     c.cfg.InitialFocal,
			Fy:     c.cfg.InitialFocal,
			Ppx:    ppx,
			Ppy:    ppy,
		},
		Distortion: dist,
		Flags:      c.cfg.Flags,
	})
	if err != nil {
		return nil, err
	}
	c.intrinsics = res.Intrinsics
	c.distortion = res.Distortion
	c.logger.Infow("camera calibrated",
		"fx", res.Intrinsics.Fx, "fy", res.Intrinsics.Fy,
		"ppx", res.Intrinsics.Ppx, "ppy", res.Intrinsics.Ppy,
		"rms_px", res.RMSError)
	return res, nil
}

// SetIntrinsics skips the calibration and uses known intrinsics.
func (c *calibrator) SetIntrinsics(intrinsics *transform.PinholeCameraIntrinsics) error {
	if err := intrinsics.CheckValid(); err != nil {
		return err
	}
	cp := *intrinsics
	c.intrinsics = &cp
	return nil
}

// SetDistortion sets the lens distortion removed from the correspondences before the pose is
// recovered. A nil distortion leaves the pixels unchanged.
func (c *calibrator) SetDistortion(distortion *transform.Distortion) error {
	if distortion == nil {
		c.distortion = nil
		return nil
	}
	if err := distortion.CheckValid(); err != nil {
		return err
	}
	cp := *distortion
	c.distortion = &cp
	return nil
}

// undistort maps observed pixels to those of an ideal pinhole camera.
func (c *calibrator) undistort(pts []r2.Point) []r2.Point {
	if c.distortion.IsZero() {
		return pts
	}
	model := transform.PinholeCameraModel{PinholeCameraIntrinsics: c.intrinsics, Distortion: c.distortion}
	return model.UndistortPoints(pts)
}

// Intrinsics returns the calibrated intrinsics, or an error before calibration.
func (c *calibrator) Intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if c.intrinsics == nil {
		return nil, transform.NewNoIntrinsicsError("the camera is not calibrated")
	}
	return c.intrinsics, nil
}

// recoverStep estimates the pose from paired points of the current and reference frames. The
// step keeps the observed pixels, the pose is recovered from their undistorted version.
func (c *calibrator) recoverStep(
	refPts, curPts []r2.Point,
	ransac transform.RANSACConfig,
	next *Reference,
) (*Step, error) {
	intrinsics, err := c.Intrinsics()
	if err != nil {
		return nil, err
	}
	rec, err := transform.RecoverPose(c.undistort(curPts), c.undistort(refPts), intrinsics, ransac)
	if err != nil {
		return nil, err
	}
	pose, err := NewPose(rec.Rotation, rec.Translation)
	if err != nil {
		return nil, errors.Wrap(transform.ErrPoseRecoveryFailed, err.Error())
	}
	return &Step{
		Pose:      pose,
		Next:      next,
		RefPoints: refPts,
		CurPoints: curPts,
		Inliers:   rec.Mask,
	}, nil
}

package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/monovo/spatialmath"
)

// ErrCalibrationFailed is returned when the intrinsic parameters cannot be estimated from the
// given correspondences.
var ErrCalibrationFailed = errors.New("camera calibration failed")

// minCalibrationPoints is the fewest 2D-3D correspondences a calibration accepts.
const minCalibrationPoints = 6

// CalibrationFlags select which parameters stay at their initial value.
type CalibrationFlags struct {
	FixPrincipalPoint bool `json:"fix_principal_point"`
	FixAspectRatio    bool `json:"fix_aspect_ratio"`
	// FixDistortion keeps every distortion coefficient. When unset only k1 and k2 are refined.
	FixDistortion bool `json:"fix_distortion"`
}

// DefaultCalibrationFlags only refine the focal length.
func DefaultCalibrationFlags() CalibrationFlags {
	return CalibrationFlags{FixPrincipalPoint: true, FixAspectRatio: true, FixDistortion: true}
}

// CalibrationProblem is a single view of known 3D points and their observed pixels.
type CalibrationProblem struct {
	ObjectPoints []r3.Vector
	ImagePoints  []r2.Point
	// Initial gives the image size, principal point, aspect ratio and the fallback focal length.
	Initial    PinholeCameraIntrinsics
	Distortion *Distortion
	Flags      CalibrationFlags
}

// CalibrationResult holds the refined camera and the pose of the object in the camera frame.
type CalibrationResult struct {
	Intrinsics  *PinholeCameraIntrinsics
	Distortion  *Distortion
	Rotation    *mat.Dense
	Translation r3.Vector
	// Reprojection errors in pixels.
	RMSError    float64
	MeanError   float64
	MedianError float64
}

// calibParams maps the optimizer vector onto camera parameters. Focal lengths and principal
// point are divided by scale so that every entry is of order one.
type calibParams struct {
	flags  CalibrationFlags
	init   PinholeCameraIntrinsics
	dist   Distortion
	aspect float64
	scale  float64
}

func (cp *calibParams) pack(fx, fy, ppx, ppy float64, d Distortion, rvec, t r3.Vector) []float64 {
	x := []float64{fx / cp.scale}
	if !cp.flags.FixAspectRatio {
		x = append(x, fy/cp.scale)
	}
	if !cp.flags.FixPrincipalPoint {
		x = append(x, ppx/cp.scale, ppy/cp.scale)
	}
	if !cp.flags.FixDistortion {
		x = append(x, d.K1, d.K2)
	}
	return append(x, rvec.X, rvec.Y, rvec.Z, t.X, t.Y, t.Z)
}

func (cp *calibParams) unpack(x []float64) (PinholeCameraIntrinsics, Distortion, *spatialmath.RotationMatrix, r3.Vector) {
	intr := cp.init
	dist := cp.dist
	i := 0
	intr.Fx = x[i] * cp.scale
	intr.Fy = intr.Fx * cp.aspect
	i++
	if !cp.flags.FixAspectRatio {
		intr.Fy = x[i] * cp.scale
		i++
	}
	if !cp.flags.FixPrincipalPoint {
		intr.Ppx, intr.Ppy = x[i]*cp.scale, x[i+1]*cp.scale
		i += 2
	}
	if !cp.flags.FixDistortion {
		dist.K1, dist.K2 = x[i], x[i+1]
		i += 2
	}
	rot := spatialmath.R3ToR4(r3.Vector{X: x[i], Y: x[i+1], Z: x[i+2]}).RotationMatrix()
	t := r3.Vector{X: x[i+3], Y: x[i+4], Z: x[i+5]}
	return intr, dist, rot, t
}

// reprojectionErrors are the pixel distances between the observed and projected points.
func reprojectionErrors(
	intr PinholeCameraIntrinsics, dist Distortion, rot *spatialmath.RotationMatrix, t r3.Vector,
	objectPoints []r3.Vector, imagePoints []r2.Point,
) []float64 {
	model := PinholeCameraModel{PinholeCameraIntrinsics: &intr, Distortion: &dist}
	errs := make([]float64, len(objectPoints))
	for i, obj := range objectPoints {
		proj, ok := model.Project(rot.Mul(obj).Add(t))
		if !ok {
			errs[i] = math.Inf(1)
			continue
		}
		errs[i] = proj.Sub(imagePoints[i]).Norm()
	}
	return errs
}

// CalibrateCamera refines the focal length (and whatever else the flags leave free) of a camera
// from one view of known 3D points. The extrinsics are initialized with a DLT for a general
// point set or with a homography when the points are coplanar, then all free parameters are
// refined by minimizing the mean squared reprojection error.
func CalibrateCamera(problem CalibrationProblem) (*CalibrationResult, error) {
	n := len(problem.ObjectPoints)
	if n != len(problem.ImagePoints) {
		return nil, errors.Wrapf(ErrCalibrationFailed, "%d object points but %d image points", n, len(problem.ImagePoints))
	}
	if n < minCalibrationPoints {
		return nil, errors.Wrapf(ErrCalibrationFailed, "need at least %d points, got %d", minCalibrationPoints, n)
	}
	if err := problem.Initial.CheckValid(); err != nil {
		return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
	}
	dist := Distortion{}
	if problem.Distortion != nil {
		if err := problem.Distortion.CheckValid(); err != nil {
			return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
		}
		dist = *problem.Distortion
	}

	initF, rot, t, err := initialExtrinsics(problem)
	if err != nil {
		return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
	}
	cp := &calibParams{
		flags:  problem.Flags,
		init:   problem.Initial,
		dist:   dist,
		aspect: problem.Initial.Fy / problem.Initial.Fx,
		scale:  initF,
	}
	x0 := cp.pack(initF, initF*cp.aspect, problem.Initial.Ppx, problem.Initial.Ppy, dist, rot.AxisAngles().ToR3(), t)

	objective := func(x []float64) float64 {
		intr, d, r, tr := cp.unpack(x)
		if intr.Fx <= 0 || intr.Fy <= 0 {
			return math.Inf(1)
		}
		sum := 0.0
		for _, e := range reprojectionErrors(intr, d, r, tr, problem.ObjectPoints, problem.ImagePoints) {
			sum += e * e
		}
		return sum / float64(n)
	}
	opt := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objective, x, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 20,
		},
	}
	result, err := optimize.Minimize(opt, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, errors.Wrapf(ErrCalibrationFailed, "optimization failed: %v", err)
	}
	// line searches that stall at the optimum report an error, the residual decides
	xBest := result.X
	if err != nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		if f0 := objective(x0); !(result.F <= f0) {
			return nil, errors.Wrapf(ErrCalibrationFailed, "optimization did not converge: %v", err)
		}
	}

	intr, d, r, tr := cp.unpack(xBest)
	if intr.Fx <= 0 || intr.Fy <= 0 || math.IsNaN(intr.Fx) || math.IsInf(intr.Fx, 0) {
		return nil, errors.Wrapf(ErrCalibrationFailed, "invalid focal length %v", intr.Fx)
	}
	errs := reprojectionErrors(intr, d, r, tr, problem.ObjectPoints, problem.ImagePoints)
	data := stats.LoadRawData(errs)
	mean, err := data.Mean()
	if err != nil {
		return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
	}
	median, err := data.Median()
	if err != nil {
		return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
	}
	squares := make(stats.Float64Data, len(errs))
	for i, e := range errs {
		squares[i] = e * e
	}
	meanSquare, err := squares.Mean()
	if err != nil {
		return nil, errors.Wrap(ErrCalibrationFailed, err.Error())
	}
	rms := math.Sqrt(meanSquare)
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return nil, errors.Wrap(ErrCalibrationFailed, "reprojection error is not finite")
	}
	return &CalibrationResult{
		Intrinsics:  &intr,
		Distortion:  &d,
		Rotation:    r.Dense(),
		Translation: tr,
		RMSError:    rms,
		MeanError:   mean,
		MedianError: median,
	}, nil
}

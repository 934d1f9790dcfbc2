package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrPoseRecoveryFailed is returned when no relative pose can be recovered from a set of
// correspondences: too few of them, too few inliers, or no triangulated point in front of
// both cameras.
var ErrPoseRecoveryFailed = errors.New("relative pose recovery failed")

// cheiralityDistance discards triangulated points that are too far away, in baselines, to
// vote reliably for a pose.
const cheiralityDistance = 50.0

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and Translation matrices.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	U3 := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]*mat.Dense, 4)
	for i := range poses {
		poses[i] = &mat.Dense{}
	}
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	return poses, nil
}

// TriangulatePoint computes the 3D point seen at p1 by the camera [I|0] and at p2 by the camera
// pose, with the linear (DLT) method. Points are in normalized coordinates. The last value is
// the homogeneous scale of the solution, zero for points at infinity.
func TriangulatePoint(pose mat.Matrix, p1, p2 r2.Point) (r3.Vector, float64, error) {
	P := eye(3)
	A := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		var p1Col r3.Vector
		if j < 3 {
			p1Col = r3.Vector{X: P.At(0, j), Y: P.At(1, j), Z: P.At(2, j)}
		}
		A.Set(0, j, p1.X*p1Col.Z-p1Col.X)
		A.Set(1, j, p1.Y*p1Col.Z-p1Col.Y)
		A.Set(2, j, p2.X*pose.At(2, j)-pose.At(0, j))
		A.Set(3, j, p2.Y*pose.At(2, j)-pose.At(1, j))
	}
	X, err := nullVector(A)
	if err != nil {
		return r3.Vector{}, 0, err
	}
	if X[3] == 0 {
		return r3.Vector{}, 0, nil
	}
	return r3.Vector{X: X[0] / X[3], Y: X[1] / X[3], Z: X[2] / X[3]}, X[3], nil
}

// GetLinearTriangulatedPoints computes triangulated 3D points with linear method.
func GetLinearTriangulatedPoints(pose *mat.Dense, pts1, pts2 []r2.Point) ([]r3.Vector, error) {
	pts3d := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		pt, _, err := TriangulatePoint(pose, pts1[i], pts2[i])
		if err != nil {
			return nil, err
		}
		pts3d[i] = pt
	}
	return pts3d, nil
}

// GetNumberPositiveDepth counts the correspondences that triangulate in front of both cameras and
// closer than the cheirality distance. Only entries set in mask are considered, a nil mask
// considers all of them. It returns the count and the mask of the valid points.
func GetNumberPositiveDepth(pose *mat.Dense, pts1, pts2 []r2.Point, mask []bool) (int, []bool) {
	R := pose.Slice(0, 3, 0, 3)
	t := r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)}
	valid := make([]bool, len(pts1))
	n := 0
	for i := range pts1 {
		if mask != nil && !mask[i] {
			continue
		}
		pt, w, err := TriangulatePoint(pose, pts1[i], pts2[i])
		if err != nil || w == 0 {
			continue
		}
		if pt.Z <= 0 || pt.Z >= cheiralityDistance {
			continue
		}
		depth2 := mulVec(R, pt).Add(t).Z
		if depth2 <= 0 || depth2 >= cheiralityDistance {
			continue
		}
		valid[i] = true
		n++
	}
	return n, valid
}

// GetCorrectCameraPose returns the best pose, which is the pose with the most positive depth
// values, along with its count and validity mask.
func GetCorrectCameraPose(poses []*mat.Dense, pts1, pts2 []r2.Point, mask []bool) (*mat.Dense, int, []bool) {
	var best *mat.Dense
	var bestValid []bool
	maxNumPosDepth := 0
	for _, pose := range poses {
		n, valid := GetNumberPositiveDepth(pose, pts1, pts2, mask)
		if n > maxNumPosDepth {
			best, bestValid, maxNumPosDepth = pose, valid, n
		}
	}
	return best, maxNumPosDepth, bestValid
}

// RecoveredPose is the relative motion between two views. Points of the first view map to the
// second one as X2 = Rotation·X1 + Translation; Translation has unit norm since monocular
// geometry does not observe scale.
type RecoveredPose struct {
	Rotation    *mat.Dense
	Translation *mat.Dense
	Essential   *mat.Dense
	// Mask marks the correspondences that are RANSAC inliers and lie in front of both cameras.
	Mask    []bool
	Inliers int
}

// RecoverPose estimates the motion from the camera that observed pts1 to the camera that observed
// pts2. The points are pixels of two images taken by the same calibrated camera.
func RecoverPose(pts1, pts2 []r2.Point, intrinsics *PinholeCameraIntrinsics, cfg RANSACConfig) (*RecoveredPose, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	n1 := make([]r2.Point, len(pts1))
	n2 := make([]r2.Point, len(pts2))
	for i := range pts1 {
		n1[i] = intrinsics.PixelToNormalized(pts1[i])
		n2[i] = intrinsics.PixelToNormalized(pts2[i])
	}
	threshold := cfg.ThresholdPx / intrinsics.MeanFocal()

	E, inliers, err := FindEssentialMatrix(n1, n2, threshold*threshold, cfg)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(E)
	if err != nil {
		return nil, errors.Wrap(ErrPoseRecoveryFailed, err.Error())
	}
	pose, count, valid := GetCorrectCameraPose(poses, n1, n2, inliers)
	if pose == nil || count == 0 {
		return nil, errors.Wrap(ErrPoseRecoveryFailed, "no triangulated point in front of both cameras")
	}
	cp := NewCamPoseFromMat(pose)
	return &RecoveredPose{
		Rotation:    cp.Rotation,
		Translation: cp.Translation,
		Essential:   E,
		Mask:        valid,
		Inliers:     count,
	}, nil
}

package transform

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/spatialmath"
)

func TestRecoverPoseSynthetic(t *testing.T) {
	trueT := r3.Vector{X: 0.4, Y: -0.1, Z: 0.2}
	pts1, pts2, trueR := twoViewScene(120, r3.Vector{X: 0.02, Y: -0.05, Z: 0.01}, trueT, 1)

	pose, err := RecoverPose(pts1, pts2, testIntrinsics(), DefaultRANSACConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(pose.Rotation, trueR, 1e-6), test.ShouldBeTrue)
	test.That(t, spatialmath.IsRotation(pose.Rotation, 1e-9), test.ShouldBeTrue)
	test.That(t, mat.Det(pose.Rotation), test.ShouldAlmostEqual, 1, 1e-9)

	unit := trueT.Normalize()
	test.That(t, pose.Translation.At(0, 0), test.ShouldAlmostEqual, unit.X, 1e-6)
	test.That(t, pose.Translation.At(1, 0), test.ShouldAlmostEqual, unit.Y, 1e-6)
	test.That(t, pose.Translation.At(2, 0), test.ShouldAlmostEqual, unit.Z, 1e-6)
	test.That(t, pose.Inliers, test.ShouldEqual, 120)
	test.That(t, len(pose.Mask), test.ShouldEqual, 120)
}

func TestRecoverPoseWithOutliers(t *testing.T) {
	trueT := r3.Vector{X: -0.3, Y: 0.05, Z: 0.3}
	pts1, pts2, trueR := twoViewScene(200, r3.Vector{X: -0.03, Y: 0.04, Z: 0.02}, trueT, 2)
	//nolint:gosec
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 40; i++ {
		pts2[i] = r2.Point{X: rng.Float64() * 1920, Y: rng.Float64() * 1080}
	}
	cfg := DefaultRANSACConfig()
	cfg.Seed = 7
	pose, err := RecoverPose(pts1, pts2, testIntrinsics(), cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(pose.Rotation, trueR, 1e-2), test.ShouldBeTrue)
	unit := trueT.Normalize()
	got := r3.Vector{X: pose.Translation.At(0, 0), Y: pose.Translation.At(1, 0), Z: pose.Translation.At(2, 0)}
	test.That(t, got.Sub(unit).Norm(), test.ShouldBeLessThan, 1e-2)
	test.That(t, pose.Inliers, test.ShouldBeGreaterThanOrEqualTo, 150)
	test.That(t, pose.Inliers, test.ShouldBeLessThanOrEqualTo, 200)

	// same seed, same answer
	again, err := RecoverPose(pts1, pts2, testIntrinsics(), cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(again.Rotation, pose.Rotation), test.ShouldBeTrue)
	test.That(t, again.Mask, test.ShouldResemble, pose.Mask)
}

func TestRecoverPoseFailures(t *testing.T) {
	pts1, pts2, _ := twoViewScene(7, r3.Vector{Z: 0.01}, r3.Vector{X: 0.5}, 4)
	_, err := RecoverPose(pts1, pts2, testIntrinsics(), DefaultRANSACConfig())
	test.That(t, errors.Is(err, ErrPoseRecoveryFailed), test.ShouldBeTrue)

	same := make([]r2.Point, 20)
	for i := range same {
		same[i] = r2.Point{X: 100, Y: 100}
	}
	_, err = RecoverPose(same, same, testIntrinsics(), DefaultRANSACConfig())
	test.That(t, errors.Is(err, ErrPoseRecoveryFailed), test.ShouldBeTrue)

	_, err = RecoverPose(pts1, pts2[:3], testIntrinsics(), DefaultRANSACConfig())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = RecoverPose(pts1, pts2, &PinholeCameraIntrinsics{}, DefaultRANSACConfig())
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	bad := DefaultRANSACConfig()
	bad.Probability = 1
	_, err = RecoverPose(pts1, pts2, testIntrinsics(), bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPossiblePosesAreRotations(t *testing.T) {
	pts1, pts2, _ := twoViewScene(30, r3.Vector{X: 0.1, Y: 0.2}, r3.Vector{X: 1, Z: 0.2}, 5)
	intr := testIntrinsics()
	n1, n2 := make([]r2.Point, len(pts1)), make([]r2.Point, len(pts2))
	for i := range pts1 {
		n1[i], n2[i] = intr.PixelToNormalized(pts1[i]), intr.PixelToNormalized(pts2[i])
	}
	E, err := EstimateEssentialMatrix(n1, n2)
	test.That(t, err, test.ShouldBeNil)
	for i := range n1 {
		test.That(t, SampsonDistance(E, n1[i], n2[i]), test.ShouldBeLessThan, 1e-12)
	}

	poses, err := GetPossibleCameraPoses(E)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(poses), test.ShouldEqual, 4)
	valid := 0
	for _, pose := range poses {
		cp := NewCamPoseFromMat(pose)
		test.That(t, spatialmath.IsRotation(cp.Rotation, 1e-9), test.ShouldBeTrue)
		if n, _ := GetNumberPositiveDepth(pose, n1, n2, nil); n == len(n1) {
			valid++
		}
	}
	// exactly one candidate puts the scene in front of both cameras
	test.That(t, valid, test.ShouldEqual, 1)
}

func TestTriangulatePoint(t *testing.T) {
	pose := mat.NewDense(3, 4, []float64{
		1, 0, 0, -1,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	X := r3.Vector{X: 0.5, Y: -0.2, Z: 4}
	p1 := r2.Point{X: X.X / X.Z, Y: X.Y / X.Z}
	p2 := r2.Point{X: (X.X - 1) / X.Z, Y: X.Y / X.Z}
	got, w, err := TriangulatePoint(pose, p1, p2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w, test.ShouldNotEqual, 0)
	test.That(t, got.X, test.ShouldAlmostEqual, X.X, 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, X.Y, 1e-9)
	test.That(t, got.Z, test.ShouldAlmostEqual, X.Z, 1e-9)

	pts, err := GetLinearTriangulatedPoints(pose, []r2.Point{p1}, []r2.Point{p2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].Sub(X).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestAdaptiveIterations(t *testing.T) {
	test.That(t, adaptiveIterations(0.999, 1, 1000), test.ShouldEqual, 1)
	test.That(t, adaptiveIterations(0.999, 0, 1000), test.ShouldEqual, 1000)
	test.That(t, adaptiveIterations(0.999, 0.1, 1000), test.ShouldEqual, 1000)
	// 0.9^8 = 0.43, log(0.001)/log(0.57) = 12.3
	test.That(t, adaptiveIterations(0.999, 0.9, 1000), test.ShouldEqual, 13)
}

package transform

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/spatialmath"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 1920, Height: 1080, Fx: 800, Fy: 800, Ppx: 960, Ppy: 540}
}

// twoViewScene builds correspondences of random points seen by a first camera and by a second
// camera with X2 = R X1 + t.
func twoViewScene(n int, rvec, t r3.Vector, seed int64) ([]r2.Point, []r2.Point, *mat.Dense) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	intr := testIntrinsics()
	rot := spatialmath.R3ToR4(rvec).RotationMatrix()
	pts1 := make([]r2.Point, 0, n)
	pts2 := make([]r2.Point, 0, n)
	for len(pts1) < n {
		X1 := r3.Vector{X: rng.Float64()*4 - 2, Y: rng.Float64()*3 - 1.5, Z: 4 + rng.Float64()*6}
		X2 := rot.Mul(X1).Add(t)
		if X2.Z <= 0 {
			continue
		}
		u1, v1 := intr.PointToPixel(X1.X, X1.Y, X1.Z)
		u2, v2 := intr.PointToPixel(X2.X, X2.Y, X2.Z)
		pts1 = append(pts1, r2.Point{X: u1, Y: v1})
		pts2 = append(pts2, r2.Point{X: u2, Y: v2})
	}
	return pts1, pts2, rot.Dense()
}

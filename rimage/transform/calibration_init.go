package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/spatialmath"
)

// planarityTolerance is the ratio of the smallest to the largest spread of the object points
// under which they are treated as coplanar.
const planarityTolerance = 1e-9

// initialExtrinsics estimates a starting focal length and object pose for the calibration.
func initialExtrinsics(problem CalibrationProblem) (float64, *spatialmath.RotationMatrix, r3.Vector, error) {
	centroid, basis, planar, err := objectPlane(problem.ObjectPoints)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	if planar {
		return homographyInit(problem, centroid, basis)
	}
	return dltInit(problem)
}

// objectPlane returns the centroid of the points and the principal directions of their spread,
// as the columns of a proper rotation. planar reports whether the last direction has no spread.
func objectPlane(pts []r3.Vector) (r3.Vector, *mat.Dense, bool, error) {
	centroid := r3.Vector{}
	for _, pt := range pts {
		centroid = centroid.Add(pt)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))
	centered := mat.NewDense(len(pts), 3, nil)
	for i, pt := range pts {
		d := pt.Sub(centroid)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinV); !ok {
		return r3.Vector{}, nil, false, errors.New("failed to factorize object points")
	}
	values := svd.Values(nil)
	if values[0] == 0 {
		return r3.Vector{}, nil, false, errors.New("all object points coincide")
	}
	var V mat.Dense
	svd.VTo(&V)
	e1 := r3.Vector{X: V.At(0, 0), Y: V.At(1, 0), Z: V.At(2, 0)}
	e2 := r3.Vector{X: V.At(0, 1), Y: V.At(1, 1), Z: V.At(2, 1)}
	n := e1.Cross(e2)
	basis := mat.NewDense(3, 3, []float64{
		e1.X, e2.X, n.X,
		e1.Y, e2.Y, n.Y,
		e1.Z, e2.Z, n.Z,
	})
	return centroid, basis, values[2] <= planarityTolerance*values[0], nil
}

// dltInit computes the 3x4 projection matrix with the direct linear transform and splits it into
// camera matrix and pose with an RQ decomposition.
func dltInit(problem CalibrationProblem) (float64, *spatialmath.RotationMatrix, r3.Vector, error) {
	obj, U, err := normalizePoints3D(problem.ObjectPoints)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	img, T, err := normalizePoints(problem.ImagePoints)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	A := mat.NewDense(2*len(obj), 12, nil)
	for i, X := range obj {
		u, v := img[i].X, img[i].Y
		A.SetRow(2*i, []float64{X.X, X.Y, X.Z, 1, 0, 0, 0, 0, -u * X.X, -u * X.Y, -u * X.Z, -u})
		A.SetRow(2*i+1, []float64{0, 0, 0, 0, X.X, X.Y, X.Z, 1, -v * X.X, -v * X.Y, -v * X.Z, -v})
	}
	p, err := nullVector(A)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	var tInv mat.Dense
	if err := tInv.Inverse(T); err != nil {
		return 0, nil, r3.Vector{}, errors.Wrap(err, "cannot invert image normalization")
	}
	var P mat.Dense
	P.Mul(&tInv, mat.NewDense(3, 4, p))
	P.Mul(&P, U)

	M := mat.DenseCopyOf(P.Slice(0, 3, 0, 3))
	if mat.Det(M) < 0 {
		P.Scale(-1, &P)
		M.Scale(-1, M)
	}
	K, R, err := rq3(M)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	lambda := K.At(2, 2)
	if lambda == 0 {
		return 0, nil, r3.Vector{}, errors.New("degenerate projection matrix")
	}
	K.Scale(1/lambda, K)
	var kInv mat.Dense
	if err := kInv.Inverse(K); err != nil {
		return 0, nil, r3.Vector{}, errors.Wrap(err, "cannot invert camera matrix")
	}
	t := mulVec(&kInv, r3.Vector{X: P.At(0, 3), Y: P.At(1, 3), Z: P.At(2, 3)}).Mul(1 / lambda)

	rot, err := nearestRotationMatrix(R)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	aspect := problem.Initial.Fy / problem.Initial.Fx
	f := (K.At(0, 0) + K.At(1, 1)/aspect) / 2
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		f = problem.Initial.Fx
	}
	return f, rot, t, nil
}

// homographyInit fits the homography between the object plane and the image, recovers the
// focal length from the orthogonality of the first two rotation columns, and then the pose.
// A view without perspective on the plane falls back to the initial focal length.
func homographyInit(
	problem CalibrationProblem, centroid r3.Vector, basis *mat.Dense,
) (float64, *spatialmath.RotationMatrix, r3.Vector, error) {
	planePts := make([]r2.Point, len(problem.ObjectPoints))
	for i, pt := range problem.ObjectPoints {
		d := pt.Sub(centroid)
		planePts[i] = r2.Point{
			X: d.X*basis.At(0, 0) + d.Y*basis.At(1, 0) + d.Z*basis.At(2, 0),
			Y: d.X*basis.At(0, 1) + d.Y*basis.At(1, 1) + d.Z*basis.At(2, 1),
		}
	}
	H, err := EstimateHomography(planePts, problem.ImagePoints)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}

	init := problem.Initial
	aspect := init.Fy / init.Fx
	a2 := aspect * aspect
	hp := H.Dense()
	for j := 0; j < 3; j++ {
		hp.Set(0, j, H.At(0, j)-init.Ppx*H.At(2, j))
		hp.Set(1, j, H.At(1, j)-init.Ppy*H.At(2, j))
	}
	d1 := hp.At(0, 0)*hp.At(0, 1) + hp.At(1, 0)*hp.At(1, 1)/a2
	n1 := hp.At(2, 0) * hp.At(2, 1)
	d2 := hp.At(0, 0)*hp.At(0, 0) - hp.At(0, 1)*hp.At(0, 1) + (hp.At(1, 0)*hp.At(1, 0)-hp.At(1, 1)*hp.At(1, 1))/a2
	n2 := hp.At(2, 0)*hp.At(2, 0) - hp.At(2, 1)*hp.At(2, 1)
	f := init.Fx
	if den := d1*d1 + d2*d2; den > 0 {
		if invF2 := -(d1*n1 + d2*n2) / den; invF2 > 0 {
			f = 1 / math.Sqrt(invF2)
		}
	}

	K := PinholeCameraIntrinsics{Width: init.Width, Height: init.Height, Fx: f, Fy: f * aspect, Ppx: init.Ppx, Ppy: init.Ppy}
	kInv := K.GetInverseCameraMatrix()
	r1 := mulVec(kInv, r3.Vector{X: H.At(0, 0), Y: H.At(1, 0), Z: H.At(2, 0)})
	r2v := mulVec(kInv, r3.Vector{X: H.At(0, 1), Y: H.At(1, 1), Z: H.At(2, 1)})
	tp := mulVec(kInv, r3.Vector{X: H.At(0, 2), Y: H.At(1, 2), Z: H.At(2, 2)})
	norm := (r1.Norm() + r2v.Norm()) / 2
	if norm == 0 {
		return 0, nil, r3.Vector{}, errors.New("degenerate homography")
	}
	r1, r2v, tp = r1.Mul(1/norm), r2v.Mul(1/norm), tp.Mul(1/norm)
	if tp.Z < 0 {
		r1, r2v, tp = r1.Mul(-1), r2v.Mul(-1), tp.Mul(-1)
	}
	r3v := r1.Cross(r2v)
	planeRot := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	// camera <- plane <- object
	var R mat.Dense
	R.Mul(planeRot, basis.T())
	rot, err := nearestRotationMatrix(&R)
	if err != nil {
		return 0, nil, r3.Vector{}, err
	}
	t := tp.Sub(rot.Mul(centroid))
	return f, rot, t, nil
}

// normalizePoints3D centers the points and scales them to a mean distance of sqrt(3).
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense, error) {
	mu := r3.Vector{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / float64(len(pts)))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(len(pts))
	}
	if d == 0 {
		return nil, nil, errors.New("degenerate point set, all points coincide")
	}
	scale := math.Sqrt(3) / d
	U := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	})
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, U, nil
}

// rq3 factors a 3x3 matrix into an upper triangular matrix with a positive diagonal times an
// orthogonal matrix.
func rq3(m mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	J := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})
	var a mat.Dense
	a.Mul(J, m)
	var qr mat.QR
	qr.Factorize(a.T())
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)
	// m = (J Rᵀ J)(J Qᵀ)
	var K, R mat.Dense
	K.Mul(J, r.T())
	K.Mul(&K, J)
	R.Mul(J, q.T())
	for i := 0; i < 3; i++ {
		if K.At(i, i) == 0 {
			return nil, nil, errors.New("singular camera matrix")
		}
		if K.At(i, i) < 0 {
			for j := 0; j < 3; j++ {
				K.Set(j, i, -K.At(j, i))
				R.Set(i, j, -R.At(i, j))
			}
		}
	}
	return &K, &R, nil
}

func nearestRotationMatrix(m mat.Matrix) (*spatialmath.RotationMatrix, error) {
	rot, err := spatialmath.NearestRotation(m)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewRotationMatrixFromDense(rot)
}

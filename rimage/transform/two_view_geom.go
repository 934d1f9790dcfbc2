package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateEssentialMatrix computes the essential matrix from at least 8 correspondences given in
// normalized camera coordinates, such that pts2ᵀ E pts1 = 0. The points are normalized as described
// in Multiple View Geometry, Alg 11.1, and the singular values of the result are forced to (1, 1, 0).
func EstimateEssentialMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < 8 {
		return nil, errors.New("sets of points must have at least 8 elements")
	}
	points1, T1, err := normalizePoints(pts1)
	if err != nil {
		return nil, err
	}
	points2, T2, err := normalizePoints(pts2)
	if err != nil {
		return nil, err
	}

	m := mat.NewDense(len(points1), 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		row := []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		}
		m.SetRow(i, row)
	}
	nullVec, err := nullVector(m)
	if err != nil {
		return nil, err
	}
	E := mat.NewDense(3, 3, nullVec)

	// rescale E: T2^T @ E @ T1
	E.Mul(transposeDense(T2), E)
	E.Mul(E, T1)
	return enforceEssential(E)
}

// enforceEssential projects a 3x3 matrix onto the essential manifold.
func enforceEssential(m *mat.Dense) (*mat.Dense, error) {
	mats, err := performSVD(m)
	if err != nil {
		return nil, err
	}
	S := eye(3)
	S.Set(2, 2, 0)
	var E mat.Dense
	E.Mul(mats.U, S)
	E.Mul(&E, mats.VT)
	return &E, nil
}

// SampsonDistance is the first order approximation of the squared geometric reprojection error
// of the correspondence (p1, p2) with respect to the epipolar constraint p2ᵀ E p1 = 0.
func SampsonDistance(E mat.Matrix, p1, p2 r2.Point) float64 {
	x1 := r3.Vector{X: p1.X, Y: p1.Y, Z: 1}
	x2 := r3.Vector{X: p2.X, Y: p2.Y, Z: 1}
	ex1 := mulVec(E, x1)
	etx2 := mulVec(E.T(), x2)
	num := x2.Dot(ex1)
	den := ex1.X*ex1.X + ex1.Y*ex1.Y + etx2.X*etx2.X + etx2.Y*etx2.Y
	if den == 0 {
		return math.Inf(1)
	}
	return num * num / den
}

// DecomposeEssentialMatrix decomposes the Essential matrix into 2 possible 3D rotations and a 3D translation.
func DecomposeEssentialMatrix(essMat *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	mats, err := performSVD(essMat)
	if err != nil {
		return nil, nil, nil, err
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	W := mat.NewDense(3, 3, nil)
	W.Set(0, 1, -1)
	W.Set(1, 0, 1)
	W.Set(2, 2, 1)
	// UWV^T
	var R1, R2 mat.Dense
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, transposeDense(W))
	R2.Mul(&R2, mats.VT)
	U3 := mats.U.ColView(2)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	return &R1, &R2, t, nil
}

// helpers
// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, errors.New("degenerate point set, all points coincide")
	}
	scale := math.Sqrt(2) / d
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, nil
}

// nullVector returns the right singular vector of the smallest singular value of m.
func nullVector(m *mat.Dense) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFullV); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var V mat.Dense
	svd.VTo(&V)
	_, c := V.Dims()
	return mat.Col(nil, c-1, &V), nil
}

func mulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// mat.Dense utils.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))
	return &matsSVD{u, v, vt, sigma}, nil
}

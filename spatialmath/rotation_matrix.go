package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*row+col] is the element in the m-th row and n-th column.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates the rotation matrix from a 9 element slice in row major order.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var rm RotationMatrix
	copy(rm.mat[:], m)
	return &rm, nil
}

// NewRotationMatrixFromDense creates the rotation matrix from a 3x3 gonum matrix.
func NewRotationMatrixFromDense(m mat.Matrix) (*RotationMatrix, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation matrix must be 3x3, got %dx%d", r, c)
	}
	var rm RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm.mat[3*i+j] = m.At(i, j)
		}
	}
	return &rm, nil
}

// At returns the element at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[3*row+col]
}

// Row returns the a 3 element vector corresponding to the specified row.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Dense returns a copy of the rotation as a gonum dense matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, rm.mat[:])
	return mat.NewDense(3, 3, data)
}

// Mul applies the rotation to a vector.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// Quaternion returns the unit quaternion of the rotation.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m00, m01, m02 := rm.mat[0], rm.mat[1], rm.mat[2]
	m10, m11, m12 := rm.mat[3], rm.mat[4], rm.mat[5]
	m20, m21, m22 := rm.mat[6], rm.mat[7], rm.mat[8]
	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// AxisAngles returns the rotation in axis angle representation.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	return QuatToR4AA(rm.Quaternion())
}

// QuatToRotationMatrix converts a unit quaternion to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{[9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// IsRotation reports whether m is orthonormal with determinant +1 within tol.
func IsRotation(m mat.Matrix, tol float64) bool {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return false
	}
	var rrt mat.Dense
	rrt.Mul(m, m.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			if math.Abs(rrt.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return math.Abs(mat.Det(m)-1) <= tol
}

// NearestRotation projects a 3x3 matrix onto SO(3) using its singular value decomposition.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// flip the axis of the smallest singular value
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}

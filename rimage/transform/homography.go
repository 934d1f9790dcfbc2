package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) mapping the points of a plane seen
// by one camera to the points of the same plane in another view. Indices are [row][column].
type Homography [3][3]float64

// NewHomography builds a homography from its 9 values in row major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i, v := range vals {
		h[i/3][i%3] = v
	}
	return &h, nil
}

// At returns the value of the homography at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns a copy of the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, h[i][j])
		}
	}
	return out
}

// EstimateHomography fits H such that dst ~ H src with the normalized DLT. The result is
// scaled so that its bottom right value is 1 when it is not zero.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point counts differ: %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.New("a homography needs at least 4 points")
	}
	s, T1, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	d, T2, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}
	A := mat.NewDense(2*len(s), 9, nil)
	for i := range s {
		a, b := s[i].X, s[i].Y
		u, v := d[i].X, d[i].Y
		A.SetRow(2*i, []float64{-a, -b, -1, 0, 0, 0, u * a, u * b, u})
		A.SetRow(2*i+1, []float64{0, 0, 0, -a, -b, -1, v * a, v * b, v})
	}
	vals, err := nullVector(A)
	if err != nil {
		return nil, err
	}
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "cannot invert image normalization")
	}
	var H mat.Dense
	H.Mul(&t2Inv, mat.NewDense(3, 3, vals))
	H.Mul(&H, T1)
	if s := H.At(2, 2); s != 0 {
		H.Scale(1/s, &H)
	}
	return NewHomography(H.RawMatrix().Data)
}

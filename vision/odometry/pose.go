package odometry

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/monovo/spatialmath"
)

// Pose is a rigid motion X' = Rotation·X + Translation, with a 3×3 rotation and a 3×1 translation.
type Pose struct {
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// IdentityPose returns the pose that does not move anything.
func IdentityPose() Pose {
	return Pose{
		Rotation:    mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		Translation: mat.NewDense(3, 1, nil),
	}
}

// NewPose copies rotation and translation into a new pose after checking their shapes.
func NewPose(rotation, translation mat.Matrix) (Pose, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return Pose{}, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	if r, c := translation.Dims(); r != 3 || c != 1 {
		return Pose{}, errors.Errorf("translation must be 3x1, got %dx%d", r, c)
	}
	return Pose{
		Rotation:    mat.DenseCopyOf(rotation),
		Translation: mat.DenseCopyOf(translation),
	}, nil
}

// Clone returns a deep copy of the pose.
func (p Pose) Clone() Pose {
	return Pose{
		Rotation:    mat.DenseCopyOf(p.Rotation),
		Translation: mat.DenseCopyOf(p.Translation),
	}
}

// Compose chains p after prev: (R·R_prev, R·t_prev + t).
func (p Pose) Compose(prev Pose) Pose {
	var rot, tr mat.Dense
	rot.Mul(p.Rotation, prev.Rotation)
	tr.Mul(p.Rotation, prev.Translation)
	tr.Add(&tr, p.Translation)
	return Pose{Rotation: &rot, Translation: &tr}
}

// Position returns the translation as a vector.
func (p Pose) Position() r3.Vector {
	return r3.Vector{X: p.Translation.At(0, 0), Y: p.Translation.At(1, 0), Z: p.Translation.At(2, 0)}
}

// Orientation returns the rotation as a unit quaternion.
func (p Pose) Orientation() (quat.Number, error) {
	rm, err := spatialmath.NewRotationMatrixFromDense(p.Rotation)
	if err != nil {
		return quat.Number{}, err
	}
	return rm.Quaternion(), nil
}

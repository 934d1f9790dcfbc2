package odometry

import (
	"github.com/golang/geo/r3"
)

// Trajectory accumulates relative poses into absolute poses. It starts at the origin; after
// appending N-1 relative poses it holds N points.
type Trajectory struct {
	points   []r3.Vector
	relative []Pose
	absolute []Pose
}

// NewTrajectory returns a trajectory holding only the origin.
func NewTrajectory() *Trajectory {
	return &Trajectory{points: []r3.Vector{{}}}
}

// Append folds the relative pose of the next frame pair and returns the new absolute pose.
func (t *Trajectory) Append(rel Pose) Pose {
	rel = rel.Clone()
	abs := rel.Clone()
	if n := len(t.absolute); n > 0 {
		abs = rel.Compose(t.absolute[n-1])
	}
	t.relative = append(t.relative, rel)
	t.absolute = append(t.absolute, abs)
	t.points = append(t.points, abs.Position())
	return abs.Clone()
}

// Len returns the number of trajectory points.
func (t *Trajectory) Len() int {
	return len(t.points)
}

// Result returns a snapshot of the trajectory that later appends do not change.
func (t *Trajectory) Result() *Result {
	res := &Result{
		Trajectory:    append([]r3.Vector(nil), t.points...),
		RelativePoses: make([]Pose, len(t.relative)),
		AbsolutePoses: make([]Pose, len(t.absolute)),
	}
	for i := range t.relative {
		res.RelativePoses[i] = t.relative[i].Clone()
		res.AbsolutePoses[i] = t.absolute[i].Clone()
	}
	return res
}

// Result is the outcome of a run. RelativePoses[i] maps frame i+1 into frame i and
// AbsolutePoses[i] is the accumulated pose of frame i+1; frame 0 has the identity pose.
type Result struct {
	Trajectory    []r3.Vector
	RelativePoses []Pose
	AbsolutePoses []Pose
}

// AbsolutePose returns the accumulated pose of frame i.
func (r *Result) AbsolutePose(i int) Pose {
	if i == 0 {
		return IdentityPose()
	}
	return r.AbsolutePoses[i-1]
}

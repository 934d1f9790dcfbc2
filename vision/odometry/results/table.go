package results

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/monovo/spatialmath"
	"go.viam.com/monovo/vision/odometry"
)

// SummaryTable prints one row per frame with its position and the angle of its rotation.
func SummaryTable(res *odometry.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Frame", "X", "Y", "Z", "Rotation (deg)"})
	for i, p := range res.Trajectory {
		angle := "-"
		if q, err := res.AbsolutePose(i).Orientation(); err == nil {
			angle = fmt.Sprintf("%.3f", spatialmath.QuatToR4AA(q).Theta*180/math.Pi)
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("Image-%d", i+1),
			fmt.Sprintf("%.4f", p.X),
			fmt.Sprintf("%.4f", p.Y),
			fmt.Sprintf("%.4f", p.Z),
			angle,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "path length", fmt.Sprintf("%.4f", pathLength(res))})
	return t.Render()
}

func pathLength(res *odometry.Result) float64 {
	steps := make([]float64, 0, len(res.Trajectory))
	for i := 1; i < len(res.Trajectory); i++ {
		steps = append(steps, res.Trajectory[i].Sub(res.Trajectory[i-1]).Norm())
	}
	return floats.Sum(steps)
}

package results

import (
	"fmt"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotProjection plots two coordinates of the points as a line labeled title, with one marker
// per point labeled after its frame, and saves the figure as a png.
func (s *Sink) PlotProjection(points []r3.Vector, axis1, axis2 int, title, xLabel, yLabel, filename string) error {
	if axis1 < 0 || axis1 > 2 || axis2 < 0 || axis2 > 2 {
		return errors.Errorf("axes must be 0, 1 or 2, got %d and %d", axis1, axis2)
	}
	if len(points) == 0 {
		return errors.New("no points to plot")
	}
	xys := make(plotter.XYs, len(points))
	for i, p := range points {
		xys[i] = plotter.XY{X: component(p, axis1), Y: component(p, axis2)}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrapf(err, "cannot plot %q", title)
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(title, line)

	for i, xy := range xys {
		sc, err := plotter.NewScatter(plotter.XYs{xy})
		if err != nil {
			return errors.Wrapf(err, "cannot plot %q", title)
		}
		sc.GlyphStyle.Color = plotutil.Color(i + 1)
		sc.GlyphStyle.Shape = plotutil.Shape(i)
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("Image-%d", i+1), sc)
	}
	p.Legend.Top = true

	return p.Save(6*vg.Inch, 4.5*vg.Inch, filepath.Join(s.dir, filename))
}

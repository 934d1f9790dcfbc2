package keypoints

import (
	"fmt"
	"image"
	"image/color"

	"go.viam.com/monovo/rimage"
)

// PlotMatches draws the reference image on the left and the current image on the right with a
// line joining every matched pair of keypoints, and saves the result as a png.
func PlotMatches(refImg, curImg image.Image, ref, cur KeyPoints, matches []Match, outName string) error {
	dc := rimage.SideBySide(refImg, curImg)
	offset := float64(refImg.Bounds().Dx())

	dc.SetLineWidth(1)
	for i, m := range matches {
		if m.RefIdx >= len(ref) || m.CurIdx >= len(cur) {
			return fmt.Errorf("match %d is out of range", i)
		}
		p0 := ref[m.RefIdx].Point
		p1 := cur[m.CurIdx].Point
		dc.SetRGBA(0, 1, 0, 0.6)
		dc.DrawLine(p0.X, p0.Y, p1.X+offset, p1.Y)
		dc.Stroke()
		dc.SetRGBA(1, 0, 0, 0.8)
		dc.DrawCircle(p0.X, p0.Y, 2)
		dc.DrawCircle(p1.X+offset, p1.Y, 2)
		dc.Fill()
	}
	rimage.DrawString(dc, fmt.Sprintf("%d matches", len(matches)), image.Point{10, 10}, color.RGBA{255, 255, 0, 255}, 18)
	return dc.SavePNG(outName)
}

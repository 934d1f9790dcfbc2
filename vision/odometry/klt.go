package odometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/monovo/rimage"
)

// floatImage is a gray image with intensities in [0, 1].
type floatImage struct {
	w, h int
	pix  []float64
}

func newFloatImage(img *image.Gray) *floatImage {
	bnd := img.Bounds()
	f := &floatImage{w: bnd.Dx(), h: bnd.Dy(), pix: make([]float64, bnd.Dx()*bnd.Dy())}
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			f.pix[y*f.w+x] = float64(img.GrayAt(bnd.Min.X+x, bnd.Min.Y+y).Y) / 255
		}
	}
	return f
}

// at returns the pixel value, clamping coordinates to the image.
func (f *floatImage) at(x, y int) float64 {
	x = min(max(x, 0), f.w-1)
	y = min(max(y, 0), f.h-1)
	return f.pix[y*f.w+x]
}

// sample interpolates bilinearly.
func (f *floatImage) sample(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	ax, ay := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	top := (1-ax)*f.at(ix, iy) + ax*f.at(ix+1, iy)
	bottom := (1-ax)*f.at(ix, iy+1) + ax*f.at(ix+1, iy+1)
	return (1-ay)*top + ay*bottom
}

// gradients returns the central differences of f along x and y.
func (f *floatImage) gradients() (*floatImage, *floatImage) {
	gx := &floatImage{w: f.w, h: f.h, pix: make([]float64, len(f.pix))}
	gy := &floatImage{w: f.w, h: f.h, pix: make([]float64, len(f.pix))}
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			gx.pix[y*f.w+x] = (f.at(x+1, y) - f.at(x-1, y)) / 2
			gy.pix[y*f.w+x] = (f.at(x, y+1) - f.at(x, y-1)) / 2
		}
	}
	return gx, gy
}

type lkLevel struct {
	prev, next *floatImage
	gx, gy     *floatImage
	scale      float64
}

// LucasKanade is a pyramidal Lucas-Kanade point tracker.
type LucasKanade struct {
	cfg *FlowConfig
}

// NewLucasKanade returns a tracker using the window, pyramid and stopping settings of cfg.
func NewLucasKanade(cfg *FlowConfig) *LucasKanade {
	return &LucasKanade{cfg: cfg}
}

// Track follows every point of prev into next, from the coarsest pyramid level to the finest.
func (lk *LucasKanade) Track(prev, next *image.Gray, pts []r2.Point) ([]r2.Point, []bool, error) {
	if !rimage.SameImgSize(prev, next) {
		return nil, nil, errors.Errorf("images have different sizes %v and %v", prev.Bounds(), next.Bounds())
	}
	prevPyr, err := rimage.GetImagePyramid(rimage.MakeGray(prev), lk.cfg.Levels, 2, lk.cfg.WindowSize)
	if err != nil {
		return nil, nil, err
	}
	nextPyr, err := rimage.GetImagePyramid(rimage.MakeGray(next), len(prevPyr.Images), 2, lk.cfg.WindowSize)
	if err != nil {
		return nil, nil, err
	}
	levels := make([]lkLevel, len(prevPyr.Images))
	for i := range levels {
		p := newFloatImage(prevPyr.Images[i])
		gx, gy := p.gradients()
		levels[i] = lkLevel{
			prev:  p,
			next:  newFloatImage(nextPyr.Images[i]),
			gx:    gx,
			gy:    gy,
			scale: prevPyr.Scales[i],
		}
	}

	w, h := float64(prev.Bounds().Dx()), float64(prev.Bounds().Dy())
	tracked := make([]r2.Point, len(pts))
	status := make([]bool, len(pts))
	for i, p := range pts {
		d, ok := lk.trackPoint(levels, p)
		q := p.Add(d)
		tracked[i] = q
		status[i] = ok && q.X >= 0 && q.Y >= 0 && q.X <= w-1 && q.Y <= h-1
	}
	return tracked, status, nil
}

// trackPoint returns the displacement of p, in full resolution pixels.
func (lk *LucasKanade) trackPoint(levels []lkLevel, p r2.Point) (r2.Point, bool) {
	half := lk.cfg.WindowSize / 2
	n := (2*half + 1) * (2*half + 1)
	ix := make([]float64, n)
	iy := make([]float64, n)
	iv := make([]float64, n)

	var guess r2.Point
	for l := len(levels) - 1; l >= 0; l-- {
		lvl := levels[l]
		pl := p.Mul(1 / lvl.scale)

		var gxx, gxy, gyy float64
		k := 0
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				x, y := pl.X+float64(dx), pl.Y+float64(dy)
				ix[k] = lvl.gx.sample(x, y)
				iy[k] = lvl.gy.sample(x, y)
				iv[k] = lvl.prev.sample(x, y)
				gxx += ix[k] * ix[k]
				gxy += ix[k] * iy[k]
				gyy += iy[k] * iy[k]
				k++
			}
		}
		det := gxx*gyy - gxy*gxy
		minEig := (gxx + gyy - math.Sqrt((gxx-gyy)*(gxx-gyy)+4*gxy*gxy)) / 2 / float64(n)
		if minEig < lk.cfg.MinEigenThreshold || det < 1e-12 {
			return r2.Point{}, false
		}

		var v r2.Point
		for it := 0; it < lk.cfg.MaxIterations; it++ {
			var bx, by float64
			k = 0
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					x := pl.X + float64(dx) + guess.X + v.X
					y := pl.Y + float64(dy) + guess.Y + v.Y
					diff := iv[k] - lvl.next.sample(x, y)
					bx += diff * ix[k]
					by += diff * iy[k]
					k++
				}
			}
			eta := r2.Point{X: (gyy*bx - gxy*by) / det, Y: (gxx*by - gxy*bx) / det}
			v = v.Add(eta)
			if eta.Norm() < lk.cfg.Epsilon {
				break
			}
		}
		if math.IsNaN(v.X) || math.IsNaN(v.Y) {
			return r2.Point{}, false
		}
		if l > 0 {
			guess = guess.Add(v).Mul(lvl.scale / levels[l-1].scale)
		} else {
			guess = guess.Add(v)
		}
	}
	return guess, true
}

package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// SideBySide places two images next to each other on a new drawing context, with the second
// image offset to the right of the first.
func SideBySide(left, right image.Image) *gg.Context {
	lb, rb := left.Bounds(), right.Bounds()
	h := lb.Dy()
	if rb.Dy() > h {
		h = rb.Dy()
	}
	dc := gg.NewContext(lb.Dx()+rb.Dx(), h)
	dc.DrawImage(left, 0, 0)
	dc.DrawImage(right, lb.Dx(), 0)
	return dc
}

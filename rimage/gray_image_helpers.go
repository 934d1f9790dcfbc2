package rimage

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// MakeGray converts any image to an image.Gray whose bounds start at the origin.
func MakeGray(pic image.Image) *image.Gray {
	if g, ok := pic.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	result := image.NewGray(image.Rect(0, 0, pic.Bounds().Dx(), pic.Bounds().Dy()))
	draw.Draw(result, result.Bounds(), pic, pic.Bounds().Min, draw.Src)
	return result
}

// BlurGray smooths a gray image with a gaussian of the given sigma.
func BlurGray(img *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return img
	}
	return MakeGray(imaging.Blur(img, sigma))
}

// ImagePyramid contains the successively downscaled versions of an image and the scale of
// each level relative to the original (level 0 has scale 1).
type ImagePyramid struct {
	Images []*image.Gray
	Scales []float64
}

// GetImagePyramid builds an image pyramid of at most nLevels, each level downscaled by factor.
// Building stops early when a level would be smaller than minSize pixels on a side.
func GetImagePyramid(img *image.Gray, nLevels int, factor float64, minSize int) (*ImagePyramid, error) {
	if nLevels < 1 {
		return nil, errors.New("image pyramid needs at least one level")
	}
	if factor <= 1 {
		return nil, errors.Errorf("downscale factor must be greater than 1, got %v", factor)
	}
	pyramid := &ImagePyramid{
		Images: []*image.Gray{img},
		Scales: []float64{1},
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for i := 1; i < nLevels; i++ {
		scale := math.Pow(factor, float64(i))
		newW := int(math.Round(float64(w) / scale))
		newH := int(math.Round(float64(h) / scale))
		if newW < minSize || newH < minSize {
			break
		}
		resized := imaging.Resize(img, newW, newH, imaging.Linear)
		pyramid.Images = append(pyramid.Images, MakeGray(resized))
		pyramid.Scales = append(pyramid.Scales, scale)
	}
	return pyramid, nil
}

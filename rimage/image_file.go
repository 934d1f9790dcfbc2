// Package rimage holds the image helpers used to feed frames into the pose estimators.
package rimage

import (
	"bufio"
	"image"
	// register the standard library decoders.
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	"github.com/samber/lo"
	_ "github.com/xfmoulet/qoi" // register qoi
	"go.viam.com/utils"
	_ "golang.org/x/image/bmp"  // register bmp
	_ "golang.org/x/image/tiff" // register tiff
	_ "golang.org/x/image/webp" // register webp
)

// SupportedExtensions are the file extensions recognized as frames.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".ppm", ".qoi"}

// IsImageFile reports whether the file name has an image extension we can decode.
func IsImageFile(fn string) bool {
	return lo.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(fn)))
}

// ReadImageFromFile extracts the image from a file, whatever its registered format.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %q", path)
	}
	return img, nil
}

// WriteImageToFile writes the image as a png file.
func WriteImageToFile(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(f, img)
}

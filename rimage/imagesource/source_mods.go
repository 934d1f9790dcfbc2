package imagesource

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/monovo/rimage"
)

// StaticSource serves frames that are already in memory.
type StaticSource struct {
	Images []image.Image
}

// Frames returns one frame per image, named by position.
func (ss *StaticSource) Frames() []Frame {
	frames := make([]Frame, len(ss.Images))
	for i := range ss.Images {
		frames[i] = Frame{Index: i, Name: fmt.Sprintf("%06d", i)}
	}
	return frames
}

// Read returns the image at index.
func (ss *StaticSource) Read(ctx context.Context, index int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ss.Images) {
		return nil, errors.Wrapf(ErrFrameNotFound, "index %d of %d frames", index, len(ss.Images))
	}
	return ss.Images[index], nil
}

// Close does nothing.
func (ss *StaticSource) Close() error {
	return nil
}

// GraySource converts every frame of the underlying source to gray and optionally blurs it.
type GraySource struct {
	Original Source
	Sigma    float64
}

// Frames returns the frames of the underlying source.
func (gs *GraySource) Frames() []Frame {
	return gs.Original.Frames()
}

// Read decodes the frame and returns its gray version.
func (gs *GraySource) Read(ctx context.Context, index int) (image.Image, error) {
	img, err := gs.Original.Read(ctx, index)
	if err != nil {
		return nil, err
	}
	return rimage.BlurGray(rimage.MakeGray(img), gs.Sigma), nil
}

// Close closes the underlying source.
func (gs *GraySource) Close() error {
	return gs.Original.Close()
}

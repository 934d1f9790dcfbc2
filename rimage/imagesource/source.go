// Package imagesource provides ordered access to the frames of an image sequence.
package imagesource

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/monovo/rimage"
)

var (
	// ErrFrameNotFound is returned when a frame index or name is not part of the source.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrFrameDecode is returned when a frame exists but cannot be decoded as an image.
	ErrFrameDecode = errors.New("frame could not be decoded")
	// ErrNoFrames is returned when a directory holds no decodable frames.
	ErrNoFrames = errors.New("no image frames found")
)

// Frame identifies one image of a sequence. Index is the position in the ordered sequence.
type Frame struct {
	Index int
	Name  string
}

// Source is an ordered, randomly accessible sequence of frames.
type Source interface {
	Frames() []Frame
	Read(ctx context.Context, index int) (image.Image, error)
	Close() error
}

// ListFrames returns the image files of dir ordered by name. Directories and files without a
// supported image extension are skipped.
func ListFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list frames in %q", dir)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && rimage.IsImageFile(e.Name())
	})
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNoFrames, "in %q", dir)
	}
	sort.Strings(names)
	return lo.Map(names, func(name string, i int) Frame {
		return Frame{Index: i, Name: name}
	}), nil
}

// DirSource reads frames from a directory of image files.
type DirSource struct {
	dir    string
	frames []Frame
}

// NewDirSource lists dir and returns a source over its frames.
func NewDirSource(dir string) (*DirSource, error) {
	frames, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	return &DirSource{dir: dir, frames: frames}, nil
}

// Dir returns the directory the frames are read from.
func (ds *DirSource) Dir() string {
	return ds.dir
}

// Frames returns the ordered frames of the source.
func (ds *DirSource) Frames() []Frame {
	return append([]Frame(nil), ds.frames...)
}

// Read decodes the frame at index.
func (ds *DirSource) Read(ctx context.Context, index int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ds.frames) {
		return nil, errors.Wrapf(ErrFrameNotFound, "index %d of %d frames", index, len(ds.frames))
	}
	fn := filepath.Join(ds.dir, ds.frames[index].Name)
	if _, err := os.Stat(fn); err != nil {
		return nil, errors.Wrapf(ErrFrameNotFound, "%q: %v", fn, err)
	}
	img, err := rimage.ReadImageFromFile(fn)
	if err != nil {
		return nil, errors.Wrapf(ErrFrameDecode, "%v", err)
	}
	return img, nil
}

// Close releases the source.
func (ds *DirSource) Close() error {
	return nil
}

// Package groundtruth loads the known 3D points of the calibration target and their observed
// pixels in the first frame.
package groundtruth

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sbinet/npyio/npy"
	"go.viam.com/utils"
)

const (
	// ImageFile holds the observed pixels, N×2.
	ImageFile = "vr2d.npy"
	// ObjectFile holds the 3D points of the target, N×3.
	ObjectFile = "vr3d.npy"
	// JSONFile holds both sets when numpy files are not available.
	JSONFile = "points.json"
)

// ErrNoGroundTruth is returned when a directory holds neither the numpy nor the json points.
var ErrNoGroundTruth = errors.New("no calibration points found")

// Points is a single view of N correspondences between object and image points.
type Points struct {
	Image  []r2.Point
	Object []r3.Vector
}

// Len returns the number of correspondences.
func (p *Points) Len() int {
	return len(p.Image)
}

// Validate checks that both sets pair up and hold finite values.
func (p *Points) Validate() error {
	if len(p.Image) == 0 {
		return errors.New("no calibration points")
	}
	if len(p.Image) != len(p.Object) {
		return errors.Errorf("%d image points but %d object points", len(p.Image), len(p.Object))
	}
	for i, pt := range p.Image {
		if !finite(pt.X, pt.Y) {
			return errors.Errorf("image point %d is not finite", i)
		}
	}
	for i, pt := range p.Object {
		if !finite(pt.X, pt.Y, pt.Z) {
			return errors.Errorf("object point %d is not finite", i)
		}
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Load reads the points of dir, preferring the numpy files over the json file.
func Load(dir string) (*Points, error) {
	imgPath := filepath.Join(dir, ImageFile)
	objPath := filepath.Join(dir, ObjectFile)
	if exists(imgPath) && exists(objPath) {
		return LoadNPY(imgPath, objPath)
	}
	jsonPath := filepath.Join(dir, JSONFile)
	if exists(jsonPath) {
		return LoadJSON(jsonPath)
	}
	return nil, errors.Wrapf(ErrNoGroundTruth, "in %q", dir)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// LoadNPY reads the image and object points from numpy files. Any shape is accepted as long
// as it flattens to N rows of 2 (image) and 3 (object) values.
func LoadNPY(imagePath, objectPath string) (*Points, error) {
	imgVals, err := readNPY(imagePath, 2)
	if err != nil {
		return nil, err
	}
	objVals, err := readNPY(objectPath, 3)
	if err != nil {
		return nil, err
	}
	pts := &Points{
		Image: lo.Map(lo.Chunk(imgVals, 2), func(v []float64, _ int) r2.Point {
			return r2.Point{X: v[0], Y: v[1]}
		}),
		Object: lo.Map(lo.Chunk(objVals, 3), func(v []float64, _ int) r3.Vector {
			return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
		}),
	}
	if err := pts.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid points in %q and %q", imagePath, objectPath)
	}
	return pts, nil
}

// readNPY returns the values of a float32 or float64 numpy array whose size is a multiple of dims.
func readNPY(path string, dims int) ([]float64, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	r, err := npy.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read numpy header of %q", path)
	}
	size := 1
	for _, d := range r.Header.Descr.Shape {
		size *= d
	}
	if size == 0 || size%dims != 0 {
		return nil, errors.Errorf("%q has shape %v, expected rows of %d values", path, r.Header.Descr.Shape, dims)
	}

	switch r.Header.Descr.Type {
	case "<f8", "f8", "float64":
		vals := make([]float64, size)
		if err := r.Read(&vals); err != nil {
			return nil, errors.Wrapf(err, "cannot read %q", path)
		}
		return vals, nil
	case "<f4", "f4", "float32":
		vals := make([]float32, size)
		if err := r.Read(&vals); err != nil {
			return nil, errors.Wrapf(err, "cannot read %q", path)
		}
		return lo.Map(vals, func(v float32, _ int) float64 { return float64(v) }), nil
	default:
		return nil, errors.Errorf("%q has unsupported dtype %q", path, r.Header.Descr.Type)
	}
}

type jsonPoints struct {
	Image  [][]float64 `json:"image_points"`
	Object [][]float64 `json:"object_points"`
}

// LoadJSON reads points stored as {"image_points": [[x, y], ...], "object_points": [[x, y, z], ...]}.
func LoadJSON(path string) (*Points, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw jsonPoints
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	pts := &Points{}
	for i, v := range raw.Image {
		if len(v) != 2 {
			return nil, errors.Errorf("image point %d of %q has %d values", i, path, len(v))
		}
		pts.Image = append(pts.Image, r2.Point{X: v[0], Y: v[1]})
	}
	for i, v := range raw.Object {
		if len(v) != 3 {
			return nil, errors.Errorf("object point %d of %q has %d values", i, path, len(v))
		}
		pts.Object = append(pts.Object, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	}
	if err := pts.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid points in %q", path)
	}
	return pts, nil
}

// WriteJSON stores the points in the format read by LoadJSON.
func WriteJSON(path string, pts *Points) error {
	raw := jsonPoints{
		Image: lo.Map(pts.Image, func(p r2.Point, _ int) []float64 { return []float64{p.X, p.Y} }),
		Object: lo.Map(pts.Object, func(p r3.Vector, _ int) []float64 {
			return []float64{p.X, p.Y, p.Z}
		}),
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

package keypoints

import (
	"encoding/json"
	"image"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/stat/distuv"

	"go.viam.com/monovo/rimage"
)

// SamplingType stores 0 if a sampling of image points for BRIEF is uniform, 1 if gaussian.
type SamplingType int

const (
	uniform SamplingType = iota // 0
	normal                      // 1
	fixed                       // 2
)

// briefBlurSigma is the smoothing applied before comparing pixel pairs.
const briefBlurSigma = 2.0

// SamplePairs are N pairs of points used to create the BRIEF Descriptors of a patch.
type SamplePairs struct {
	P0 []image.Point
	P1 []image.Point
	N  int
}

// GenerateSamplePairs generates n samples for a patch size with the chosen Sampling Type. The
// same seed always gives the same pairs, which is what makes descriptors of two images comparable.
func GenerateSamplePairs(dist SamplingType, n, patchSize int, seed uint64) *SamplePairs {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	var xs0, ys0, xs1, ys1 []int
	if dist == fixed {
		xs0 = sampleIntegers(patchSize, n, dist, src)
		ys0 = sampleIntegers(patchSize, n, dist, src)
		xs1 = sampleIntegers(patchSize, n, dist, src)
		ys1 = make([]int, n)
		for i := 0; i < n; i++ {
			// mirror every other pair so that the pattern is not a set of parallel segments
			ys1[i] = -ys0[(i*7+3)%n]
			if i%2 == 0 {
				xs0[i] = 2 * xs0[i] / 3
				xs1[i] = -2 * xs1[(i*5+1)%n] / 3
			}
		}
	} else {
		xs0 = sampleIntegers(patchSize, n, dist, src)
		ys0 = sampleIntegers(patchSize, n, dist, src)
		xs1 = sampleIntegers(patchSize, n, dist, src)
		ys1 = sampleIntegers(patchSize, n, dist, src)
	}
	p0 := make([]image.Point, 0, n)
	p1 := make([]image.Point, 0, n)
	for i := 0; i < n; i++ {
		p0 = append(p0, image.Point{X: xs0[i], Y: ys0[i]})
		p1 = append(p1, image.Point{X: xs1[i], Y: ys1[i]})
	}
	return &SamplePairs{P0: p0, P1: p1, N: n}
}

func sampleIntegers(patchSize, n int, sampling SamplingType, src rand.Source) []int {
	vMin := math.Round(-(float64(patchSize) - 2) / 2.)
	vMax := math.Round(float64(patchSize) / 2.)
	out := make([]int, n)
	switch sampling {
	case normal:
		d := distuv.Normal{Mu: 0, Sigma: float64(patchSize) / 5, Src: src}
		for i := range out {
			out[i] = int(math.Round(math.Max(vMin, math.Min(vMax, d.Rand()))))
		}
	case fixed:
		step := (vMax - vMin) / float64(n)
		for i := range out {
			out[i] = int(math.Round(vMin + float64((i*37)%n)*step))
		}
	case uniform:
		fallthrough
	default:
		d := distuv.Uniform{Min: vMin, Max: vMax, Src: src}
		for i := range out {
			out[i] = int(math.Round(d.Rand()))
		}
	}
	return out
}

// BRIEFConfig stores the parameters.
type BRIEFConfig struct {
	N              int          `json:"n"` // number of samples taken
	Sampling       SamplingType `json:"sampling"`
	UseOrientation bool         `json:"use_orientation"`
	PatchSize      int          `json:"patch_size"`
	Seed           uint64       `json:"seed"`
}

// DefaultBRIEFConfig returns the BRIEF parameters used by the ORB extractor.
func DefaultBRIEFConfig() *BRIEFConfig {
	return &BRIEFConfig{N: 256, Sampling: normal, UseOrientation: true, PatchSize: 31, Seed: 42}
}

// Validate ensures all parts of the BRIEFConfig are valid.
func (config *BRIEFConfig) Validate(path string) error {
	if config.N < 1 {
		return utils.NewConfigValidationError(path, errors.New("n should be >= 1"))
	}
	if config.PatchSize < 3 {
		return utils.NewConfigValidationError(path, errors.New("patch_size should be >= 3"))
	}
	if config.Sampling < uniform || config.Sampling > fixed {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown sampling %d", config.Sampling))
	}
	return nil
}

// LoadBRIEFConfiguration loads a BRIEFConfig from a json file.
func LoadBRIEFConfiguration(file string) (*BRIEFConfig, error) {
	var config BRIEFConfig
	//nolint:gosec
	configFile, err := os.Open(filepath.Clean(file))
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", file)
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

// ComputeBRIEFDescriptors computes BRIEF descriptors on image img at keypoints kps. Each bit of
// the descriptor is stored as a 0 or 1 float so that the L2 distance between two descriptors is
// the square root of their Hamming distance. Keypoints whose patch does not fit in the image get
// no descriptor; the returned indices list the keypoints that were described, in order.
func ComputeBRIEFDescriptors(img *image.Gray, sp *SamplePairs, kps *FASTKeypoints, cfg *BRIEFConfig) ([]Descriptor, []int, error) {
	if sp == nil || sp.N != len(sp.P0) || sp.N != len(sp.P1) {
		return nil, nil, errors.New("invalid BRIEF sample pairs")
	}
	blurred := rimage.BlurGray(img, briefBlurSigma)
	bnd := blurred.Bounds()
	// rotated samples stay within the circle circumscribing the patch
	radius := int(math.Ceil(float64(cfg.PatchSize) / 2 * math.Sqrt2))
	inner := image.Rect(bnd.Min.X+radius, bnd.Min.Y+radius, bnd.Max.X-radius, bnd.Max.Y-radius)

	descs := make([]Descriptor, 0, len(kps.Points))
	kept := make([]int, 0, len(kps.Points))
	for k, kp := range kps.Points {
		if !kp.In(inner) {
			continue
		}
		cosTheta := 1.0
		sinTheta := 0.0
		// if use orientation and keypoints are oriented, compute rotation matrix
		if cfg.UseOrientation && kps.IsOriented() {
			angle := kps.Orientations[k]
			cosTheta = math.Cos(angle)
			sinTheta = math.Sin(angle)
		}
		descriptor := make(Descriptor, sp.N)
		for i := 0; i < sp.N; i++ {
			x0, y0 := float64(sp.P0[i].X), float64(sp.P0[i].Y)
			x1, y1 := float64(sp.P1[i].X), float64(sp.P1[i].Y)
			// compute rotated sampled coordinates (Identity matrix if no orientation s)
			outx0 := int(math.Round(cosTheta*x0 - sinTheta*y0))
			outy0 := int(math.Round(sinTheta*x0 + cosTheta*y0))
			outx1 := int(math.Round(cosTheta*x1 - sinTheta*y1))
			outy1 := int(math.Round(sinTheta*x1 + cosTheta*y1))
			p0Val := blurred.GrayAt(kp.X+outx0, kp.Y+outy0).Y
			p1Val := blurred.GrayAt(kp.X+outx1, kp.Y+outy1).Y
			if p0Val > p1Val {
				descriptor[i] = 1
			}
		}
		descs = append(descs, descriptor)
		kept = append(kept, k)
	}
	return descs, kept, nil
}

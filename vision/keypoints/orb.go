package keypoints

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/monovo/rimage"
)

// ORBConfig contains the parameters / configs needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor float64      `json:"downscale_factor"`
	MaxFeatures     int          `json:"max_features"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// minPyramidSize is the smallest image side a pyramid level may have.
const minPyramidSize = 32

// DefaultORBConfig returns the configuration of the default feature extractor.
func DefaultORBConfig() *ORBConfig {
	return &ORBConfig{
		Layers:          4,
		DownscaleFactor: 1.5,
		MaxFeatures:     2000,
		FastConf:        DefaultFASTConfig(),
		BRIEFConf:       DefaultBRIEFConfig(),
	}
}

// LoadORBConfiguration loads a ORBConfig from a json file.
func LoadORBConfiguration(file string) (*ORBConfig, error) {
	var config ORBConfig
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

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate(path string) error {
	if config.Layers < 1 {
		return utils.NewConfigValidationError(path, errors.New("n_layers should be >= 1"))
	}
	if config.DownscaleFactor <= 1 {
		return utils.NewConfigValidationError(path, errors.New("downscale_factor should be greater than 1"))
	}
	if config.MaxFeatures < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_features should be >= 0"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	if config.BRIEFConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "brief")
	}
	if err := config.FastConf.Validate(path + ".fast"); err != nil {
		return err
	}
	return config.BRIEFConf.Validate(path + ".brief")
}

// ComputeORBKeypoints computes ORB features on a gray image: FAST corners detected on every level
// of an image pyramid, described with oriented BRIEF. Keypoints are expressed in the coordinates
// of the full resolution image.
func ComputeORBKeypoints(im *image.Gray, sp *SamplePairs, cfg *ORBConfig) (*Features, error) {
	pyramid, err := rimage.GetImagePyramid(im, cfg.Layers, cfg.DownscaleFactor, minPyramidSize)
	if err != nil {
		return nil, err
	}
	features := &Features{}
	for i, currentImage := range pyramid.Images {
		currentScale := pyramid.Scales[i]
		fastKps := NewFASTKeypointsFromImage(currentImage, cfg.FastConf)
		descs, kept, err := ComputeBRIEFDescriptors(currentImage, sp, fastKps, cfg.BRIEFConf)
		if err != nil {
			return nil, err
		}
		levelKps := fastKps.KeyPoints(currentScale)
		for j, idx := range kept {
			features.KeyPoints = append(features.KeyPoints, levelKps[idx])
			features.Descriptors = append(features.Descriptors, descs[j])
		}
	}
	if cfg.MaxFeatures > 0 && features.Len() > cfg.MaxFeatures {
		features = strongest(features, cfg.MaxFeatures)
	}
	return features, nil
}

// strongest keeps the n features of highest response, in their original order.
func strongest(f *Features, n int) *Features {
	order := argsortResponses(f.KeyPoints)
	keep := make([]bool, f.Len())
	for _, idx := range order[:n] {
		keep[idx] = true
	}
	out := &Features{
		KeyPoints:   make(KeyPoints, 0, n),
		Descriptors: make([]Descriptor, 0, n),
	}
	for i, k := range keep {
		if k {
			out.KeyPoints = append(out.KeyPoints, f.KeyPoints[i])
			out.Descriptors = append(out.Descriptors, f.Descriptors[i])
		}
	}
	return out
}

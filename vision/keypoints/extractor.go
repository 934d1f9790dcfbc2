package keypoints

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/monovo/rimage"
)

// DefaultExtractor is the name of the extractor used when none is configured.
const DefaultExtractor = "orb"

// ErrFeatureExtraction is returned when an extractor fails on an image.
var ErrFeatureExtraction = errors.New("feature extraction failed")

// Extractor detects keypoints in an image and describes them.
type Extractor interface {
	Name() string
	DetectAndCompute(img image.Image) (*Features, error)
}

// ExtractorConstructor builds an extractor.
type ExtractorConstructor func() (Extractor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ExtractorConstructor{}
)

// RegisterExtractor makes an extractor available by name. It panics if the name is taken.
func RegisterExtractor(name string, ctor ExtractorConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(errors.Errorf("extractor %q already registered", name))
	}
	registry[name] = ctor
}

// NewExtractor returns the extractor registered under name.
func NewExtractor(name string) (Extractor, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown feature extractor %q, available: %v", name, ExtractorNames())
	}
	return ctor()
}

// ExtractorNames lists the registered extractors, sorted.
func ExtractorNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}

func init() {
	RegisterExtractor("orb", func() (Extractor, error) {
		return NewORBExtractor(DefaultORBConfig())
	})
}

// ORBExtractor computes ORB features with a fixed BRIEF sampling pattern.
type ORBExtractor struct {
	cfg   *ORBConfig
	pairs *SamplePairs
}

// NewORBExtractor validates the configuration and draws the BRIEF pattern.
func NewORBExtractor(cfg *ORBConfig) (*ORBExtractor, error) {
	if err := cfg.Validate("orb"); err != nil {
		return nil, err
	}
	pairs := GenerateSamplePairs(cfg.BRIEFConf.Sampling, cfg.BRIEFConf.N, cfg.BRIEFConf.PatchSize, cfg.BRIEFConf.Seed)
	return &ORBExtractor{cfg: cfg, pairs: pairs}, nil
}

// Name returns "orb".
func (e *ORBExtractor) Name() string {
	return "orb"
}

// DetectAndCompute converts the image to gray and computes its ORB features.
func (e *ORBExtractor) DetectAndCompute(img image.Image) (*Features, error) {
	return ComputeORBKeypoints(rimage.MakeGray(img), e.pairs, e.cfg)
}

package odometry

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/keypoints"
)

// DefaultTracker is the name of the native pyramidal Lucas-Kanade tracker.
const DefaultTracker = "lk"

// FlowConfig holds the parameters of corner tracking with optical flow.
type FlowConfig struct {
	Tracker    string `json:"tracker"`
	MaxCorners int    `json:"max_corners"`
	// WindowSize is the side of the square integration window, odd.
	WindowSize    int     `json:"window_size"`
	Levels        int     `json:"levels"`
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
	// MinEigenThreshold rejects windows without enough texture. Intensities are in [0, 1].
	MinEigenThreshold float64               `json:"min_eigen_threshold"`
	FastConf          *keypoints.FASTConfig `json:"fast"`
}

// DefaultFlowConfig returns the usual pyramidal Lucas-Kanade settings.
func DefaultFlowConfig() *FlowConfig {
	return &FlowConfig{
		Tracker:           DefaultTracker,
		MaxCorners:        1000,
		WindowSize:        21,
		Levels:            3,
		MaxIterations:     30,
		Epsilon:           0.01,
		MinEigenThreshold: 1e-4,
		FastConf:          keypoints.DefaultFASTConfig(),
	}
}

// Validate ensures all parts of the FlowConfig are valid.
func (config *FlowConfig) Validate(path string) error {
	if _, ok := trackerConstructor(config.Tracker); !ok {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown tracker %q, available: %v", config.Tracker, TrackerNames()))
	}
	if config.MaxCorners < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_corners should be >= 0"))
	}
	if config.WindowSize < 3 || config.WindowSize%2 == 0 {
		return utils.NewConfigValidationError(path, errors.New("window_size should be odd and >= 3"))
	}
	if config.Levels < 1 {
		return utils.NewConfigValidationError(path, errors.New("levels should be >= 1"))
	}
	if config.MaxIterations < 1 {
		return utils.NewConfigValidationError(path, errors.New("max_iterations should be >= 1"))
	}
	if config.Epsilon <= 0 {
		return utils.NewConfigValidationError(path, errors.New("epsilon should be positive"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	return config.FastConf.Validate(path + ".fast")
}

// PointTracker follows points of the previous image into the next one. Status is false for
// points that were lost.
type PointTracker interface {
	Track(prev, next *image.Gray, pts []r2.Point) ([]r2.Point, []bool, error)
}

// TrackerConstructor builds a tracker from the flow configuration.
type TrackerConstructor func(cfg *FlowConfig) (PointTracker, error)

var (
	trackersMu sync.RWMutex
	trackers   = map[string]TrackerConstructor{}
)

// RegisterTracker makes a tracker available by name. It panics if the name is taken.
func RegisterTracker(name string, ctor TrackerConstructor) {
	trackersMu.Lock()
	defer trackersMu.Unlock()
	if _, ok := trackers[name]; ok {
		panic(errors.Errorf("tracker %q already registered", name))
	}
	trackers[name] = ctor
}

func trackerConstructor(name string) (TrackerConstructor, bool) {
	trackersMu.RLock()
	defer trackersMu.RUnlock()
	ctor, ok := trackers[name]
	return ctor, ok
}

// TrackerNames lists the registered trackers, sorted.
func TrackerNames() []string {
	trackersMu.RLock()
	defer trackersMu.RUnlock()
	names := lo.Keys(trackers)
	sort.Strings(names)
	return names
}

func init() {
	RegisterTracker(DefaultTracker, func(cfg *FlowConfig) (PointTracker, error) {
		return NewLucasKanade(cfg), nil
	})
}

// FlowBased estimates motion from corners of the reference frame tracked into the current frame.
type FlowBased struct {
	calibrator
	cfg     *FlowConfig
	tracker PointTracker
	ransac  transform.RANSACConfig
}

// NewFlowBased builds the optical flow estimator.
func NewFlowBased(cfg *MotionEstimationConfig, logger logging.Logger) (*FlowBased, error) {
	ctor, ok := trackerConstructor(cfg.FlowCfg.Tracker)
	if !ok {
		return nil, errors.Errorf("unknown tracker %q", cfg.FlowCfg.Tracker)
	}
	tracker, err := ctor(cfg.FlowCfg)
	if err != nil {
		return nil, err
	}
	return &FlowBased{
		calibrator: calibrator{cfg: cfg.CalibrationCfg, logger: logger},
		cfg:        cfg.FlowCfg,
		tracker:    tracker,
		ransac:     cfg.RANSAC,
	}, nil
}

// Reference detects the strongest FAST corners of the frame. The features carry no descriptors.
func (fl *FlowBased) Reference(ctx context.Context, index int, img image.Image) (*Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gray := rimage.MakeGray(img)
	corners := keypoints.NewFASTKeypointsFromImage(gray, fl.cfg.FastConf).KeyPoints(1)
	if fl.cfg.MaxCorners > 0 && len(corners) > fl.cfg.MaxCorners {
		corners = corners[:fl.cfg.MaxCorners]
	}
	fl.logger.Debugw("corners detected", "frame", index, "count", len(corners))
	return &Reference{Index: index, Image: gray, Features: &keypoints.Features{KeyPoints: corners}}, nil
}

// EstimateRelativePose tracks the reference corners into img and recovers the pose from the
// tracked pairs. The current frame's own corners become the next reference.
func (fl *FlowBased) EstimateRelativePose(
	ctx context.Context,
	ref *Reference,
	index int,
	img image.Image,
) (*Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refGray := rimage.MakeGray(ref.Image)
	curGray := rimage.MakeGray(img)
	tracked, status, err := fl.tracker.Track(refGray, curGray, ref.Features.KeyPoints.Points())
	if err != nil {
		return nil, err
	}
	refPts := make([]r2.Point, 0, len(tracked))
	curPts := make([]r2.Point, 0, len(tracked))
	for i, ok := range status {
		if ok {
			refPts = append(refPts, ref.Features.KeyPoints[i].Point)
			curPts = append(curPts, tracked[i])
		}
	}
	if len(curPts) == 0 {
		return nil, errors.Wrapf(keypoints.ErrInsufficientMatches, "no corner of frame %d tracked into frame %d", ref.Index, index)
	}
	fl.logger.Debugw("corners tracked", "reference", ref.Index, "frame", index, "tracked", len(curPts))
	next, err := fl.Reference(ctx, index, curGray)
	if err != nil {
		return nil, err
	}
	return fl.recoverStep(refPts, curPts, fl.ransac, next)
}

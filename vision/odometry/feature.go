package odometry

import (
	"context"
	"fmt"
	"image"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/keypoints"
)

// FeatureBased estimates motion from descriptors matched between consecutive frames.
type FeatureBased struct {
	calibrator
	extractor keypoints.Extractor
	matching  *keypoints.MatchingConfig
	ransac    transform.RANSACConfig
}

// NewFeatureBased builds the feature estimator. The ORB configuration of cfg is used when the
// extractor is ORB; other extractors come from the registry with their own defaults.
func NewFeatureBased(cfg *MotionEstimationConfig, logger logging.Logger) (*FeatureBased, error) {
	var (
		extractor keypoints.Extractor
		err       error
	)
	if cfg.Extractor == "orb" && cfg.KeyPointCfg != nil {
		extractor, err = keypoints.NewORBExtractor(cfg.KeyPointCfg)
	} else {
		extractor, err = keypoints.NewExtractor(cfg.Extractor)
	}
	if err != nil {
		return nil, err
	}
	return NewFeatureBasedWithExtractor(cfg, extractor, logger), nil
}

// NewFeatureBasedWithExtractor builds the feature estimator around a given extractor.
func NewFeatureBasedWithExtractor(
	cfg *MotionEstimationConfig,
	extractor keypoints.Extractor,
	logger logging.Logger,
) *FeatureBased {
	return &FeatureBased{
		calibrator: calibrator{cfg: cfg.CalibrationCfg, logger: logger},
		extractor:  extractor,
		matching:   cfg.MatchingCfg,
		ransac:     cfg.RANSAC,
	}
}

// Reference detects and describes the features of the frame.
func (fb *FeatureBased) Reference(ctx context.Context, index int, img image.Image) (*Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features, err := fb.extractor.DetectAndCompute(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", keypoints.ErrFeatureExtraction, fb.extractor.Name(), err)
	}
	if err := features.Validate(); err != nil {
		return nil, err
	}
	fb.logger.Debugw("features extracted", "frame", index, "count", features.Len())
	return &Reference{Index: index, Image: img, Features: features}, nil
}

// EstimateRelativePose matches the features of img against the reference and recovers the pose
// from the surviving correspondences.
func (fb *FeatureBased) EstimateRelativePose(
	ctx context.Context,
	ref *Reference,
	index int,
	img image.Image,
) (*Step, error) {
	cur, err := fb.Reference(ctx, index, img)
	if err != nil {
		return nil, err
	}
	matches, err := keypoints.MatchDescriptors(ref.Features.Descriptors, cur.Features.Descriptors, fb.matching)
	if err != nil {
		return nil, err
	}
	refPts, curPts, err := keypoints.GetMatchingKeyPoints(matches, ref.Features.KeyPoints, cur.Features.KeyPoints)
	if err != nil {
		return nil, err
	}
	fb.logger.Debugw("descriptors matched", "reference", ref.Index, "frame", index, "matches", len(matches))
	return fb.recoverStep(refPts, curPts, fb.ransac, cur)
}

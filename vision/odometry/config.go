// Package odometry estimates the trajectory of a moving camera from a sequence of frames.
package odometry

import (
	"encoding/json"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/keypoints"
)

const (
	// MethodFeature estimates poses from matched keypoint descriptors.
	MethodFeature = "feature"
	// MethodFlow estimates poses from corners tracked with optical flow.
	MethodFlow = "flow"
)

// CalibrationConfig describes the initial guess handed to the camera calibration.
type CalibrationConfig struct {
	InitialFocal float64 `json:"initial_focal"`
	// PrincipalPoint defaults to the image center when empty.
	PrincipalPoint []float64                  `json:"principal_point,omitempty"`
	Distortion     []float64                  `json:"distortion,omitempty"`
	Flags          transform.CalibrationFlags `json:"flags"`
}

// DefaultCalibrationConfig only refines the focal length, starting from 100 px.
func DefaultCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		InitialFocal: 100,
		Flags:        transform.DefaultCalibrationFlags(),
	}
}

// Validate ensures all parts of the CalibrationConfig are valid.
func (config *CalibrationConfig) Validate(path string) error {
	if config.InitialFocal <= 0 {
		return utils.NewConfigValidationError(path, errors.New("initial_focal should be positive"))
	}
	if len(config.PrincipalPoint) != 0 && len(config.PrincipalPoint) != 2 {
		return utils.NewConfigValidationError(path, errors.New("principal_point should have 2 values"))
	}
	if len(config.Distortion) > transform.NumDistortionCoefficients {
		return utils.NewConfigValidationError(path,
			errors.Errorf("distortion has at most %d coefficients", transform.NumDistortionCoefficients))
	}
	return nil
}

// MotionEstimationConfig contains the parameters needed for motion estimation between video frames.
type MotionEstimationConfig struct {
	Method string `json:"method"`
	// Extractor is the registered feature extractor of the feature method.
	Extractor      string                    `json:"extractor"`
	KeyPointCfg    *keypoints.ORBConfig      `json:"kps"`
	MatchingCfg    *keypoints.MatchingConfig `json:"matching"`
	FlowCfg        *FlowConfig               `json:"flow"`
	RANSAC         transform.RANSACConfig    `json:"ransac"`
	CalibrationCfg *CalibrationConfig        `json:"calibration"`
	// PrefetchFrames is the number of frames decoded ahead of the estimation.
	PrefetchFrames int `json:"prefetch_frames"`
}

// DefaultMotionEstimationConfig returns the feature method with ORB features and a 0.4 ratio test.
func DefaultMotionEstimationConfig() *MotionEstimationConfig {
	return &MotionEstimationConfig{
		Method:         MethodFeature,
		Extractor:      keypoints.DefaultExtractor,
		KeyPointCfg:    keypoints.DefaultORBConfig(),
		MatchingCfg:    keypoints.DefaultMatchingConfig(),
		FlowCfg:        DefaultFlowConfig(),
		RANSAC:         transform.DefaultRANSACConfig(),
		CalibrationCfg: DefaultCalibrationConfig(),
		PrefetchFrames: 2,
	}
}

// Validate ensures all parts of the MotionEstimationConfig are valid.
func (config *MotionEstimationConfig) Validate(path string) error {
	switch config.Method {
	case MethodFeature:
		if config.Extractor == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "extractor")
		}
		if config.MatchingCfg == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "matching")
		}
		if err := config.MatchingCfg.Validate(path + ".matching"); err != nil {
			return err
		}
		if config.KeyPointCfg != nil {
			if err := config.KeyPointCfg.Validate(path + ".kps"); err != nil {
				return err
			}
		}
	case MethodFlow:
		if config.FlowCfg == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "flow")
		}
		if err := config.FlowCfg.Validate(path + ".flow"); err != nil {
			return err
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "method")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown method %q", config.Method))
	}
	if err := config.RANSAC.CheckValid(); err != nil {
		return utils.NewConfigValidationError(path+".ransac", err)
	}
	if config.CalibrationCfg == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "calibration")
	}
	if err := config.CalibrationCfg.Validate(path + ".calibration"); err != nil {
		return err
	}
	if config.PrefetchFrames < 0 {
		return utils.NewConfigValidationError(path, errors.New("prefetch_frames should be >= 0"))
	}
	return nil
}

// LoadMotionEstimationConfig loads a motion estimation configuration from a json file. Environment
// variables in the file are expanded and missing sections keep their default values.
func LoadMotionEstimationConfig(path string) (*MotionEstimationConfig, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultMotionEstimationConfig()
	if err := json.Unmarshal(buf, config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	if err := config.Validate(path); err != nil {
		return nil, err
	}
	return config, nil
}

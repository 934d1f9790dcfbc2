// Package main estimates the trajectory of a camera from a directory of frames and the
// calibration points seen in the first one.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/imagesource"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/keypoints"
	"go.viam.com/monovo/vision/odometry"
	"go.viam.com/monovo/vision/odometry/groundtruth"
	"go.viam.com/monovo/vision/odometry/results"
)

const (
	flagImageDir   = "image-dir"
	flagPointsDir  = "points-dir"
	flagResultsDir = "results-dir"
	flagConfig     = "config"
	flagMethod     = "method"
	flagExtractor  = "extractor"
	flagRatio      = "ratio"
	flagDebug      = "debug"
	flagDebugDir   = "debug-dir"
	flagBlur       = "blur"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "estimate-trajectory",
		Usage: "estimate the camera trajectory of an image sequence",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagImageDir,
				Value: "./data/images/",
				Usage: "path to the images",
			},
			&cli.StringFlag{
				Name:  flagPointsDir,
				Value: "./data/points/",
				Usage: "path to the ground truth image and object points",
			},
			&cli.StringFlag{
				Name:  flagResultsDir,
				Value: "./results/",
				Usage: "path to the directory where results are saved",
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load motion estimation configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagMethod,
				Usage: fmt.Sprintf("pose estimation method: %s or %s", odometry.MethodFeature, odometry.MethodFlow),
			},
			&cli.StringFlag{
				Name:  flagExtractor,
				Usage: fmt.Sprintf("feature extractor, one of %v", keypoints.ExtractorNames()),
			},
			&cli.Float64Flag{
				Name:  flagRatio,
				Usage: "ratio test bound of the descriptor matching",
			},
			&cli.Float64Flag{
				Name:  flagBlur,
				Usage: "sigma of the gaussian blur applied to the gray frames, 0 disables it",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagDebugDir,
				Usage: "save an image of the correspondences of every frame pair in `DIR`",
			},
		},
		Action: estimateTrajectoryAction,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file when given and applies the flag overrides.
func loadConfig(c *cli.Context) (*odometry.MotionEstimationConfig, error) {
	cfg := odometry.DefaultMotionEstimationConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = odometry.LoadMotionEstimationConfig(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet(flagMethod) {
		cfg.Method = c.String(flagMethod)
	}
	if c.IsSet(flagExtractor) {
		cfg.Extractor = c.String(flagExtractor)
	}
	if c.IsSet(flagRatio) {
		if cfg.MatchingCfg == nil {
			cfg.MatchingCfg = keypoints.DefaultMatchingConfig()
		}
		cfg.MatchingCfg.Ratio = c.Float64(flagRatio)
	}
	if err := cfg.Validate("odometry"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func estimateTrajectoryAction(c *cli.Context) error {
	logger := logging.NewLogger("estimate-trajectory")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("estimate-trajectory")
	}
	//nolint:errcheck
	defer logger.Sync()

	// the results of an earlier run are removed before anything can fail
	sink, err := results.NewSink(c.String(flagResultsDir), logger.Sublogger("results"))
	if err != nil {
		logger.Errorw("cannot prepare results directory", "error", err)
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		logger.Errorw("invalid configuration", "error", err)
		return err
	}
	dirSrc, err := imagesource.NewDirSource(c.String(flagImageDir))
	if err != nil {
		logger.Errorw("cannot open images", "kind", errorKind(err), "error", err)
		return err
	}
	src := &imagesource.GraySource{Original: dirSrc, Sigma: c.Float64(flagBlur)}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warnw("cannot close image source", "error", err)
		}
	}()
	points, err := groundtruth.Load(c.String(flagPointsDir))
	if err != nil {
		logger.Errorw("cannot load calibration points", "kind", errorKind(err), "error", err)
		return err
	}
	estimator, err := odometry.NewPoseEstimator(cfg, logger.Sublogger(cfg.Method))
	if err != nil {
		return err
	}

	logger.Infow("estimating trajectory",
		"frames", len(src.Frames()), "method", cfg.Method, "calibration_points", points.Len())
	pipeline := &odometry.Pipeline{
		Source:      src,
		GroundTruth: points,
		Estimator:   estimator,
		Prefetch:    cfg.PrefetchFrames,
		DebugDir:    c.String(flagDebugDir),
		Logger:      logger,
	}
	out, err := pipeline.Run(c.Context)
	if err != nil {
		var frameErr *odometry.FrameError
		if errors.As(err, &frameErr) {
			logger.Errorw("trajectory estimation failed",
				"frame", frameErr.Index, "kind", errorKind(err), "error", frameErr.Err)
		} else {
			logger.Errorw("trajectory estimation failed", "kind", errorKind(err), "error", err)
		}
		return err
	}

	if err := sink.SaveCalibration(out.Calibration.Intrinsics); err != nil {
		return err
	}
	if err := sink.SaveTrajectory(out.Result); err != nil {
		return err
	}
	runID, err := sink.MarkComplete(out.Result)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, results.SummaryTable(out.Result))
	logger.Infow("run complete", "run_id", runID, "results", sink.Dir())
	return nil
}

// errorKind names the failure for the logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, keypoints.ErrFeatureExtraction):
		return "feature_extraction"
	case errors.Is(err, keypoints.ErrInsufficientMatches):
		return "insufficient_matches"
	case errors.Is(err, transform.ErrPoseRecoveryFailed):
		return "pose_recovery_failed"
	case errors.Is(err, transform.ErrCalibrationFailed):
		return "calibration_failed"
	case errors.Is(err, imagesource.ErrFrameNotFound):
		return "frame_not_found"
	case errors.Is(err, imagesource.ErrFrameDecode):
		return "frame_decode"
	case errors.Is(err, imagesource.ErrNoFrames):
		return "no_frames"
	case errors.Is(err, groundtruth.ErrNoGroundTruth):
		return "no_ground_truth"
	default:
		return "internal"
	}
}

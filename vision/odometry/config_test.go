package odometry

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultMotionEstimationConfig()
	test.That(t, cfg.Validate("odometry"), test.ShouldBeNil)
	test.That(t, cfg.MatchingCfg.Ratio, test.ShouldEqual, 0.4)
	test.That(t, cfg.RANSAC.Probability, test.ShouldEqual, 0.999)
	test.That(t, cfg.RANSAC.ThresholdPx, test.ShouldEqual, 1.0)
	test.That(t, cfg.CalibrationCfg.InitialFocal, test.ShouldEqual, 100)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultMotionEstimationConfig()
	cfg.Method = "sonar"
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.Method = ""
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.MatchingCfg.Ratio = 1.5
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.Method = MethodFlow
	cfg.FlowCfg.WindowSize = 20
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.Method = MethodFlow
	cfg.FlowCfg.Tracker = "nope"
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.RANSAC.Probability = 1
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.CalibrationCfg.PrincipalPoint = []float64{1}
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.CalibrationCfg = nil
	test.That(t, cfg.Validate("odometry"), test.ShouldNotBeNil)
}

func TestLoadMotionEstimationConfig(t *testing.T) {
	t.Setenv("MONOVO_RATIO", "0.6")
	fn := filepath.Join(t.TempDir(), "vo.json")
	content := `{
  "method": "flow",
  "matching": {"ratio": ${MONOVO_RATIO}},
  "flow": {"tracker": "lk", "window_size": 15, "levels": 2, "max_iterations": 10, "epsilon": 0.03,
           "min_eigen_threshold": 0.0001, "max_corners": 200,
           "fast": {"n_matches": 9, "nms_win_size": 7, "threshold": 0.1, "oriented": false}}
}`
	test.That(t, os.WriteFile(fn, []byte(content), 0o600), test.ShouldBeNil)

	cfg, err := LoadMotionEstimationConfig(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Method, test.ShouldEqual, MethodFlow)
	test.That(t, cfg.MatchingCfg.Ratio, test.ShouldEqual, 0.6)
	test.That(t, cfg.FlowCfg.WindowSize, test.ShouldEqual, 15)
	// sections absent from the file keep their defaults
	test.That(t, cfg.RANSAC.MaxIterations, test.ShouldEqual, 1000)
	test.That(t, cfg.CalibrationCfg.InitialFocal, test.ShouldEqual, 100)

	bad := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"method": "feature", "matching": {"ratio": 0}}`), 0o600), test.ShouldBeNil)
	_, err = LoadMotionEstimationConfig(bad)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LoadMotionEstimationConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

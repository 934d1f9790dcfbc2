package odometry

import (
	"context"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/imagesource"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/spatialmath"
	"go.viam.com/monovo/vision/keypoints"
	"go.viam.com/monovo/vision/odometry/groundtruth"
)

func trueIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{Width: 1920, Height: 1080, Fx: 800, Fy: 800, Ppx: 960, Ppy: 540}
}

// camera maps world points into its own frame: X_cam = R X_world + T.
type camera struct {
	R *spatialmath.RotationMatrix
	T r3.Vector
}

func newCamera(rvec, t r3.Vector) camera {
	return camera{R: spatialmath.R3ToR4(rvec).RotationMatrix(), T: t}
}

func (c camera) project(X r3.Vector) r2.Point {
	Xc := c.R.Mul(X).Add(c.T)
	u, v := trueIntrinsics().PointToPixel(Xc.X, Xc.Y, Xc.Z)
	return r2.Point{X: u, Y: v}
}

// relativeTo returns the motion mapping points of c into ref, with a unit translation.
func (c camera) relativeTo(ref camera) (*mat.Dense, r3.Vector) {
	var rot mat.Dense
	rot.Mul(ref.R.Dense(), c.R.Dense().T())
	rm, _ := spatialmath.NewRotationMatrixFromDense(&rot)
	t := ref.T.Sub(rm.Mul(c.T))
	return &rot, t.Normalize()
}

func calibrationPoints() *groundtruth.Points {
	cam := newCamera(r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}, r3.Vector{X: 0.2, Y: -0.1, Z: 6})
	pts := &groundtruth.Points{}
	for x := -1.0; x <= 1; x += 0.5 {
		for y := -1.0; y <= 1; y++ {
			for z := 0.0; z <= 1; z += 0.5 {
				obj := r3.Vector{X: x, Y: y, Z: z}
				pts.Object = append(pts.Object, obj)
				pts.Image = append(pts.Image, cam.project(obj))
			}
		}
	}
	return pts
}

// fakeExtractor returns features prepared for each frame image.
type fakeExtractor struct {
	features map[image.Image]*keypoints.Features
}

func (f *fakeExtractor) Name() string {
	return "fake"
}

func (f *fakeExtractor) DetectAndCompute(img image.Image) (*keypoints.Features, error) {
	features, ok := f.features[img]
	if !ok {
		return nil, errors.New("unknown image")
	}
	return features, nil
}

// syntheticSequence observes the same world points with every camera. Point j gets the one-hot
// descriptor e_j in every frame so that the matches are exact.
func syntheticSequence(cams []camera, nPoints int) ([]image.Image, *fakeExtractor) {
	rng := rand.New(rand.NewPCG(3, 4))
	world := make([]r3.Vector, nPoints)
	for i := range world {
		world[i] = r3.Vector{X: rng.Float64()*6 - 3, Y: rng.Float64()*4 - 2, Z: 8 + rng.Float64()*6}
	}
	ext := &fakeExtractor{features: map[image.Image]*keypoints.Features{}}
	images := make([]image.Image, len(cams))
	for k, cam := range cams {
		img := image.NewGray(image.Rect(0, 0, 1920, 1080))
		features := &keypoints.Features{}
		for j, X := range world {
			desc := make(keypoints.Descriptor, nPoints)
			desc[j] = 1
			features.KeyPoints = append(features.KeyPoints, keypoints.KeyPoint{Point: cam.project(X), Scale: 1})
			features.Descriptors = append(features.Descriptors, desc)
		}
		images[k] = img
		ext.features[img] = features
	}
	return images, ext
}

func testCameras() []camera {
	return []camera{
		newCamera(r3.Vector{}, r3.Vector{}),
		newCamera(r3.Vector{X: 0.02, Y: -0.05, Z: 0.01}, r3.Vector{X: 0.5, Y: 0.1, Z: -0.2}),
		newCamera(r3.Vector{X: 0.04, Y: -0.08, Z: 0.02}, r3.Vector{X: 1.0, Y: 0.15, Z: -0.5}),
	}
}

func newTestPipeline(t *testing.T, images []image.Image, ext keypoints.Extractor) *Pipeline {
	logger := logging.NewTestLogger(t)
	return &Pipeline{
		Source:      &imagesource.StaticSource{Images: images},
		GroundTruth: calibrationPoints(),
		Estimator:   NewFeatureBasedWithExtractor(DefaultMotionEstimationConfig(), ext, logger),
		Prefetch:    1,
		Logger:      logger,
	}
}

func TestPipelineSyntheticRoundTrip(t *testing.T) {
	cams := testCameras()
	images, ext := syntheticSequence(cams, 60)
	p := newTestPipeline(t, images, ext)
	p.DebugDir = filepath.Join(t.TempDir(), "debug")

	out, err := p.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Calibration.Intrinsics.Fx, test.ShouldAlmostEqual, 800, 1e-1)
	test.That(t, out.Calibration.Intrinsics.Ppx, test.ShouldEqual, 960)

	res := out.Result
	test.That(t, len(res.Trajectory), test.ShouldEqual, 3)
	test.That(t, len(res.RelativePoses), test.ShouldEqual, 2)
	test.That(t, res.Trajectory[0], test.ShouldResemble, r3.Vector{})

	for i, rel := range res.RelativePoses {
		test.That(t, spatialmath.IsRotation(rel.Rotation, 1e-6), test.ShouldBeTrue)
		wantR, wantT := cams[i+1].relativeTo(cams[i])
		test.That(t, mat.EqualApprox(rel.Rotation, wantR, 1e-3), test.ShouldBeTrue)
		got := rel.Position()
		test.That(t, got.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, got.Sub(wantT).Norm(), test.ShouldBeLessThan, 1e-2)
	}
	want := res.RelativePoses[1].Compose(res.RelativePoses[0])
	test.That(t, mat.EqualApprox(res.AbsolutePoses[1].Rotation, want.Rotation, 1e-12), test.ShouldBeTrue)
	test.That(t, res.Trajectory[2], test.ShouldResemble, want.Position())

	_, err = os.Stat(filepath.Join(p.DebugDir, "matches_000000_000001.png"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(p.DebugDir, "matches_000001_000002.png"))
	test.That(t, err, test.ShouldBeNil)
}

func TestPipelineSingleFrame(t *testing.T) {
	images, ext := syntheticSequence(testCameras()[:1], 20)
	out, err := newTestPipeline(t, images, ext).Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out.Result.Trajectory), test.ShouldEqual, 1)
	test.That(t, len(out.Result.RelativePoses), test.ShouldEqual, 0)
}

func TestPipelineNoMatches(t *testing.T) {
	images, ext := syntheticSequence(testCameras(), 30)
	ext.features[images[2]] = &keypoints.Features{}

	_, err := newTestPipeline(t, images, ext).Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	var frameErr *FrameError
	test.That(t, errors.As(err, &frameErr), test.ShouldBeTrue)
	test.That(t, frameErr.Index, test.ShouldEqual, 2)
	test.That(t, errors.Is(err, keypoints.ErrInsufficientMatches), test.ShouldBeTrue)
}

func TestPipelineCalibrationFailure(t *testing.T) {
	images, ext := syntheticSequence(testCameras(), 30)
	p := newTestPipeline(t, images, ext)
	p.GroundTruth = nil

	_, err := p.Run(context.Background())
	var frameErr *FrameError
	test.That(t, errors.As(err, &frameErr), test.ShouldBeTrue)
	test.That(t, frameErr.Index, test.ShouldEqual, 0)
	test.That(t, errors.Is(err, transform.ErrCalibrationFailed), test.ShouldBeTrue)
}

// failingSource fails to decode one of its frames.
type failingSource struct {
	imagesource.StaticSource
	bad int
}

func (fs *failingSource) Read(ctx context.Context, index int) (image.Image, error) {
	if index == fs.bad {
		return nil, errors.Wrap(imagesource.ErrFrameDecode, "corrupt")
	}
	return fs.StaticSource.Read(ctx, index)
}

func TestPipelineDecodeFailure(t *testing.T) {
	images, ext := syntheticSequence(testCameras(), 30)
	p := newTestPipeline(t, images, ext)
	p.Source = &failingSource{StaticSource: imagesource.StaticSource{Images: images}, bad: 1}

	_, err := p.Run(context.Background())
	var frameErr *FrameError
	test.That(t, errors.As(err, &frameErr), test.ShouldBeTrue)
	test.That(t, frameErr.Index, test.ShouldEqual, 1)
	test.That(t, errors.Is(err, imagesource.ErrFrameDecode), test.ShouldBeTrue)
}

func TestPipelineCancelled(t *testing.T) {
	images, ext := syntheticSequence(testCameras(), 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestPipeline(t, images, ext).Run(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	_, err = newTestPipeline(t, nil, ext).Run(context.Background())
	test.That(t, errors.Is(err, imagesource.ErrNoFrames), test.ShouldBeTrue)
}

func TestFlowBasedFlatImages(t *testing.T) {
	cfg := DefaultMotionEstimationConfig()
	cfg.Method = MethodFlow
	est, err := NewPoseEstimator(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	flow, ok := est.(*FlowBased)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, flow.SetIntrinsics(trueIntrinsics()), test.ShouldBeNil)

	flat := image.NewGray(image.Rect(0, 0, 120, 100))
	ref, err := flow.Reference(context.Background(), 0, flat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ref.Features.Len(), test.ShouldEqual, 0)
	_, err = flow.EstimateRelativePose(context.Background(), ref, 1, flat)
	test.That(t, errors.Is(err, keypoints.ErrInsufficientMatches), test.ShouldBeTrue)
}

func TestFlowBasedTracksCorners(t *testing.T) {
	cfg := DefaultMotionEstimationConfig()
	cfg.Method = MethodFlow
	est, err := NewFlowBased(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	prev := smoothTexture(200, 160, 9)
	ref, err := est.Reference(context.Background(), 0, prev)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ref.Features.Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, ref.Features.Len(), test.ShouldBeLessThanOrEqualTo, cfg.FlowCfg.MaxCorners)

	// without intrinsics no pose can be recovered
	_, err = est.EstimateRelativePose(context.Background(), ref, 1, shift(prev, 2, 1))
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestNewPoseEstimator(t *testing.T) {
	logger := logging.NewTestLogger(t)
	est, err := NewPoseEstimator(DefaultMotionEstimationConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok := est.(*FeatureBased)
	test.That(t, ok, test.ShouldBeTrue)

	cfg := DefaultMotionEstimationConfig()
	cfg.Extractor = "surf"
	_, err = NewPoseEstimator(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = DefaultMotionEstimationConfig()
	cfg.Method = "lidar"
	_, err = NewPoseEstimator(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

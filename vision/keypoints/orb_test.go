package keypoints

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestGenerateSamplePairs(t *testing.T) {
	for _, sampling := range []SamplingType{uniform, normal, fixed} {
		sp1 := GenerateSamplePairs(sampling, 128, 31, 7)
		sp2 := GenerateSamplePairs(sampling, 128, 31, 7)
		test.That(t, sp1, test.ShouldResemble, sp2)
		test.That(t, len(sp1.P0), test.ShouldEqual, 128)
		test.That(t, len(sp1.P1), test.ShouldEqual, 128)
		for i := range sp1.P0 {
			for _, p := range [][2]int{{sp1.P0[i].X, sp1.P0[i].Y}, {sp1.P1[i].X, sp1.P1[i].Y}} {
				test.That(t, p[0], test.ShouldBeBetweenOrEqual, -16, 16)
				test.That(t, p[1], test.ShouldBeBetweenOrEqual, -16, 16)
			}
		}
	}
	test.That(t, GenerateSamplePairs(normal, 128, 31, 8), test.ShouldNotResemble, GenerateSamplePairs(normal, 128, 31, 7))
}

func TestComputeBRIEFDescriptors(t *testing.T) {
	img := texturedImage(160, 120, 5)
	cfg := DefaultBRIEFConfig()
	sp := GenerateSamplePairs(cfg.Sampling, cfg.N, cfg.PatchSize, cfg.Seed)
	kps := NewFASTKeypointsFromImage(img, DefaultFASTConfig())
	descs, kept, err := ComputeBRIEFDescriptors(img, sp, kps, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(descs), test.ShouldEqual, len(kept))
	test.That(t, len(descs), test.ShouldBeGreaterThan, 0)
	for i, d := range descs {
		test.That(t, len(d), test.ShouldEqual, cfg.N)
		for _, b := range d {
			test.That(t, b == 0 || b == 1, test.ShouldBeTrue)
		}
		// only keypoints far enough from the border are described
		pt := kps.Points[kept[i]]
		test.That(t, pt.X, test.ShouldBeBetweenOrEqual, 22, 160-22)
		test.That(t, pt.Y, test.ShouldBeBetweenOrEqual, 22, 120-22)
	}

	again, _, err := ComputeBRIEFDescriptors(img, sp, kps, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, descs)

	_, _, err = ComputeBRIEFDescriptors(img, &SamplePairs{N: 3}, kps, cfg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComputeORBKeypoints(t *testing.T) {
	img := texturedImage(200, 160, 11)
	ext, err := NewORBExtractor(DefaultORBConfig())
	test.That(t, err, test.ShouldBeNil)
	features, err := ext.DetectAndCompute(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, features.Validate(), test.ShouldBeNil)
	test.That(t, features.Len(), test.ShouldBeGreaterThan, 10)
	for _, kp := range features.KeyPoints {
		test.That(t, kp.Point.X, test.ShouldBeBetweenOrEqual, 0, 200)
		test.That(t, kp.Point.Y, test.ShouldBeBetweenOrEqual, 0, 160)
		test.That(t, kp.Scale, test.ShouldBeGreaterThanOrEqualTo, 1)
	}

	cfg := DefaultORBConfig()
	cfg.MaxFeatures = 10
	capped, err := NewORBExtractor(cfg)
	test.That(t, err, test.ShouldBeNil)
	few, err := capped.DetectAndCompute(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, few.Len(), test.ShouldEqual, 10)
	test.That(t, few.Validate(), test.ShouldBeNil)
}

func TestLoadORBConfiguration(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "orb.json")
	content := `{
  "n_layers": 2,
  "downscale_factor": 2,
  "max_features": 500,
  "fast": {"n_matches": 12, "nms_win_size": 5, "threshold": 0.1, "oriented": true},
  "brief": {"n": 128, "sampling": 1, "use_orientation": true, "patch_size": 25, "seed": 3}
}`
	test.That(t, os.WriteFile(fn, []byte(content), 0o600), test.ShouldBeNil)
	cfg, err := LoadORBConfiguration(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Layers, test.ShouldEqual, 2)
	test.That(t, cfg.FastConf.NMatchesCircle, test.ShouldEqual, 12)
	test.That(t, cfg.BRIEFConf.N, test.ShouldEqual, 128)

	missing := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(missing, []byte(`{"n_layers": 2, "downscale_factor": 2}`), 0o600), test.ShouldBeNil)
	_, err = LoadORBConfiguration(missing)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = LoadORBConfiguration(filepath.Join(dir, "nope.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExtractorRegistry(t *testing.T) {
	test.That(t, ExtractorNames(), test.ShouldContain, "orb")
	ext, err := NewExtractor(DefaultExtractor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ext.Name(), test.ShouldEqual, "orb")

	_, err = NewExtractor("surf")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, func() {
		RegisterExtractor("orb", func() (Extractor, error) { return nil, nil })
	}, test.ShouldPanic)
}

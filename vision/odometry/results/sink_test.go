package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/odometry"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	sink, err := NewSink(filepath.Join(t.TempDir(), "results"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return sink
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func twoFrameResult() *odometry.Result {
	traj := odometry.NewTrajectory()
	traj.Append(odometry.Pose{
		Rotation:    mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		Translation: mat.NewDense(3, 1, []float64{0.6, 0, 0.8}),
	})
	return traj.Result()
}

func TestWriteText(t *testing.T) {
	sink := newTestSink(t)
	test.That(t, sink.WriteText("out.txt", "Value", 3, Overwrite), test.ShouldBeNil)
	test.That(t, sink.WriteText("out.txt", "More", "x", Append), test.ShouldBeNil)
	test.That(t, readFile(t, filepath.Join(sink.Dir(), "out.txt")), test.ShouldEqual, "Value\n3\nMore\nx\n")

	test.That(t, sink.WriteText("out.txt", "Fresh", 1.5, Overwrite), test.ShouldBeNil)
	test.That(t, readFile(t, filepath.Join(sink.Dir(), "out.txt")), test.ShouldEqual, "Fresh\n1.5\n")
}

func TestSaveCalibration(t *testing.T) {
	sink := newTestSink(t)
	intr := &transform.PinholeCameraIntrinsics{Width: 1920, Height: 1080, Fx: 800, Fy: 800, Ppx: 960, Ppy: 540}
	test.That(t, sink.SaveCalibration(intr), test.ShouldBeNil)
	content := readFile(t, filepath.Join(sink.Dir(), CalibrationFile))
	test.That(t, content, test.ShouldStartWith, "Estimated Intrinsic Matrix\n")
	test.That(t, content, test.ShouldContainSubstring, "800")
	test.That(t, content, test.ShouldContainSubstring, "960")
	test.That(t, strings.Count(content, "\n"), test.ShouldEqual, 4)
}

func TestSaveTrajectory(t *testing.T) {
	sink := newTestSink(t)
	res := twoFrameResult()
	test.That(t, sink.SaveTrajectory(res), test.ShouldBeNil)

	rt := readFile(t, filepath.Join(sink.Dir(), "Rt2.txt"))
	test.That(t, rt, test.ShouldStartWith, "Rotation\n")
	test.That(t, rt, test.ShouldContainSubstring, "Translation\n")
	test.That(t, rt, test.ShouldContainSubstring, "0.6")
	_, err := os.Stat(filepath.Join(sink.Dir(), "Rt3.txt"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	for _, name := range []string{"xyplane.png", "xzplane.png", "yzplane.png"} {
		info, err := os.Stat(filepath.Join(sink.Dir(), name))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
	}
	// nothing marks the run complete until asked
	_, err = os.Stat(filepath.Join(sink.Dir(), CompletionFile))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestPlotProjectionErrors(t *testing.T) {
	sink := newTestSink(t)
	pts := []r3.Vector{{}, {X: 1}}
	test.That(t, sink.PlotProjection(pts, 0, 3, "t", "x", "y", "a.png"), test.ShouldNotBeNil)
	test.That(t, sink.PlotProjection(nil, 0, 1, "t", "x", "y", "a.png"), test.ShouldNotBeNil)
	test.That(t, sink.PlotProjection(pts, 1, 2, "t", "y", "z", "a.png"), test.ShouldBeNil)
}

func TestMarkComplete(t *testing.T) {
	sink := newTestSink(t)
	res := twoFrameResult()
	id, err := sink.MarkComplete(res)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldNotBeEmpty)

	var summary RunSummary
	test.That(t, json.Unmarshal([]byte(readFile(t, filepath.Join(sink.Dir(), CompletionFile))), &summary), test.ShouldBeNil)
	test.That(t, summary.RunID, test.ShouldEqual, id)
	test.That(t, summary.Frames, test.ShouldEqual, 2)
	want := [][3]float64{{0, 0, 0}, {0.6, 0, 0.8}}
	test.That(t, cmp.Diff(want, summary.Trajectory, cmpopts.EquateApprox(0, 1e-12)), test.ShouldBeEmpty)
}

func TestSummaryTable(t *testing.T) {
	out := SummaryTable(twoFrameResult())
	test.That(t, out, test.ShouldContainSubstring, "Image-1")
	test.That(t, out, test.ShouldContainSubstring, "Image-2")
	test.That(t, out, test.ShouldContainSubstring, "0.6000")
	test.That(t, strings.ToLower(out), test.ShouldContainSubstring, "path length")
	test.That(t, out, test.ShouldContainSubstring, "1.0000")
}

func TestNewSinkClearsPreviousRun(t *testing.T) {
	sink := newTestSink(t)
	res := twoFrameResult()
	test.That(t, sink.SaveCalibration(&transform.PinholeCameraIntrinsics{
		Width: 1920, Height: 1080, Fx: 800, Fy: 800, Ppx: 960, Ppy: 540,
	}), test.ShouldBeNil)
	test.That(t, sink.SaveTrajectory(res), test.ShouldBeNil)
	_, err := sink.MarkComplete(res)
	test.That(t, err, test.ShouldBeNil)
	other := filepath.Join(sink.Dir(), "notes.txt")
	test.That(t, os.WriteFile(other, []byte("keep"), 0o600), test.ShouldBeNil)

	again, err := NewSink(sink.Dir(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{CompletionFile, CalibrationFile, "Rt2.txt", "xyplane.png", "xzplane.png", "yzplane.png"} {
		_, err := os.Stat(filepath.Join(again.Dir(), name))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	}
	test.That(t, readFile(t, other), test.ShouldEqual, "keep")
}

// Package results persists the outcome of a trajectory estimation: text files, plots and a
// completion marker.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/odometry"
)

const (
	// CalibrationFile holds the estimated intrinsic matrix.
	CalibrationFile = "CameraCalibrationMatrix.txt"
	// CompletionFile is written last, once every other result is saved.
	CompletionFile = "run.json"
)

// WriteMode tells whether a text result replaces the file or is added at its end.
type WriteMode int

const (
	// Overwrite truncates the file first.
	Overwrite WriteMode = iota
	// Append adds to the end of the file.
	Append
)

// Sink writes results into a directory.
type Sink struct {
	dir    string
	logger logging.Logger
}

// NewSink creates the results directory when needed and removes the results of an earlier
// run, so that the directory is only marked complete by the run writing to it.
func NewSink(dir string, logger logging.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create results directory %q", dir)
	}
	s := &Sink{dir: dir, logger: logger}
	if err := s.clear(); err != nil {
		return nil, errors.Wrapf(err, "cannot clear results directory %q", dir)
	}
	return s, nil
}

// clear deletes the files a run writes. The completion marker goes first.
func (s *Sink) clear() error {
	stale := []string{filepath.Join(s.dir, CompletionFile), filepath.Join(s.dir, CalibrationFile)}
	for _, pl := range planes {
		stale = append(stale, filepath.Join(s.dir, pl.filename))
	}
	rts, err := filepath.Glob(filepath.Join(s.dir, "Rt*.txt"))
	if err != nil {
		return err
	}
	stale = append(stale, rts...)

	var errs error
	removed := 0
	for _, fn := range stale {
		switch err := os.Remove(fn); {
		case err == nil:
			removed++
		case !os.IsNotExist(err):
			errs = multierr.Append(errs, err)
		}
	}
	if removed > 0 {
		s.logger.Infow("removed results of a previous run", "dir", s.dir, "files", removed)
	}
	return errs
}

// Dir returns the results directory.
func (s *Sink) Dir() string {
	return s.dir
}

func formatValue(value interface{}) string {
	if m, ok := value.(mat.Matrix); ok {
		return fmt.Sprintf("%v", mat.Formatted(m, mat.Squeeze()))
	}
	return fmt.Sprint(value)
}

// WriteText writes the label on its own line followed by the value.
func (s *Sink) WriteText(filename, label string, value interface{}, mode WriteMode) (err error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	path := filepath.Join(s.dir, filename)
	//nolint:gosec
	f, err := os.OpenFile(path, flags, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = fmt.Fprintf(f, "%s\n%s\n", label, formatValue(value))
	return err
}

// SaveCalibration writes the intrinsic matrix.
func (s *Sink) SaveCalibration(intrinsics *transform.PinholeCameraIntrinsics) error {
	if err := s.WriteText(CalibrationFile, "Estimated Intrinsic Matrix", intrinsics.GetCameraMatrix(), Overwrite); err != nil {
		return errors.Wrap(err, "cannot save calibration")
	}
	return nil
}

// planes are the projections plotted for every trajectory.
var planes = []struct {
	axis1, axis2   int
	title          string
	xLabel, yLabel string
	filename       string
}{
	{0, 1, "Camera Trajectory- XYplane", "x", "y", "xyplane.png"},
	{0, 2, "Camera Trajectory- XZplane", "x", "z", "xzplane.png"},
	{1, 2, "Camera Trajectory- YZplane", "y", "z", "yzplane.png"},
}

// SaveTrajectory writes one Rt file per frame pair, named after the second frame counting from
// 1, and the projections of the trajectory on the three axis planes.
func (s *Sink) SaveTrajectory(res *odometry.Result) error {
	for i, rel := range res.RelativePoses {
		name := fmt.Sprintf("Rt%d.txt", i+2)
		if err := s.WriteText(name, "Rotation", rel.Rotation, Overwrite); err != nil {
			return err
		}
		if err := s.WriteText(name, "Translation", rel.Translation, Append); err != nil {
			return err
		}
	}
	for _, pl := range planes {
		if err := s.PlotProjection(res.Trajectory, pl.axis1, pl.axis2, pl.title, pl.xLabel, pl.yLabel, pl.filename); err != nil {
			return err
		}
	}
	s.logger.Infow("trajectory saved", "dir", s.dir, "poses", len(res.RelativePoses))
	return nil
}

// RunSummary is the content of the completion marker.
type RunSummary struct {
	RunID       string       `json:"run_id"`
	Frames      int          `json:"frames"`
	Trajectory  [][3]float64 `json:"trajectory"`
	CompletedAt time.Time    `json:"completed_at"`
}

// MarkComplete writes the completion marker and returns the id of the run.
func (s *Sink) MarkComplete(res *odometry.Result) (string, error) {
	summary := RunSummary{
		RunID:       uuid.New().String(),
		Frames:      len(res.Trajectory),
		Trajectory:  make([][3]float64, len(res.Trajectory)),
		CompletedAt: time.Now().UTC(),
	}
	for i, p := range res.Trajectory {
		summary.Trajectory[i] = [3]float64{p.X, p.Y, p.Z}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, CompletionFile), data, 0o640); err != nil {
		return "", err
	}
	return summary.RunID, nil
}

func component(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

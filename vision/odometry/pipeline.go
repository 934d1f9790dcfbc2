package odometry

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/monovo/logging"
	"go.viam.com/monovo/rimage/imagesource"
	"go.viam.com/monovo/rimage/transform"
	"go.viam.com/monovo/vision/odometry/groundtruth"
)

// FrameError reports the frame at which a run failed.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error so that its kind can be checked with errors.Is.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// Pipeline folds the frames of a source into a trajectory.
type Pipeline struct {
	Source      imagesource.Source
	GroundTruth *groundtruth.Points
	Estimator   PoseEstimator
	// Prefetch is the number of frames decoded ahead of the estimation.
	Prefetch int
	// DebugDir receives an image of the correspondences of every frame pair when set.
	DebugDir string
	Logger   logging.Logger
}

// Output is what a successful run produced.
type Output struct {
	Calibration *transform.CalibrationResult
	Result      *Result
}

type decodedFrame struct {
	index int
	img   image.Image
}

// Run calibrates the camera on the first frame, then estimates the motion between every pair of
// consecutive frames, in order. The first error aborts the run and no partial result is returned.
func (p *Pipeline) Run(ctx context.Context) (*Output, error) {
	frames := p.Source.Frames()
	if len(frames) == 0 {
		return nil, imagesource.ErrNoFrames
	}
	if p.DebugDir != "" {
		if err := os.MkdirAll(p.DebugDir, 0o750); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	decoded := make(chan decodedFrame, max(p.Prefetch, 0))
	g.Go(func() error {
		defer close(decoded)
		for i := range frames {
			img, err := p.Source.Read(gctx, i)
			if err != nil {
				return &FrameError{Index: i, Err: err}
			}
			select {
			case decoded <- decodedFrame{index: i, img: img}:
			case <-gctx.Done():
				return &FrameError{Index: i, Err: gctx.Err()}
			}
		}
		return nil
	})

	var out *Output
	g.Go(func() error {
		var err error
		out, err = p.consume(gctx, decoded, len(frames))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("run ended before the last frame")
	}
	return out, nil
}

func (p *Pipeline) consume(ctx context.Context, decoded <-chan decodedFrame, numFrames int) (*Output, error) {
	var (
		calib      *transform.CalibrationResult
		ref        *Reference
		trajectory = NewTrajectory()
	)
	for frame := range decoded {
		if err := ctx.Err(); err != nil {
			return nil, &FrameError{Index: frame.index, Err: err}
		}
		if ref == nil {
			bnd := frame.img.Bounds()
			var err error
			calib, err = p.Estimator.Calibrate(ctx, p.GroundTruth, bnd.Dx(), bnd.Dy())
			if err != nil {
				return nil, &FrameError{Index: frame.index, Err: err}
			}
			ref, err = p.Estimator.Reference(ctx, frame.index, frame.img)
			if err != nil {
				return nil, &FrameError{Index: frame.index, Err: err}
			}
			continue
		}

		step, err := p.Estimator.EstimateRelativePose(ctx, ref, frame.index, frame.img)
		if err != nil {
			return nil, &FrameError{Index: frame.index, Err: err}
		}
		abs := trajectory.Append(step.Pose)
		pos := abs.Position()
		p.Logger.Infow("pose estimated",
			"reference", ref.Index, "frame", frame.index,
			"correspondences", len(step.CurPoints), "inliers", step.NumInliers(),
			"x", pos.X, "y", pos.Y, "z", pos.Z)
		if p.DebugDir != "" {
			if err := saveCorrespondences(p.DebugDir, ref, frame.img, step); err != nil {
				p.Logger.Warnw("cannot save debug image", "frame", frame.index, "error", err)
			}
		}
		ref = step.Next
	}
	// the producer stopped early and reports its own error
	if trajectory.Len() != numFrames {
		return nil, nil
	}
	return &Output{Calibration: calib, Result: trajectory.Result()}, nil
}

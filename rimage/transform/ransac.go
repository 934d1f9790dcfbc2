package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minimalSampleSize is the number of correspondences of one RANSAC hypothesis.
const minimalSampleSize = 8

// RANSACConfig holds the parameters of the robust essential matrix estimation.
type RANSACConfig struct {
	// Probability that at least one sample is outlier free.
	Probability float64 `json:"probability"`
	// ThresholdPx is the maximum epipolar distance of an inlier, in pixels.
	ThresholdPx float64 `json:"threshold_px"`
	// MaxIterations caps the number of hypotheses.
	MaxIterations int `json:"max_iterations"`
	// Seed makes the sampling reproducible.
	Seed int64 `json:"seed"`
}

// DefaultRANSACConfig returns the usual robust estimation settings.
func DefaultRANSACConfig() RANSACConfig {
	return RANSACConfig{
		Probability:   0.999,
		ThresholdPx:   1.0,
		MaxIterations: 1000,
	}
}

// CheckValid checks that the settings describe a usable RANSAC loop.
func (cfg RANSACConfig) CheckValid() error {
	if cfg.Probability <= 0 || cfg.Probability >= 1 {
		return errors.Errorf("ransac probability must be in (0, 1), got %v", cfg.Probability)
	}
	if cfg.ThresholdPx <= 0 {
		return errors.Errorf("ransac threshold must be positive, got %v", cfg.ThresholdPx)
	}
	if cfg.MaxIterations < 1 {
		return errors.Errorf("ransac needs at least one iteration, got %d", cfg.MaxIterations)
	}
	return nil
}

// FindEssentialMatrix robustly estimates the essential matrix relating normalized points such
// that pts2ᵀ E pts1 = 0. The threshold is a squared Sampson distance in normalized coordinates.
// It returns the matrix refit on all inliers and the inlier mask.
func FindEssentialMatrix(pts1, pts2 []r2.Point, threshold float64, cfg RANSACConfig) (*mat.Dense, []bool, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	n := len(pts1)
	if n < minimalSampleSize {
		return nil, nil, errors.Wrapf(ErrPoseRecoveryFailed, "need at least %d correspondences, got %d", minimalSampleSize, n)
	}

	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sample1 := make([]r2.Point, minimalSampleSize)
	sample2 := make([]r2.Point, minimalSampleSize)

	var best *mat.Dense
	var bestMask []bool
	bestCount := 0
	maxIter := cfg.MaxIterations
	for iter := 0; iter < maxIter; iter++ {
		// partial Fisher-Yates shuffle picks a sample without repetition
		for i := 0; i < minimalSampleSize; i++ {
			j := i + rng.Intn(n-i)
			indices[i], indices[j] = indices[j], indices[i]
			sample1[i] = pts1[indices[i]]
			sample2[i] = pts2[indices[i]]
		}
		E, err := EstimateEssentialMatrix(sample1, sample2)
		if err != nil {
			continue
		}
		mask, count := scoreEssential(E, pts1, pts2, threshold)
		if count <= bestCount {
			continue
		}
		best, bestMask, bestCount = E, mask, count
		maxIter = adaptiveIterations(cfg.Probability, float64(count)/float64(n), cfg.MaxIterations)
	}
	if best == nil || bestCount < minimalSampleSize {
		return nil, nil, errors.Wrapf(ErrPoseRecoveryFailed, "only %d ransac inliers out of %d correspondences", bestCount, n)
	}

	// least squares refit on the consensus set, kept only if it does not lose inliers
	in1, in2 := selectPoints(pts1, bestMask), selectPoints(pts2, bestMask)
	if refit, err := EstimateEssentialMatrix(in1, in2); err == nil {
		if mask, count := scoreEssential(refit, pts1, pts2, threshold); count >= bestCount {
			best, bestMask = refit, mask
		}
	}
	return best, bestMask, nil
}

func scoreEssential(E *mat.Dense, pts1, pts2 []r2.Point, threshold float64) ([]bool, int) {
	mask := make([]bool, len(pts1))
	count := 0
	for i := range pts1 {
		if SampsonDistance(E, pts1[i], pts2[i]) <= threshold {
			mask[i] = true
			count++
		}
	}
	return mask, count
}

// adaptiveIterations is the number of samples needed to draw an outlier free one with the given
// probability when a fraction inlierRatio of the data are inliers.
func adaptiveIterations(probability, inlierRatio float64, maxIterations int) int {
	if inlierRatio >= 1 {
		return 1
	}
	good := math.Pow(inlierRatio, minimalSampleSize)
	if good <= 0 {
		return maxIterations
	}
	num := math.Log(1 - probability)
	den := math.Log(1 - good)
	if den >= 0 || -num >= float64(maxIterations)*-den {
		return maxIterations
	}
	return int(math.Ceil(num / den))
}

func selectPoints(pts []r2.Point, mask []bool) []r2.Point {
	out := make([]r2.Point, 0, len(pts))
	for i, pt := range pts {
		if mask[i] {
			out = append(out, pt)
		}
	}
	return out
}

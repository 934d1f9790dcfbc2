package keypoints

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
)

// ErrInsufficientMatches is returned when no correspondence survives the matching filters.
var ErrInsufficientMatches = errors.New("no good matches between descriptor sets")

// DefaultRatio is the default bound of Lowe's ratio test.
const DefaultRatio = 0.4

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	// Ratio accepts a match when its distance is strictly less than Ratio times the distance
	// of the second best candidate.
	Ratio        float64 `json:"ratio"`
	DoCrossCheck bool    `json:"do_cross_check"`
	// MaxDist rejects matches whose distance is not below it. 0 disables the check.
	MaxDist float64 `json:"max_dist"`
}

// DefaultMatchingConfig returns the ratio test with its usual bound and no other filter.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{Ratio: DefaultRatio}
}

// Validate ensures all parts of the MatchingConfig are valid.
func (config *MatchingConfig) Validate(path string) error {
	if config.Ratio <= 0 || config.Ratio > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("ratio should be in (0, 1], got %v", config.Ratio))
	}
	if config.MaxDist < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_dist should be >= 0"))
	}
	return nil
}

// Match is a correspondence between the reference descriptor RefIdx and the current descriptor CurIdx.
type Match struct {
	RefIdx   int
	CurIdx   int
	Distance float64
}

// MatchDescriptors finds, for each current descriptor, its two nearest reference descriptors in
// L2 distance and keeps the pair when it passes the ratio test and the optional filters. Matches
// are ordered by distance, then by current index.
func MatchDescriptors(ref, cur []Descriptor, cfg *MatchingConfig) ([]Match, error) {
	if cfg == nil {
		cfg = DefaultMatchingConfig()
	}
	if err := cfg.Validate("matching"); err != nil {
		return nil, err
	}
	if len(ref) == 0 || len(cur) == 0 {
		return nil, errors.Wrapf(ErrInsufficientMatches, "%d reference and %d current descriptors", len(ref), len(cur))
	}
	dim := len(ref[0])
	for _, set := range [][]Descriptor{ref, cur} {
		for i, d := range set {
			if len(d) != dim {
				return nil, errors.Errorf("descriptor %d has length %d, expected %d", i, len(d), dim)
			}
		}
	}

	// nearest current descriptor of every reference descriptor, for the cross check
	refBestCur := make([]int, len(ref))
	refBestDist := make([]float64, len(ref))
	for i := range refBestDist {
		refBestDist[i] = math.Inf(1)
	}

	candidates := make([]Match, 0, len(cur))
	for j, d := range cur {
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for i, r := range ref {
			dist := floats.Distance(d, r, 2)
			if dist < best {
				second = best
				best, bestIdx = dist, i
			} else if dist < second {
				second = dist
			}
			if dist < refBestDist[i] {
				refBestDist[i], refBestCur[i] = dist, j
			}
		}
		// a lone candidate has no second best and cannot pass the ratio test
		if len(ref) < 2 || !(best < cfg.Ratio*second) {
			continue
		}
		if cfg.MaxDist > 0 && !(best < cfg.MaxDist) {
			continue
		}
		candidates = append(candidates, Match{RefIdx: bestIdx, CurIdx: j, Distance: best})
	}

	matches := candidates[:0]
	for _, m := range candidates {
		if cfg.DoCrossCheck && refBestCur[m.RefIdx] != m.CurIdx {
			continue
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrInsufficientMatches, "none of %d current descriptors passed the filters", len(cur))
	}

	dists := make([]float64, len(matches))
	for i, m := range matches {
		dists[i] = m.Distance
	}
	order := make([]int, len(matches))
	floats.ArgsortStable(dists, order)
	sorted := make([]Match, len(matches))
	for i, idx := range order {
		sorted[i] = matches[idx]
	}
	return sorted, nil
}

// GetMatchingKeyPoints takes the matches and the keypoints and returns the positions of the
// matched reference and current keypoints, pairwise.
func GetMatchingKeyPoints(matches []Match, ref, cur KeyPoints) ([]r2.Point, []r2.Point, error) {
	refPts := make([]r2.Point, len(matches))
	curPts := make([]r2.Point, len(matches))
	for i, m := range matches {
		if m.RefIdx < 0 || m.RefIdx >= len(ref) {
			return nil, nil, errors.Errorf("match %d refers to reference keypoint %d of %d", i, m.RefIdx, len(ref))
		}
		if m.CurIdx < 0 || m.CurIdx >= len(cur) {
			return nil, nil, errors.Errorf("match %d refers to current keypoint %d of %d", i, m.CurIdx, len(cur))
		}
		refPts[i] = ref[m.RefIdx].Point
		curPts[i] = cur[m.CurIdx].Point
	}
	return refPts, curPts, nil
}

// argsortResponses returns the keypoint indices by decreasing response.
func argsortResponses(kps KeyPoints) []int {
	negated := make([]float64, len(kps))
	for i, kp := range kps {
		negated[i] = -kp.Response
	}
	order := make([]int, len(kps))
	floats.ArgsortStable(negated, order)
	return order
}

package keypoints

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// FASTConfig holds the parameters for FAST keypoints.
type FASTConfig struct {
	// NMatchesCircle is the number of contiguous circle pixels that must all be brighter or
	// darker than the center.
	NMatchesCircle int `json:"n_matches"`
	// NMSWinSize is the side of the non maximum suppression window.
	NMSWinSize int `json:"nms_win_size"`
	// Threshold is the intensity difference, as a fraction of the full range.
	Threshold float64 `json:"threshold"`
	Oriented  bool    `json:"oriented"`
}

// DefaultFASTConfig returns the FAST parameters used by the ORB extractor.
func DefaultFASTConfig() *FASTConfig {
	return &FASTConfig{NMatchesCircle: 9, NMSWinSize: 7, Threshold: 0.08, Oriented: true}
}

// Validate ensures all parts of the FASTConfig are valid.
func (config *FASTConfig) Validate(path string) error {
	if config.NMatchesCircle < 9 || config.NMatchesCircle > 16 {
		return utils.NewConfigValidationError(path, errors.New("n_matches should be between 9 and 16"))
	}
	if config.NMSWinSize < 1 {
		return utils.NewConfigValidationError(path, errors.New("nms_win_size should be >= 1"))
	}
	if config.Threshold <= 0 || config.Threshold >= 1 {
		return utils.NewConfigValidationError(path, errors.New("threshold should be in (0, 1)"))
	}
	return nil
}

// LoadFASTConfiguration loads a FASTConfig from a json file.
func LoadFASTConfiguration(file string) (*FASTConfig, error) {
	var config FASTConfig
	filePath := filepath.Clean(file)
	//nolint:gosec
	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", file)
	}
	if err := config.Validate(file); err != nil {
		return nil, err
	}
	return &config, nil
}

var (
	// CrossIdx is the compass points of the FAST circle, used to reject most pixels early.
	CrossIdx = []image.Point{{0, 3}, {3, 0}, {0, -3}, {-3, 0}}
	// CircleIdx is the Bresenham circle of radius 3, clockwise from the top.
	CircleIdx = []image.Point{
		{0, -3}, {1, -3}, {2, -2}, {3, -1},
		{3, 0}, {3, 1}, {2, 2}, {1, 3},
		{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
		{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
	}
)

// circleRadius is the distance to the border under which no keypoint is detected.
const circleRadius = 3

// FASTKeypoints stores keypoint locations, their scores and orientations when computed.
type FASTKeypoints struct {
	Points       []image.Point
	Responses    []float64
	Orientations []float64
}

// IsOriented returns true if FASTKeypoints contains orientations.
func (kps *FASTKeypoints) IsOriented() bool {
	return kps.Orientations != nil
}

// KeyPoints converts the detection to keypoints at the given scale.
func (kps *FASTKeypoints) KeyPoints(scale float64) KeyPoints {
	out := make(KeyPoints, len(kps.Points))
	for i, pt := range kps.Points {
		kp := KeyPoint{
			Point:    r2.Point{X: float64(pt.X), Y: float64(pt.Y)},
			Scale:    1,
			Response: kps.Responses[i],
		}
		if kps.IsOriented() {
			kp.Orientation = kps.Orientations[i]
		}
		out[i] = kp
	}
	return RescaleKeypoints(out, scale)
}

// GetPointValuesInNeighborhood returns the gray values of the neighborhood around a point.
func GetPointValuesInNeighborhood(img *image.Gray, coords image.Point, neighborhood []image.Point) []float64 {
	vals := make([]float64, len(neighborhood))
	for i, offset := range neighborhood {
		vals[i] = float64(img.GrayAt(coords.X+offset.X, coords.Y+offset.Y).Y)
	}
	return vals
}

// isValidSliceVals reports whether s holds at least n contiguous non zero values, the slice
// being seen as circular.
func isValidSliceVals(s []float64, n int) bool {
	if n <= 0 {
		return true
	}
	run := 0
	for i := 0; i < 2*len(s); i++ {
		if s[i%len(s)] != 0 {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func sumOfPositiveValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

func sumOfNegativeValuesSlice(s []float64) float64 {
	sum := 0.
	for _, v := range s {
		if v < 0 {
			sum += v
		}
	}
	return sum
}

// getBrighterValues returns a slice of 1 where the value is strictly above t, 0 elsewhere.
func getBrighterValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v > t {
			out[i] = 1
		}
	}
	return out
}

// getDarkerValues returns a slice of 1 where the value is strictly below t, 0 elsewhere.
func getDarkerValues(s []float64, t float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		if v < t {
			out[i] = 1
		}
	}
	return out
}

// fastScore returns the corner score of the pixel, 0 when it is not a corner.
func fastScore(img *image.Gray, pt image.Point, threshold float64, n int) float64 {
	center := float64(img.GrayAt(pt.X, pt.Y).Y)
	cross := GetPointValuesInNeighborhood(img, pt, CrossIdx)
	// any arc of 9 or more circle pixels contains at least 2 compass points
	nBright := sumOfPositiveValuesSlice(getBrighterValues(cross, center+threshold))
	nDark := sumOfPositiveValuesSlice(getDarkerValues(cross, center-threshold))
	if nBright < 2 && nDark < 2 {
		return 0
	}
	circle := GetPointValuesInNeighborhood(img, pt, CircleIdx)
	brighter := getBrighterValues(circle, center+threshold)
	darker := getDarkerValues(circle, center-threshold)
	diffs := make([]float64, len(circle))
	for i, v := range circle {
		diffs[i] = v - center
	}
	score := 0.
	if isValidSliceVals(brighter, n) {
		masked := make([]float64, len(diffs))
		for i := range diffs {
			masked[i] = diffs[i] * brighter[i]
		}
		score = sumOfPositiveValuesSlice(masked)
	}
	if isValidSliceVals(darker, n) {
		masked := make([]float64, len(diffs))
		for i := range diffs {
			masked[i] = diffs[i] * darker[i]
		}
		if s := -sumOfNegativeValuesSlice(masked); s > score {
			score = s
		}
	}
	return score
}

// ComputeFAST computes the location of FAST keypoints, strongest first, along with their scores.
func ComputeFAST(img *image.Gray, cfg *FASTConfig) ([]image.Point, []float64) {
	bnd := img.Bounds()
	w, h := bnd.Dx(), bnd.Dy()
	threshold := cfg.Threshold * 255
	scores := make([]float64, w*h)
	candidates := make([]image.Point, 0)
	for y := bnd.Min.Y + circleRadius; y < bnd.Max.Y-circleRadius; y++ {
		for x := bnd.Min.X + circleRadius; x < bnd.Max.X-circleRadius; x++ {
			pt := image.Point{x, y}
			if s := fastScore(img, pt, threshold, cfg.NMatchesCircle); s > 0 {
				scores[(y-bnd.Min.Y)*w+(x-bnd.Min.X)] = s
				candidates = append(candidates, pt)
			}
		}
	}

	// non maximum suppression, ties go to the first pixel in raster order
	half := cfg.NMSWinSize / 2
	kept := make([]image.Point, 0, len(candidates))
	keptScores := make([]float64, 0, len(candidates))
	for _, pt := range candidates {
		idx := (pt.Y-bnd.Min.Y)*w + (pt.X - bnd.Min.X)
		s := scores[idx]
		isMax := true
		for dy := -half; dy <= half && isMax; dy++ {
			for dx := -half; dx <= half; dx++ {
				qx, qy := pt.X-bnd.Min.X+dx, pt.Y-bnd.Min.Y+dy
				if (dx == 0 && dy == 0) || qx < 0 || qy < 0 || qx >= w || qy >= h {
					continue
				}
				other := scores[qy*w+qx]
				if other > s || (other == s && qy*w+qx < idx) {
					isMax = false
					break
				}
			}
		}
		if isMax {
			kept = append(kept, pt)
			keptScores = append(keptScores, s)
		}
	}

	order := make([]int, len(kept))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return keptScores[order[i]] > keptScores[order[j]]
	})
	points := make([]image.Point, len(kept))
	responses := make([]float64, len(kept))
	for i, o := range order {
		points[i] = kept[o]
		responses[i] = keptScores[o]
	}
	return points, responses
}

// NewFASTKeypointsFromImage returns a pointer to a FASTKeypoints struct containing keypoints
// locations, scores and orientations when cfg.Oriented is set.
func NewFASTKeypointsFromImage(img *image.Gray, cfg *FASTConfig) *FASTKeypoints {
	kps, responses := ComputeFAST(img, cfg)
	var orientations []float64
	if cfg.Oriented {
		orientations = make([]float64, len(kps))
		for i, kp := range kps {
			orientations[i] = computeKeypointOrientation(img, kp)
		}
	}
	return &FASTKeypoints{
		Points:       kps,
		Responses:    responses,
		Orientations: orientations,
	}
}

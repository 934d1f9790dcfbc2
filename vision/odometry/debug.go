package odometry

import (
	"fmt"
	"image"
	"path/filepath"

	"go.viam.com/monovo/vision/keypoints"
)

// saveCorrespondences draws the inlier correspondences of a step next to each other.
func saveCorrespondences(dir string, ref *Reference, cur image.Image, step *Step) error {
	refKps := make(keypoints.KeyPoints, 0, len(step.RefPoints))
	curKps := make(keypoints.KeyPoints, 0, len(step.CurPoints))
	matches := make([]keypoints.Match, 0, len(step.RefPoints))
	for i := range step.RefPoints {
		if i < len(step.Inliers) && !step.Inliers[i] {
			continue
		}
		matches = append(matches, keypoints.Match{RefIdx: len(refKps), CurIdx: len(curKps)})
		refKps = append(refKps, keypoints.KeyPoint{Point: step.RefPoints[i]})
		curKps = append(curKps, keypoints.KeyPoint{Point: step.CurPoints[i]})
	}
	name := filepath.Join(dir, fmt.Sprintf("matches_%06d_%06d.png", ref.Index, step.Next.Index))
	return keypoints.PlotMatches(ref.Image, cur, refKps, curKps, matches, name)
}

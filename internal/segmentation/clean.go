package segmentation

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"mito-hcs/internal/imaging"
)

// Column index of the area field in OpenCV connected-component stats.
const ccStatArea = 4

// CleanMask removes small foreground regions, fills small background
// holes, and smooths the mask boundary with a binary closing. Each step is
// skipped when its parameter is zero. The order is fixed: hole-fill, then
// object removal, then closing, so the closing cannot re-introduce noise
// that cleanup would have bridged.
//
// With all three parameters zero this is an identity copy.
func CleanMask(mask gocv.Mat, largestHole, smallestObject, binarySmoothing int) (gocv.Mat, error) {
	work := mask.Clone()

	if largestHole > 0 {
		if err := fillSmallHoles(work, largestHole); err != nil {
			work.Close()
			return gocv.Mat{}, fmt.Errorf("clean mask: %w", err)
		}
	}
	if smallestObject > 0 {
		if err := removeSmallObjects(work, smallestObject); err != nil {
			work.Close()
			return gocv.Mat{}, fmt.Errorf("clean mask: %w", err)
		}
	}
	if binarySmoothing > 0 {
		closeMask(&work, binarySmoothing)
	}
	return work, nil
}

// fillSmallHoles sets background components of area <= maxArea to
// foreground, in place.
func fillSmallHoles(mask gocv.Mat, maxArea int) error {
	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(mask, &inverted)

	small, comps, err := smallComponents(inverted, maxArea)
	if err != nil {
		return err
	}
	if len(small) == 0 {
		return nil
	}

	maskData, err := imaging.MaskData(mask)
	if err != nil {
		return err
	}
	for i, comp := range comps {
		if small[comp] {
			maskData[i] = imaging.MaskForeground
		}
	}
	return nil
}

// removeSmallObjects clears foreground components of area <= maxArea,
// in place.
func removeSmallObjects(mask gocv.Mat, maxArea int) error {
	small, comps, err := smallComponents(mask, maxArea)
	if err != nil {
		return err
	}
	if len(small) == 0 {
		return nil
	}

	maskData, err := imaging.MaskData(mask)
	if err != nil {
		return err
	}
	for i, comp := range comps {
		if small[comp] {
			maskData[i] = 0
		}
	}
	return nil
}

// smallComponents labels the foreground of mask and returns the set of
// component ids with area <= maxArea plus the per-pixel component map.
// Returns a nil set when no component qualifies.
func smallComponents(mask gocv.Mat, maxArea int) (map[int32]bool, []int32, error) {
	comps := gocv.NewMat()
	defer comps.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(mask, &comps, &stats, &centroids)

	small := make(map[int32]bool)
	for i := 1; i < n; i++ {
		area := int(stats.GetIntAt(i, ccStatArea))
		if area <= maxArea {
			small[int32(i)] = true
		}
	}
	if len(small) == 0 {
		return nil, nil, nil
	}

	compData, err := imaging.Labels(comps)
	if err != nil {
		return nil, nil, err
	}
	return small, compData, nil
}

// closeMask dilates then erodes with an elliptical kernel of the given
// radius, rejoining near-touching fragments and smoothing the boundary.
func closeMask(mask *gocv.Mat, radius int) {
	k := 2*radius + 1
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(k, k))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(*mask, &dilated, kernel)

	eroded := gocv.NewMat()
	gocv.Erode(dilated, &eroded, kernel)

	mask.Close()
	*mask = eroded
}

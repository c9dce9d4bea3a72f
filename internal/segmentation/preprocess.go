// Package segmentation implements the per-channel segmentation pipeline:
// threshold preprocessing, binary mask cleanup, connected-component
// labeling, and the touching-object splitter variants that refine raw
// components into nuclei, cells, and mitochondria clusters.
package segmentation

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"mito-hcs/internal/imaging"
)

// Smoothing sigmas at or below this are treated as disabled.
const smoothingTol = 1e-5

// gaussianKernelSize picks an odd kernel width covering three sigmas.
func gaussianKernelSize(sigma float64) int {
	k := 2*int(math.Ceil(3*sigma)) + 1
	if k < 3 {
		k = 3
	}
	return k
}

// Smooth applies a Gaussian blur with the given sigma to a CV32F image.
// A sigma at or below the tolerance returns an untouched copy.
func Smooth(img gocv.Mat, sigma float64) gocv.Mat {
	if sigma <= smoothingTol {
		return img.Clone()
	}
	k := gaussianKernelSize(sigma)
	dst := gocv.NewMat()
	gocv.GaussianBlur(img, &dst, image.Pt(k, k), sigma, sigma, gocv.BorderDefault)
	return dst
}

// Preprocess smooths an intensity image and applies a fixed threshold,
// producing a binary foreground mask (smoothed >= threshold). Pure: the
// input image is never modified.
func Preprocess(img gocv.Mat, smoothing, threshold float64) (gocv.Mat, error) {
	work := imaging.AsFloat(img)
	defer work.Close()

	smoothed := Smooth(work, smoothing)
	defer smoothed.Close()

	data, err := imaging.FloatData(smoothed)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("preprocess: %w", err)
	}

	// OpenCV's Threshold is strictly greater-than; the mask contract is >=.
	rows, cols := smoothed.Rows(), smoothed.Cols()
	mask := imaging.NewMask(rows, cols)
	maskData, err := imaging.MaskData(mask)
	if err != nil {
		mask.Close()
		return gocv.Mat{}, fmt.Errorf("preprocess: %w", err)
	}
	thresh := float32(threshold)
	for i, v := range data {
		if v >= thresh {
			maskData[i] = imaging.MaskForeground
		}
	}
	return mask, nil
}

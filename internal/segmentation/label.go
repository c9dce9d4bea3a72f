package segmentation

import (
	"gocv.io/x/gocv"
)

// Label assigns a unique positive integer to every 8-connected foreground
// region of a cleaned mask. Background stays 0. OpenCV labels components
// in raster-scan discovery order, which is stable within a run.
func Label(mask gocv.Mat) (gocv.Mat, int) {
	labels := gocv.NewMat()
	n := gocv.ConnectedComponentsWithParams(mask, &labels, 8, gocv.MatTypeCV32S)
	count := n - 1
	if count < 0 {
		count = 0
	}
	return labels, count
}

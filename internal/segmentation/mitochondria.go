package segmentation

import (
	"fmt"

	"gocv.io/x/gocv"

	"mito-hcs/internal/imaging"
)

// MitochondriaSplitter attributes mitochondria clusters to cells.
// Mitochondria pixels are often disconnected from any single cell region,
// so every pixel is assigned the geometrically nearest cell label over the
// whole image, and the foreground is then relabeled into connected runs of
// equal parent cell. Each final label is spatially connected and belongs
// to exactly one cell. With no cells in the image, all mitochondria pixels
// stay unassigned (label 0).
type MitochondriaSplitter struct{}

func (s *MitochondriaSplitter) Name() string { return "mitochondria" }

func (s *MitochondriaSplitter) Split(mask gocv.Mat, labels gocv.Mat, seeds *gocv.Mat) (gocv.Mat, error) {
	if seeds == nil {
		return gocv.Mat{}, fmt.Errorf("mitochondria splitter: cell labels: %w", ErrSeedsRequired)
	}

	rows, cols := mask.Rows(), mask.Cols()
	maskData, err := imaging.MaskData(mask)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("mitochondria splitter: %w", err)
	}
	cells, err := imaging.Labels(*seeds)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("mitochondria splitter: %w", err)
	}

	// Nearest cell per pixel, unconstrained: a cluster floating between
	// cells still belongs to whichever cell is closest.
	parents := nearestSeedAssign(cells, nil, rows, cols)

	out := relabelByParent(maskData, parents, rows, cols)
	return imaging.LabelsToMat(out, rows, cols), nil
}

// relabelByParent labels the connected components of the mask, where
// connectivity additionally requires both pixels to share the same parent
// assignment. Pixels with no parent (no cell anywhere in the image) stay 0.
// Labels are issued in raster-scan order.
func relabelByParent(maskData []uint8, parents []int32, rows, cols int) []int32 {
	out := make([]int32, len(maskData))
	var next int32
	stack := make([]int32, 0, 256)

	for start := range maskData {
		if maskData[start] == 0 || out[start] != 0 || parents[start] == 0 {
			continue
		}
		next++
		parent := parents[start]

		out[start] = next
		stack = append(stack[:0], int32(start))
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r := idx / int32(cols)
			c := idx % int32(cols)
			for _, off := range neighborOffsets {
				nr, nc := r+off[0], c+off[1]
				if nr < 0 || nr >= int32(rows) || nc < 0 || nc >= int32(cols) {
					continue
				}
				nidx := nr*int32(cols) + nc
				if maskData[nidx] == 0 || out[nidx] != 0 || parents[nidx] != parent {
					continue
				}
				out[nidx] = next
				stack = append(stack, nidx)
			}
		}
	}
	return out
}

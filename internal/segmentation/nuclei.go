package segmentation

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"mito-hcs/internal/imaging"
)

// Nuclei are roughly convex, so the peaks of the distance transform
// approximate nucleus centers and a watershed from those peaks splits
// touching nuclei along their shared boundary.
const (
	// Minimum spacing between nucleus centers (px).
	nucleiMinSpacing = 10
	// Minimum radius of an individual nucleus (px); distance-transform
	// peaks below this are noise, not centers.
	nucleiMinRadius = 2.0
)

// NucleiSplitter splits touching nuclei with a distance-transform
// watershed. It needs no auxiliary seed map.
type NucleiSplitter struct{}

func (s *NucleiSplitter) Name() string { return "nuclei" }

func (s *NucleiSplitter) Split(mask gocv.Mat, labels gocv.Mat, seeds *gocv.Mat) (gocv.Mat, error) {
	rows, cols := mask.Rows(), mask.Cols()

	maskData, err := imaging.MaskData(mask)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("nuclei splitter: %w", err)
	}

	// Distance to the nearest background pixel.
	dist := gocv.NewMat()
	defer dist.Close()
	distLabels := gocv.NewMat()
	defer distLabels.Close()
	gocv.DistanceTransform(mask, &dist, &distLabels, gocv.DistL2, gocv.DistanceMask5, gocv.DistanceLabelCComp)

	distData, err := imaging.FloatData(dist)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("nuclei splitter: %w", err)
	}

	// Local maxima via a grayscale max filter: a pixel is a peak when it
	// equals the maximum over the spacing window and is tall enough.
	k := 2*nucleiMinSpacing + 1
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(k, k))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(dist, &dilated, kernel)

	dilatedData, err := imaging.FloatData(dilated)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("nuclei splitter: %w", err)
	}

	peaks := make([]uint8, rows*cols)
	for i := range peaks {
		if maskData[i] != 0 && distData[i] >= nucleiMinRadius && distData[i] == dilatedData[i] {
			peaks[i] = 1
		}
	}
	peakMask := imaging.MaskToMat(peaks, rows, cols)
	defer peakMask.Close()

	// Plateau peaks within one window collapse into a single marker.
	markerMat, _ := Label(peakMask)
	defer markerMat.Close()
	markers, err := imaging.Labels(markerMat)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("nuclei splitter: %w", err)
	}

	// Flood ascending on the negated distance map: basins grow from the
	// centers outward and touching nuclei split where fronts meet.
	surface := make([]float32, len(distData))
	for i, d := range distData {
		surface[i] = -d
	}
	out := watershedFlood(surface, markers, maskData, rows, cols)

	// Mask components too small or too flat to produce a peak keep a
	// single label each, so the split never loses objects.
	relabelUnseeded(out, labels, maskData)

	return imaging.LabelsToMat(out, rows, cols), nil
}

// relabelUnseeded assigns a fresh label, above every label already in out,
// to each connected component of the mask that the splitter left
// unassigned. Components are numbered in raster-scan order of the original
// component labels.
func relabelUnseeded(out []int32, components gocv.Mat, maskData []uint8) {
	compData, err := imaging.Labels(components)
	if err != nil {
		return
	}

	next := imaging.MaxLabel(out) + 1
	renumber := make(map[int32]int32)
	for i, label := range out {
		if label != 0 || maskData[i] == 0 {
			continue
		}
		comp := compData[i]
		fresh, ok := renumber[comp]
		if !ok {
			fresh = next
			renumber[comp] = fresh
			next++
		}
		out[i] = fresh
	}
}

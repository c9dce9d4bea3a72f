package segmentation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/imaging"
)

// drawCircle sets the pixels within radius of (cr, cc) to value.
func drawCircle(data []float32, rows, cols, cr, cc, radius int, value float32) {
	r2 := radius * radius
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dr, dc := r-cr, c-cc
			if dr*dr+dc*dc <= r2 {
				data[r*cols+c] = value
			}
		}
	}
}

func labelSlice(t *testing.T, m gocv.Mat) []int32 {
	t.Helper()
	labels, err := imaging.Labels(m)
	require.NoError(t, err)
	return labels
}

func countDistinct(labels []int32) int {
	seen := make(map[int32]struct{})
	for _, l := range labels {
		if l > 0 {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

func TestPreprocessThresholdIsInclusive(t *testing.T) {
	img := imaging.NewFloat(1, 3)
	defer img.Close()
	data, err := imaging.FloatData(img)
	require.NoError(t, err)
	data[0], data[1], data[2] = 499, 500, 501

	mask, err := Preprocess(img, 0, 500)
	require.NoError(t, err)
	defer mask.Close()

	got, err := imaging.MaskData(mask)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got[0])
	assert.Equal(t, imaging.MaskForeground, got[1])
	assert.Equal(t, imaging.MaskForeground, got[2])
}

func TestCleanMaskZeroParamsIsIdentity(t *testing.T) {
	const rows, cols = 20, 20
	src := make([]uint8, rows*cols)
	// An awkward mask: single pixels, a hole, a ragged edge.
	for _, idx := range []int{0, 21, 22, 23, 41, 43, 61, 62, 63, 150, 399} {
		src[idx] = 1
	}
	mask := imaging.MaskToMat(src, rows, cols)
	defer mask.Close()

	cleaned, err := CleanMask(mask, 0, 0, 0)
	require.NoError(t, err)
	defer cleaned.Close()

	want, err := imaging.MaskData(mask)
	require.NoError(t, err)
	got, err := imaging.MaskData(cleaned)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCleanMaskFillsHolesAndRemovesObjects(t *testing.T) {
	const rows, cols = 20, 20
	src := make([]uint8, rows*cols)
	// A 10x10 block with a single-pixel hole, plus an isolated speck.
	for r := 5; r < 15; r++ {
		for c := 5; c < 15; c++ {
			src[r*cols+c] = 1
		}
	}
	src[10*cols+10] = 0
	src[2*cols+2] = 1

	mask := imaging.MaskToMat(src, rows, cols)
	defer mask.Close()

	cleaned, err := CleanMask(mask, 1, 1, 0)
	require.NoError(t, err)
	defer cleaned.Close()

	got, err := imaging.MaskData(cleaned)
	require.NoError(t, err)
	assert.Equal(t, imaging.MaskForeground, got[10*cols+10], "hole should be filled")
	assert.Equal(t, uint8(0), got[2*cols+2], "speck should be removed")
}

func TestNucleiStageSplitsOverlappingCircles(t *testing.T) {
	const rows, cols = 100, 100
	params := config.SegmentationParams{
		Threshold: 500,
		Algorithm: config.AlgorithmNuclei,
	}
	stage, err := NewStage(params, nil)
	require.NoError(t, err)

	t.Run("disjoint circles give two components", func(t *testing.T) {
		data := make([]float32, rows*cols)
		drawCircle(data, rows, cols, 50, 25, 16, 1000)
		drawCircle(data, rows, cols, 50, 75, 16, 1000)
		img := imaging.FloatToMat(data, rows, cols)
		defer img.Close()

		labels, err := stage.Run(img, nil)
		require.NoError(t, err)
		defer labels.Close()
		assert.Equal(t, 2, countDistinct(labelSlice(t, labels)))
	})

	t.Run("overlapping circles still split in two", func(t *testing.T) {
		data := make([]float32, rows*cols)
		// Radius 16, centers 27 px apart: 5 px overlap, one connected
		// component before the watershed.
		drawCircle(data, rows, cols, 50, 36, 16, 1000)
		drawCircle(data, rows, cols, 50, 63, 16, 1000)
		img := imaging.FloatToMat(data, rows, cols)
		defer img.Close()

		mask, err := Preprocess(img, 0, 500)
		require.NoError(t, err)
		defer mask.Close()
		comps, plain := Label(mask)
		comps.Close()
		assert.Equal(t, 1, plain, "sanity: circles must touch")

		labels, err := stage.Run(img, nil)
		require.NoError(t, err)
		defer labels.Close()
		assert.Equal(t, 2, countDistinct(labelSlice(t, labels)))
	})
}

func TestNucleiSplitterNeverDropsComponents(t *testing.T) {
	const rows, cols = 40, 40
	data := make([]float32, rows*cols)
	// One proper nucleus plus a sliver too thin to produce a distance peak.
	drawCircle(data, rows, cols, 15, 15, 8, 1000)
	for c := 30; c < 38; c++ {
		data[30*cols+c] = 1000
	}
	img := imaging.FloatToMat(data, rows, cols)
	defer img.Close()

	mask, err := Preprocess(img, 0, 500)
	require.NoError(t, err)
	defer mask.Close()
	components, plain := Label(mask)
	defer components.Close()

	splitter := &NucleiSplitter{}
	out, err := splitter.Split(mask, components, nil)
	require.NoError(t, err)
	defer out.Close()

	got := countDistinct(labelSlice(t, out))
	assert.GreaterOrEqual(t, got, plain, "split may never lose objects")

	// Every foreground pixel keeps a label.
	maskData, err := imaging.MaskData(mask)
	require.NoError(t, err)
	outData := labelSlice(t, out)
	for i, v := range maskData {
		if v != 0 {
			assert.NotZero(t, outData[i], "foreground pixel %d lost its label", i)
		}
	}
}

func TestCellSplitterSingleNucleus(t *testing.T) {
	const rows, cols = 30, 30
	maskData := make([]uint8, rows*cols)
	for r := 5; r < 25; r++ {
		for c := 5; c < 25; c++ {
			maskData[r*cols+c] = 1
		}
	}
	mask := imaging.MaskToMat(maskData, rows, cols)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	// One nucleus, label 3, inside the cell region.
	nuclei := make([]int32, rows*cols)
	for r := 12; r < 16; r++ {
		for c := 12; c < 16; c++ {
			nuclei[r*cols+c] = 3
		}
	}
	seedMat := imaging.LabelsToMat(nuclei, rows, cols)
	defer seedMat.Close()

	splitter := &CellSplitter{}
	out, err := splitter.Split(mask, components, &seedMat)
	require.NoError(t, err)
	defer out.Close()

	outData := labelSlice(t, out)
	for i, v := range maskData {
		if v != 0 {
			assert.Equal(t, int32(3), outData[i], "cell pixel %d must take the nucleus label", i)
		} else {
			assert.Zero(t, outData[i])
		}
	}
}

func TestCellSplitterKeepsNucleusFreeRegions(t *testing.T) {
	const rows, cols = 20, 40
	maskData := make([]uint8, rows*cols)
	// Two disjoint cell regions, only the left one has a nucleus.
	for r := 5; r < 15; r++ {
		for c := 2; c < 12; c++ {
			maskData[r*cols+c] = 1
		}
		for c := 25; c < 35; c++ {
			maskData[r*cols+c] = 1
		}
	}
	mask := imaging.MaskToMat(maskData, rows, cols)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	nuclei := make([]int32, rows*cols)
	nuclei[8*cols+6] = 1
	seedMat := imaging.LabelsToMat(nuclei, rows, cols)
	defer seedMat.Close()

	splitter := &CellSplitter{}
	out, err := splitter.Split(mask, components, &seedMat)
	require.NoError(t, err)
	defer out.Close()

	outData := labelSlice(t, out)
	assert.Equal(t, int32(1), outData[8*cols+6])
	right := outData[8*cols+30]
	assert.NotZero(t, right, "nucleus-free region keeps a label")
	assert.NotEqual(t, int32(1), right, "nucleus-free region gets a fresh label")
	assert.Equal(t, 2, countDistinct(outData))
}

func TestCellSplitterNeverCrossesBackgroundGaps(t *testing.T) {
	const rows, cols = 20, 40
	maskData := make([]uint8, rows*cols)
	for r := 5; r < 15; r++ {
		for c := 2; c < 12; c++ {
			maskData[r*cols+c] = 1
		}
		for c := 25; c < 35; c++ {
			maskData[r*cols+c] = 1
		}
	}
	mask := imaging.MaskToMat(maskData, rows, cols)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	// Both nuclei sit in the left region; the right region must not adopt
	// either label across the background gap.
	nuclei := make([]int32, rows*cols)
	nuclei[7*cols+5] = 1
	nuclei[12*cols+8] = 2
	seedMat := imaging.LabelsToMat(nuclei, rows, cols)
	defer seedMat.Close()

	splitter := &CellSplitter{}
	out, err := splitter.Split(mask, components, &seedMat)
	require.NoError(t, err)
	defer out.Close()

	outData := labelSlice(t, out)
	for r := 5; r < 15; r++ {
		for c := 25; c < 35; c++ {
			got := outData[r*cols+c]
			assert.NotContains(t, []int32{1, 2}, got, "pixel (%d,%d) crossed the gap", r, c)
			assert.NotZero(t, got)
		}
	}
}

func TestMitochondriaSplitterTieBreaksToLowestLabel(t *testing.T) {
	const rows, cols = 5, 5
	maskData := make([]uint8, rows*cols)
	maskData[0*cols+1] = 1
	maskData[0*cols+2] = 1
	maskData[0*cols+3] = 1
	mask := imaging.MaskToMat(maskData, rows, cols)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	// Cell 1 at column 0, cell 2 at column 4: the middle pixel at column 2
	// is exactly equidistant and must join cell 1.
	cells := make([]int32, rows*cols)
	cells[0*cols+0] = 1
	cells[0*cols+4] = 2
	seedMat := imaging.LabelsToMat(cells, rows, cols)
	defer seedMat.Close()

	splitter := &MitochondriaSplitter{}
	out, err := splitter.Split(mask, components, &seedMat)
	require.NoError(t, err)
	defer out.Close()

	outData := labelSlice(t, out)
	left, mid, right := outData[0*cols+1], outData[0*cols+2], outData[0*cols+3]
	assert.NotZero(t, left)
	assert.NotZero(t, right)
	assert.Equal(t, left, mid, "equidistant pixel joins the lower cell's cluster")
	assert.NotEqual(t, left, right, "pixels owned by different cells split into separate objects")
}

func TestMitochondriaSplitterNoCells(t *testing.T) {
	const rows, cols = 10, 10
	maskData := make([]uint8, rows*cols)
	maskData[5*cols+5] = 1
	mask := imaging.MaskToMat(maskData, rows, cols)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	empty := imaging.NewLabels(rows, cols)
	defer empty.Close()

	splitter := &MitochondriaSplitter{}
	out, err := splitter.Split(mask, components, &empty)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 0, countDistinct(labelSlice(t, out)))
}

func TestSplittersRequireSeeds(t *testing.T) {
	mask := imaging.NewMask(5, 5)
	defer mask.Close()
	components, _ := Label(mask)
	defer components.Close()

	for _, splitter := range []Splitter{&CellSplitter{}, &MitochondriaSplitter{}} {
		_, err := splitter.Split(mask, components, nil)
		require.Error(t, err, splitter.Name())
		assert.True(t, errors.Is(err, ErrSeedsRequired), splitter.Name())
	}
}

func TestNewStageRejectsUnknownAlgorithm(t *testing.T) {
	params := config.SegmentationParams{Algorithm: "voronoi"}
	_, err := NewStage(params, nil)
	require.Error(t, err)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

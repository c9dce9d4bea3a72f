package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mito-hcs/internal/config"
	"mito-hcs/internal/imaging"
)

// testBatchConfig disables cleanup and background subtraction so the tiny
// synthetic images survive every stage.
func testBatchConfig() *config.Config {
	cfg := config.Default()
	cfg.SegNuclei = config.SegmentationParams{Threshold: 500, Algorithm: config.AlgorithmNuclei}
	cfg.SegCells = config.SegmentationParams{Threshold: 100, Algorithm: config.AlgorithmCell}
	cfg.SegMitochondria = config.SegmentationParams{Threshold: 500, Algorithm: config.AlgorithmMitochondria}
	cfg.ShapeIndex = config.ShapeIndexParams{
		Features:           []string{config.FeatureSpot, config.FeatureRidge},
		IntensitySmoothing: 0.75,
	}
	return &cfg
}

func writeDiskImage(t *testing.T, path string, cr, cc, radius int, value float32) {
	t.Helper()
	const rows, cols = 80, 80
	data := make([]float32, rows*cols)
	r2 := radius * radius
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dr, dc := r-cr, c-cc
			if dr*dr+dc*dc <= r2 {
				data[r*cols+c] = value
			}
		}
	}
	img := imaging.FloatToMat(data, rows, cols)
	defer img.Close()
	require.NoError(t, imaging.WriteFloat(path, img))
}

func writeFOV(t *testing.T, indir, prefix string) {
	t.Helper()
	writeDiskImage(t, filepath.Join(indir, prefix+"ch1.tif"), 40, 40, 25, 800)  // cell
	writeDiskImage(t, filepath.Join(indir, prefix+"ch2.tif"), 40, 40, 8, 1000)  // nuclei
	writeDiskImage(t, filepath.Join(indir, prefix+"ch3.tif"), 30, 30, 3, 1000)  // mitochondria
}

func TestRunnerEndToEnd(t *testing.T) {
	indir := t.TempDir()
	outdir := filepath.Join(indir, "mito-hcs")
	writeFOV(t, indir, "r01c01f01")
	writeFOV(t, indir, "r01c01f02")

	runner, err := NewRunner(testBatchConfig(), nil, 2)
	require.NoError(t, err)
	require.NoError(t, runner.Run(indir, outdir))

	for _, prefix := range []string{"r01c01f01", "r01c01f02"} {
		for _, name := range []string{
			"nuclei_labels.tif", "cell_labels.tif", "mitochondria_labels.tif",
			"spot_feature.tif", "ridge_feature.tif",
			"nuclei_stats.csv", "cell_stats.csv", "mitochondria_stats.csv",
		} {
			path := filepath.Join(outdir, prefix, name)
			_, err := os.Stat(path)
			assert.NoError(t, err, "missing output %s", path)
		}
	}

	summary, err := os.ReadFile(filepath.Join(outdir, SummaryFileName))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Prefix,Count")
	assert.Contains(t, string(summary), "r01c01f01")
	assert.Contains(t, string(summary), "r01c01f02")
}

func TestRunnerSkipsFailingFOV(t *testing.T) {
	indir := t.TempDir()
	outdir := filepath.Join(indir, "out")
	writeFOV(t, indir, "r01c01f01")
	// A complete but unreadable group: empty files instead of TIFFs.
	for _, ch := range []string{"ch1", "ch2", "ch3"} {
		require.NoError(t, os.WriteFile(filepath.Join(indir, "r01c01f02"+ch+".tif"), nil, 0o644))
	}

	runner, err := NewRunner(testBatchConfig(), nil, 1)
	require.NoError(t, err)
	require.NoError(t, runner.Run(indir, outdir))

	_, err = os.Stat(filepath.Join(outdir, "r01c01f01", "mitochondria_stats.csv"))
	assert.NoError(t, err, "healthy field of view still processed")
	_, err = os.Stat(filepath.Join(outdir, "r01c01f02"))
	assert.True(t, os.IsNotExist(err), "failing field of view produces no output")

	summary, err := os.ReadFile(filepath.Join(outdir, SummaryFileName))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "r01c01f01")
	assert.NotContains(t, string(summary), "r01c01f02")
}

func TestRunnerNoFieldsOfView(t *testing.T) {
	indir := t.TempDir()
	runner, err := NewRunner(testBatchConfig(), nil, 1)
	require.NoError(t, err)
	assert.Error(t, runner.Run(indir, filepath.Join(indir, "out")))
}

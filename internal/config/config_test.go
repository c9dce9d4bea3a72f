package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, AlgorithmNuclei, cfg.SegNuclei.Algorithm)
	assert.Equal(t, AlgorithmCell, cfg.SegCells.Algorithm)
	assert.Equal(t, AlgorithmMitochondria, cfg.SegMitochondria.Algorithm)
	assert.Len(t, cfg.ShapeIndex.Features, 5)
	assert.ElementsMatch(t, []string{StatGeometry, StatIntensity, StatTexture}, cfg.Stats.Stats)

	// Default returns copies, not views of the bundled config.
	cfg.SegNuclei.Threshold = -1
	cfg.ShapeIndex.Features[0] = "changed"
	fresh := Default()
	assert.Equal(t, 500.0, fresh.SegNuclei.Threshold)
	assert.Equal(t, FeatureSpot, fresh.ShapeIndex.Features[0])
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.SegNuclei.Threshold = 750
	cfg.ShapeIndex.Features = []string{FeatureSpot, FeatureRidge}
	cfg.Stats.Spacing = []float64{0.5, 0.25}

	path := filepath.Join(t.TempDir(), "mito-hcs.toml")
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.toml")
	writeFile(t, path, "[segment_nuclei]\nthreshold = 500.0\nalgorithm = \"nuclei\"\nmystery_knob = 3\n")

	_, err := Load(path)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSegmentationParamsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*SegmentationParams)
		field  string
	}{
		{"negative smoothing", func(p *SegmentationParams) { p.IntensitySmoothing = -1 }, "intensity_smoothing"},
		{"negative hole", func(p *SegmentationParams) { p.LargestHole = -1 }, "largest_hole"},
		{"negative object", func(p *SegmentationParams) { p.SmallestObject = -1 }, "smallest_object"},
		{"negative closing", func(p *SegmentationParams) { p.BinarySmoothing = -1 }, "binary_smoothing"},
		{"unknown algorithm", func(p *SegmentationParams) { p.Algorithm = "voronoi" }, "algorithm"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := Default().SegNuclei
			tt.mutate(&params)
			err := params.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestStatParamsPitch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spacing  []float64
		row, col float64
	}{
		{"empty", nil, 1, 1},
		{"isotropic", []float64{0.5}, 0.5, 0.5},
		{"anisotropic", []float64{0.5, 0.25}, 0.5, 0.25},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := StatParams{Spacing: tt.spacing}
			row, col := p.Pitch()
			assert.Equal(t, tt.row, row)
			assert.Equal(t, tt.col, col)
		})
	}

	t.Run("too many values", func(t *testing.T) {
		t.Parallel()
		p := StatParams{Spacing: []float64{1, 1, 1}}
		assert.Error(t, p.Validate())
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

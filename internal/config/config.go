// Package config holds the parameter records for every pipeline stage and
// their TOML serialization. A single immutable default configuration is
// constructed at package init; callers always receive copies.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Segmentation algorithm variants. Closed set, selected by
// SegmentationParams.Algorithm.
const (
	AlgorithmNuclei       = "nuclei"
	AlgorithmCell         = "cell"
	AlgorithmMitochondria = "mitochondria"
)

// Shape index feature names.
const (
	FeatureSpot   = "spot"
	FeatureHole   = "hole"
	FeatureRidge  = "ridge"
	FeatureValley = "valley"
	FeatureSaddle = "saddle"
)

// Statistic groups.
const (
	StatGeometry  = "geometry"
	StatIntensity = "intensity"
	StatTexture   = "texture"
)

// ValidationError reports a malformed parameter value. It aborts the field
// of view being configured, never silently substitutes a default.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// FindFileParams groups channel images into fields of view by filename.
// Each pattern must contain one capture group; the captured text is the
// field-of-view prefix. Matching is case insensitive.
type FindFileParams struct {
	NucleiPattern       string `toml:"nuclei_pattern"`
	CellPattern         string `toml:"cell_pattern"`
	MitochondriaPattern string `toml:"mitochondria_pattern"`
}

// SegmentationParams configures one segmentation stage.
type SegmentationParams struct {
	// IntensitySmoothing is the Gaussian sigma applied before thresholding
	// (in px, 0 disables).
	IntensitySmoothing float64 `toml:"intensity_smoothing"`

	// Threshold separates foreground (>= threshold) from background.
	Threshold float64 `toml:"threshold"`

	// LargestHole is the largest background hole to fill (in px^2, 0 disables).
	LargestHole int `toml:"largest_hole"`

	// SmallestObject is the largest foreground region to discard
	// (in px^2, 0 disables).
	SmallestObject int `toml:"smallest_object"`

	// BinarySmoothing is the closing radius applied to the mask
	// (in px, 0 disables).
	BinarySmoothing int `toml:"binary_smoothing"`

	// Algorithm selects the touching-object splitter, one of
	// AlgorithmNuclei, AlgorithmCell, AlgorithmMitochondria.
	Algorithm string `toml:"algorithm"`
}

func (p SegmentationParams) Validate() error {
	if p.IntensitySmoothing < 0 {
		return &ValidationError{Field: "intensity_smoothing", Reason: "must be >= 0"}
	}
	if p.LargestHole < 0 {
		return &ValidationError{Field: "largest_hole", Reason: "must be >= 0"}
	}
	if p.SmallestObject < 0 {
		return &ValidationError{Field: "smallest_object", Reason: "must be >= 0"}
	}
	if p.BinarySmoothing < 0 {
		return &ValidationError{Field: "binary_smoothing", Reason: "must be >= 0"}
	}
	switch p.Algorithm {
	case AlgorithmNuclei, AlgorithmCell, AlgorithmMitochondria:
		return nil
	default:
		return &ValidationError{
			Field:  "algorithm",
			Reason: fmt.Sprintf("unknown algorithm %q", p.Algorithm),
		}
	}
}

// ShapeIndexParams configures the shape index feature extraction on the
// mitochondria intensity channel.
type ShapeIndexParams struct {
	// Features is the subset of shape index features to extract.
	Features []string `toml:"features"`

	// IntensitySmoothing is the Gaussian sigma applied before computing
	// derivatives (in px, 0 disables).
	IntensitySmoothing float64 `toml:"intensity_smoothing"`

	// ParabolaHeight is the height of the rolling-parabola background
	// filter (in px, 0 disables background subtraction).
	ParabolaHeight float64 `toml:"parabola_height"`
}

func (p ShapeIndexParams) Validate() error {
	if p.IntensitySmoothing < 0 {
		return &ValidationError{Field: "intensity_smoothing", Reason: "must be >= 0"}
	}
	if p.ParabolaHeight < 0 {
		return &ValidationError{Field: "parabola_height", Reason: "must be >= 0"}
	}
	for _, name := range p.Features {
		switch name {
		case FeatureSpot, FeatureHole, FeatureRidge, FeatureValley, FeatureSaddle:
		default:
			return &ValidationError{
				Field:  "features",
				Reason: fmt.Sprintf("unknown feature %q", name),
			}
		}
	}
	return nil
}

// HasFeature reports whether the named feature was requested.
func (p ShapeIndexParams) HasFeature(name string) bool {
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// StatParams configures measurement aggregation.
type StatParams struct {
	// Stats is the subset of statistic groups to compute.
	Stats []string `toml:"stats"`

	// Spacing is the physical pixel pitch, either one value or
	// [row pitch, column pitch] in physical units per px.
	Spacing []float64 `toml:"spacing"`
}

func (p StatParams) Validate() error {
	for _, name := range p.Stats {
		switch name {
		case StatGeometry, StatIntensity, StatTexture:
		default:
			return &ValidationError{
				Field:  "stats",
				Reason: fmt.Sprintf("unknown stat group %q", name),
			}
		}
	}
	if len(p.Spacing) > 2 {
		return &ValidationError{Field: "spacing", Reason: "expected at most two pitch values"}
	}
	for _, s := range p.Spacing {
		if s <= 0 {
			return &ValidationError{Field: "spacing", Reason: "pitch must be > 0"}
		}
	}
	return nil
}

// HasStat reports whether the named statistic group was requested.
func (p StatParams) HasStat(name string) bool {
	for _, s := range p.Stats {
		if s == name {
			return true
		}
	}
	return false
}

// Pitch returns the (row, column) pixel pitch, defaulting to 1.0.
func (p StatParams) Pitch() (float64, float64) {
	switch len(p.Spacing) {
	case 0:
		return 1.0, 1.0
	case 1:
		return p.Spacing[0], p.Spacing[0]
	default:
		return p.Spacing[0], p.Spacing[1]
	}
}

// Config is the full parameter set for one batch run.
type Config struct {
	FindFiles       FindFileParams     `toml:"find_files"`
	SegNuclei       SegmentationParams `toml:"segment_nuclei"`
	SegCells        SegmentationParams `toml:"segment_cells"`
	SegMitochondria SegmentationParams `toml:"segment_mitochondria"`
	ShapeIndex      ShapeIndexParams   `toml:"shape_index"`
	Stats           StatParams         `toml:"stats"`
}

func (c *Config) Validate() error {
	if err := c.SegNuclei.Validate(); err != nil {
		return fmt.Errorf("segment_nuclei: %w", err)
	}
	if err := c.SegCells.Validate(); err != nil {
		return fmt.Errorf("segment_cells: %w", err)
	}
	if err := c.SegMitochondria.Validate(); err != nil {
		return fmt.Errorf("segment_mitochondria: %w", err)
	}
	if err := c.ShapeIndex.Validate(); err != nil {
		return fmt.Errorf("shape_index: %w", err)
	}
	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return nil
}

// defaultConfig is the bundled mito-hcs parameter set. Thresholds assume
// 16-bit intensity images from a high-content imager.
var defaultConfig = Config{
	FindFiles: FindFileParams{
		CellPattern:         `(r[0-9]+c[0-9]+f[0-9]+)ch1`,
		NucleiPattern:       `(r[0-9]+c[0-9]+f[0-9]+)ch2`,
		MitochondriaPattern: `(r[0-9]+c[0-9]+f[0-9]+)ch3`,
	},
	SegNuclei: SegmentationParams{
		IntensitySmoothing: 2.0,
		Threshold:          500,
		LargestHole:        100,
		SmallestObject:     200,
		BinarySmoothing:    2,
		Algorithm:          AlgorithmNuclei,
	},
	SegCells: SegmentationParams{
		IntensitySmoothing: 2.0,
		Threshold:          200,
		LargestHole:        100,
		SmallestObject:     200,
		BinarySmoothing:    4,
		Algorithm:          AlgorithmCell,
	},
	SegMitochondria: SegmentationParams{
		IntensitySmoothing: 0.5,
		Threshold:          350,
		LargestHole:        0,
		SmallestObject:     9,
		BinarySmoothing:    0,
		Algorithm:          AlgorithmMitochondria,
	},
	ShapeIndex: ShapeIndexParams{
		Features:           []string{FeatureSpot, FeatureHole, FeatureRidge, FeatureValley, FeatureSaddle},
		IntensitySmoothing: 0.75,
		ParabolaHeight:     50,
	},
	Stats: StatParams{
		Stats:   []string{StatGeometry, StatIntensity, StatTexture},
		Spacing: []float64{1.0, 1.0},
	},
}

// Default returns a copy of the bundled default configuration.
func Default() Config {
	cfg := defaultConfig
	cfg.ShapeIndex.Features = append([]string(nil), defaultConfig.ShapeIndex.Features...)
	cfg.Stats.Stats = append([]string(nil), defaultConfig.Stats.Stats...)
	cfg.Stats.Spacing = append([]float64(nil), defaultConfig.Stats.Spacing...)
	return cfg
}

// Load reads a TOML config file. An empty path returns the defaults.
// Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &ValidationError{
			Field:  undecoded[0].String(),
			Reason: "unrecognized key",
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as TOML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	return nil
}

// Package stats computes per-object geometry, intensity, and texture
// measurements from label maps, and collates per-field-of-view tables into
// one batch summary.
package stats

// GeometryStats holds the geometric measurements of one object, in
// physical units derived from the pixel pitch.
type GeometryStats struct {
	Area            float64
	Perimeter       float64
	PositionX       float64
	PositionY       float64
	MajorAxisLength float64
	MinorAxisLength float64
	AspectRatio     float64
}

// ObjectRecord is one row of output statistics: the measurements for one
// labeled object in one field of view. Optional groups are nil when their
// statistic group was not requested. SIRatio is present only when both the
// geometry and texture groups were requested and both the spot and ridge
// features were extracted; absence signals insufficient configuration, not
// an error.
type ObjectRecord struct {
	Label         int32
	Parent        int32
	Geometry      *GeometryStats
	IntensityMean map[string]float64
	TextureMean   map[string]float64
	SIRatio       *float64
}

// Table holds the records of one hierarchy level for one field of view.
// Channel and feature orders are preserved for deterministic output.
type Table struct {
	FOV       string
	Level     string
	Channels  []string
	Features  []string
	HasParent bool
	Records   []ObjectRecord
}

// Summary is the per-field-of-view collation over all tables of a batch.
type Summary struct {
	Channels    []string
	Features    []string
	HasGeometry bool
	Records     []SummaryRecord
}

// SummaryRecord aggregates one field of view: object count, count-weighted
// geometry means, area-weighted intensity/texture means, and the derived
// per-FOV spot-to-ridge ratio.
type SummaryRecord struct {
	Prefix        string
	Count         int
	Geometry      *GeometryStats
	IntensityMean map[string]float64
	TextureMean   map[string]float64
	SIRatio       *float64
}

package stats

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mito-hcs/internal/config"
)

// Summarize collates per-field-of-view tables into one batch summary with
// one record per field of view. Geometry means weight every object equally;
// intensity and texture means weight each object by its area so the summary
// matches the pixel-level mean over the field of view. The aspect ratio and
// spot-to-ridge ratio are recomputed from the aggregated means rather than
// averaged, so a field of view dominated by one large object reports the
// ratio of its aggregate shape.
func Summarize(tables []*Table) (*Summary, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("summarize: no tables to collate")
	}

	first := tables[0]
	summary := &Summary{
		Channels: append([]string(nil), first.Channels...),
		Features: append([]string(nil), first.Features...),
	}

	for _, table := range tables {
		rec, err := summarizeTable(table, first)
		if err != nil {
			return nil, err
		}
		if rec.Geometry != nil {
			summary.HasGeometry = true
		}
		summary.Records = append(summary.Records, rec)
	}

	sort.Slice(summary.Records, func(i, j int) bool {
		return summary.Records[i].Prefix < summary.Records[j].Prefix
	})
	return summary, nil
}

func summarizeTable(table, ref *Table) (SummaryRecord, error) {
	if err := sameColumns(table, ref); err != nil {
		return SummaryRecord{}, err
	}

	rec := SummaryRecord{Prefix: table.FOV, Count: len(table.Records)}
	if len(table.Records) == 0 {
		return rec, nil
	}

	n := len(table.Records)
	hasGeometry := table.Records[0].Geometry != nil

	// Intensity and texture means weight by object area when geometry is
	// available, otherwise every object counts equally.
	weights := make([]float64, n)
	for i, obj := range table.Records {
		if hasGeometry {
			weights[i] = obj.Geometry.Area
		} else {
			weights[i] = 1
		}
	}

	if hasGeometry {
		geo := &GeometryStats{
			Area:            meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.Area }),
			Perimeter:       meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.Perimeter }),
			PositionX:       meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.PositionX }),
			PositionY:       meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.PositionY }),
			MajorAxisLength: meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.MajorAxisLength }),
			MinorAxisLength: meanOf(table.Records, nil, func(o ObjectRecord) float64 { return o.Geometry.MinorAxisLength }),
		}
		geo.AspectRatio = geo.MajorAxisLength / (geo.MinorAxisLength + ratioEpsilon)
		rec.Geometry = geo
	}

	if len(table.Channels) > 0 {
		rec.IntensityMean = make(map[string]float64, len(table.Channels))
		for _, name := range table.Channels {
			rec.IntensityMean[name] = meanOf(table.Records, weights, func(o ObjectRecord) float64 { return o.IntensityMean[name] })
		}
	}
	if len(table.Features) > 0 {
		rec.TextureMean = make(map[string]float64, len(table.Features))
		for _, name := range table.Features {
			rec.TextureMean[name] = meanOf(table.Records, weights, func(o ObjectRecord) float64 { return o.TextureMean[name] })
		}
	}

	if table.Records[0].SIRatio != nil && rec.TextureMean != nil {
		spot, haveSpot := rec.TextureMean[config.FeatureSpot]
		ridge, haveRidge := rec.TextureMean[config.FeatureRidge]
		if haveSpot && haveRidge {
			ratio := spot / (ridge + ratioEpsilon)
			rec.SIRatio = &ratio
		}
	}
	return rec, nil
}

func sameColumns(table, ref *Table) error {
	if len(table.Channels) != len(ref.Channels) || len(table.Features) != len(ref.Features) {
		return fmt.Errorf("summarize: table %s has mismatched columns", table.FOV)
	}
	for i, name := range ref.Channels {
		if table.Channels[i] != name {
			return fmt.Errorf("summarize: table %s has mismatched channel %s", table.FOV, table.Channels[i])
		}
	}
	for i, name := range ref.Features {
		if table.Features[i] != name {
			return fmt.Errorf("summarize: table %s has mismatched feature %s", table.FOV, table.Features[i])
		}
	}
	return nil
}

func meanOf(records []ObjectRecord, weights []float64, pick func(ObjectRecord) float64) float64 {
	vals := make([]float64, len(records))
	for i, rec := range records {
		vals[i] = pick(rec)
	}
	return stat.Mean(vals, weights)
}

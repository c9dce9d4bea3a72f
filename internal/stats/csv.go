package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSV writers for the per-object tables and the batch summary. Float
// formatting uses the shortest representation that round-trips.

var geometryColumns = []string{
	"Area", "Perimeter", "PositionX", "PositionY",
	"MajorAxisLength", "MinorAxisLength", "AspectRatio",
}

// WriteTableCSV writes one per-object table. Column order is fixed: ID,
// ParentID when the level has a parent, the geometry columns, one
// IntensityMean_<channel> per channel, one TextureMean_<feature> per
// feature, then SIRatio when derived.
func WriteTableCSV(w io.Writer, table *Table) error {
	hasGeometry := len(table.Records) > 0 && table.Records[0].Geometry != nil
	hasRatio := len(table.Records) > 0 && table.Records[0].SIRatio != nil

	header := []string{"ID"}
	if table.HasParent {
		header = append(header, "ParentID")
	}
	if hasGeometry || len(table.Records) == 0 {
		header = append(header, geometryColumns...)
	}
	for _, name := range table.Channels {
		header = append(header, "IntensityMean_"+titleCase(name))
	}
	for _, name := range table.Features {
		header = append(header, "TextureMean_"+titleCase(name))
	}
	if hasRatio {
		header = append(header, "SIRatio")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	for _, rec := range table.Records {
		row := []string{strconv.FormatInt(int64(rec.Label), 10)}
		if table.HasParent {
			row = append(row, strconv.FormatInt(int64(rec.Parent), 10))
		}
		if rec.Geometry != nil {
			row = append(row, formatGeometry(rec.Geometry)...)
		}
		for _, name := range table.Channels {
			row = append(row, formatFloat(rec.IntensityMean[name]))
		}
		for _, name := range table.Features {
			row = append(row, formatFloat(rec.TextureMean[name]))
		}
		if rec.SIRatio != nil {
			row = append(row, formatFloat(*rec.SIRatio))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write stats row %d: %w", rec.Label, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV writes the batch summary, one row per field of view.
func WriteSummaryCSV(w io.Writer, summary *Summary) error {
	hasRatio := false
	for _, rec := range summary.Records {
		if rec.SIRatio != nil {
			hasRatio = true
			break
		}
	}

	header := []string{"Prefix", "Count"}
	if summary.HasGeometry {
		header = append(header, geometryColumns...)
	}
	for _, name := range summary.Channels {
		header = append(header, "IntensityMean_"+titleCase(name))
	}
	for _, name := range summary.Features {
		header = append(header, "TextureMean_"+titleCase(name))
	}
	if hasRatio {
		header = append(header, "TextureMean_SpotRidgeRatio")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write summary header: %w", err)
	}
	for _, rec := range summary.Records {
		row := []string{rec.Prefix, strconv.Itoa(rec.Count)}
		if summary.HasGeometry {
			if rec.Geometry != nil {
				row = append(row, formatGeometry(rec.Geometry)...)
			} else {
				for range geometryColumns {
					row = append(row, "")
				}
			}
		}
		for _, name := range summary.Channels {
			row = append(row, formatOptional(rec.IntensityMean, name))
		}
		for _, name := range summary.Features {
			row = append(row, formatOptional(rec.TextureMean, name))
		}
		if hasRatio {
			if rec.SIRatio != nil {
				row = append(row, formatFloat(*rec.SIRatio))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write summary row %s: %w", rec.Prefix, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTableCSV writes a table to path, creating or truncating the file.
func SaveTableCSV(path string, table *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create stats file: %w", err)
	}
	if err := WriteTableCSV(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveSummaryCSV writes the batch summary to path.
func SaveSummaryCSV(path string, summary *Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	if err := WriteSummaryCSV(f, summary); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatGeometry(g *GeometryStats) []string {
	return []string{
		formatFloat(g.Area), formatFloat(g.Perimeter),
		formatFloat(g.PositionX), formatFloat(g.PositionY),
		formatFloat(g.MajorAxisLength), formatFloat(g.MinorAxisLength),
		formatFloat(g.AspectRatio),
	}
}

func formatOptional(values map[string]float64, name string) string {
	if values == nil {
		return ""
	}
	return formatFloat(values[name])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

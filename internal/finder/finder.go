// Package finder groups channel image files in a directory into fields of
// view. Each channel pattern is a case-insensitive regular expression with
// one capture group; the captured text is the field-of-view prefix that
// ties the three channels together.
package finder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"mito-hcs/internal/config"
)

var imageSuffixes = []string{".tif", ".tiff"}

// FileGroup holds the input images of one field of view and the output
// paths derived from its prefix.
type FileGroup struct {
	NucleiImage       string
	CellImage         string
	MitochondriaImage string
	Prefix            string
	OutDir            string
}

// SegmentationPath is the label image output for one segmentation
// algorithm (nuclei, cell, mitochondria).
func (g *FileGroup) SegmentationPath(algorithm string) string {
	return filepath.Join(g.OutDir, g.Prefix, algorithm+"_labels.tif")
}

// FeaturePath is the response map output for one shape index feature.
func (g *FileGroup) FeaturePath(feature string) string {
	return filepath.Join(g.OutDir, g.Prefix, feature+"_feature.tif")
}

// StatsPath is the per-object table output for one hierarchy level.
func (g *FileGroup) StatsPath(level string) string {
	return filepath.Join(g.OutDir, g.Prefix, level+"_stats.csv")
}

// Dir is the per-field-of-view output directory.
func (g *FileGroup) Dir() string {
	return filepath.Join(g.OutDir, g.Prefix)
}

// FileFinder matches directory entries against the three channel patterns.
type FileFinder struct {
	nuclei       *regexp.Regexp
	cell         *regexp.Regexp
	mitochondria *regexp.Regexp
}

// New compiles the channel patterns. Each must contain at least one capture
// group; matching is case insensitive and anchored at the start of the file
// stem, mirroring the conventions of high-content imager exports.
func New(params config.FindFileParams) (*FileFinder, error) {
	compile := func(field, pattern string) (*regexp.Regexp, error) {
		re, err := regexp.Compile(`(?i)^` + pattern)
		if err != nil {
			return nil, &config.ValidationError{Field: field, Reason: err.Error()}
		}
		if re.NumSubexp() < 1 {
			return nil, &config.ValidationError{Field: field, Reason: "pattern needs a capture group for the prefix"}
		}
		return re, nil
	}

	nuclei, err := compile("nuclei_pattern", params.NucleiPattern)
	if err != nil {
		return nil, err
	}
	cell, err := compile("cell_pattern", params.CellPattern)
	if err != nil {
		return nil, err
	}
	mitochondria, err := compile("mitochondria_pattern", params.MitochondriaPattern)
	if err != nil {
		return nil, err
	}
	return &FileFinder{nuclei: nuclei, cell: cell, mitochondria: mitochondria}, nil
}

// Group scans indir and returns one FileGroup per complete field of view,
// sorted by prefix. Hidden and temporary files are skipped, as are groups
// missing one of the three channels. Two files matching the same channel
// of one field of view is an error.
func (f *FileFinder) Group(indir, outdir string) ([]*FileGroup, error) {
	entries, err := os.ReadDir(indir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", indir, err)
	}

	type partial struct {
		nuclei, cell, mitochondria string
	}
	groups := make(map[string]*partial)

	// Patterns are tried in order; the first match claims the file.
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || skipName(name) || !isImage(name) {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(indir, name)

		for _, ch := range []struct {
			name string
			re   *regexp.Regexp
			slot func(*partial) *string
		}{
			{"cell", f.cell, func(p *partial) *string { return &p.cell }},
			{"nuclei", f.nuclei, func(p *partial) *string { return &p.nuclei }},
			{"mitochondria", f.mitochondria, func(p *partial) *string { return &p.mitochondria }},
		} {
			m := ch.re.FindStringSubmatch(stem)
			if m == nil {
				continue
			}
			prefix := m[1]
			group := groups[prefix]
			if group == nil {
				group = &partial{}
				groups[prefix] = group
			}
			slot := ch.slot(group)
			if *slot != "" {
				return nil, fmt.Errorf("duplicate %s match for prefix %s: %s and %s", ch.name, prefix, *slot, path)
			}
			*slot = path
			break
		}
	}

	var out []*FileGroup
	for prefix, group := range groups {
		if group.nuclei == "" || group.cell == "" || group.mitochondria == "" {
			continue
		}
		out = append(out, &FileGroup{
			NucleiImage:       group.nuclei,
			CellImage:         group.cell,
			MitochondriaImage: group.mitochondria,
			Prefix:            prefix,
			OutDir:            outdir,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") || strings.HasPrefix(name, "$")
}

func isImage(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

package stats

import (
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/feature"
	"mito-hcs/internal/imaging"
)

// Epsilon guarding ratio denominators.
const ratioEpsilon = 1e-5

// Channel pairs an intensity image with its display name.
type Channel struct {
	Name  string
	Image gocv.Mat
}

// Extractor computes per-object measurements for one hierarchy level.
type Extractor struct {
	params   config.StatParams
	rowPitch float64
	colPitch float64
}

func NewExtractor(params config.StatParams) (*Extractor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	rp, cp := params.Pitch()
	return &Extractor{params: params, rowPitch: rp, colPitch: cp}, nil
}

// objectAccum carries the running sums for one label.
type objectAccum struct {
	label     int32
	count     int
	sumR      float64
	sumC      float64
	perimeter float64
	intensity []float64
	texture   []float64
	parents   map[int32]int
}

// Extract measures every labeled object: one record per object, objects
// with zero pixels are never emitted. The channels are intensity images
// for the intensity group; textures are shape index response maps for the
// texture group; parents, when non-nil, is the label map of the parent
// hierarchy level and yields each object's modal parent label.
func (e *Extractor) Extract(fov, level string, labelMat gocv.Mat, channels []Channel, textures *feature.Set, parents *gocv.Mat) (*Table, error) {
	rows, cols := labelMat.Rows(), labelMat.Cols()

	wantIntensity := e.params.HasStat(config.StatIntensity)
	wantTexture := e.params.HasStat(config.StatTexture)
	wantGeometry := e.params.HasStat(config.StatGeometry)

	if wantIntensity && len(channels) == 0 {
		return nil, &config.ValidationError{Field: "stats", Reason: "intensity stats requested without intensity channels"}
	}
	if wantTexture && textures == nil {
		return nil, &config.ValidationError{Field: "stats", Reason: "texture stats requested without feature maps"}
	}

	labels, err := imaging.Labels(labelMat)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", level, err)
	}

	var channelData [][]float32
	var channelNames []string
	if wantIntensity {
		for _, ch := range channels {
			if err := imaging.EnsureSameShape("intensity channel "+ch.Name, rows, cols, ch.Image); err != nil {
				return nil, err
			}
			data, err := imaging.FloatData(ch.Image)
			if err != nil {
				return nil, fmt.Errorf("stats %s: channel %s: %w", level, ch.Name, err)
			}
			channelData = append(channelData, data)
			channelNames = append(channelNames, ch.Name)
		}
	}

	var textureData [][]float32
	var featureNames []string
	if wantTexture {
		for _, name := range textures.Names() {
			m, _ := textures.Get(name)
			if err := imaging.EnsureSameShape("feature "+name, rows, cols, m); err != nil {
				return nil, err
			}
			data, err := imaging.FloatData(m)
			if err != nil {
				return nil, fmt.Errorf("stats %s: feature %s: %w", level, name, err)
			}
			textureData = append(textureData, data)
			featureNames = append(featureNames, name)
		}
	}

	var parentData []int32
	if parents != nil {
		if err := imaging.EnsureSameShape("parent labels", rows, cols, *parents); err != nil {
			return nil, err
		}
		parentData, err = imaging.Labels(*parents)
		if err != nil {
			return nil, fmt.Errorf("stats %s: parent labels: %w", level, err)
		}
	}

	// First pass: counts, centroids, perimeter, channel sums, parent modes.
	accums := make(map[int32]*objectAccum)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			label := labels[idx]
			if label <= 0 {
				continue
			}
			acc := accums[label]
			if acc == nil {
				acc = &objectAccum{
					label:     label,
					intensity: make([]float64, len(channelData)),
					texture:   make([]float64, len(textureData)),
				}
				if parentData != nil {
					acc.parents = make(map[int32]int)
				}
				accums[label] = acc
			}
			acc.count++
			acc.sumR += float64(r)
			acc.sumC += float64(c)
			acc.perimeter += e.boundaryLength(labels, rows, cols, r, c, label)
			for i, data := range channelData {
				acc.intensity[i] += float64(data[idx])
			}
			for i, data := range textureData {
				acc.texture[i] += float64(data[idx])
			}
			if acc.parents != nil {
				// Background does not vote: an object's parent is the modal
				// nonzero label beneath it, even when most of the object lies
				// outside any parent (a cell is owned by its nucleus no
				// matter how small the nucleus is).
				if p := parentData[idx]; p != 0 {
					acc.parents[p]++
				}
			}
		}
	}

	order := make([]int32, 0, len(accums))
	for label := range accums {
		order = append(order, label)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	// Second pass for the second central moments (needs the centroids).
	var moments map[int32]*[3]float64
	if wantGeometry {
		moments = make(map[int32]*[3]float64, len(accums))
		for _, label := range order {
			moments[label] = &[3]float64{}
		}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				label := labels[r*cols+c]
				if label <= 0 {
					continue
				}
				acc := accums[label]
				dr := (float64(r) - acc.sumR/float64(acc.count)) * e.rowPitch
				dc := (float64(c) - acc.sumC/float64(acc.count)) * e.colPitch
				m := moments[label]
				m[0] += dr * dr
				m[1] += dr * dc
				m[2] += dc * dc
			}
		}
	}

	deriveRatio := wantGeometry && wantTexture &&
		textures != nil && textures.Has(config.FeatureSpot) && textures.Has(config.FeatureRidge)

	table := &Table{
		FOV:       fov,
		Level:     level,
		Channels:  channelNames,
		Features:  featureNames,
		HasParent: parentData != nil,
	}
	for _, label := range order {
		acc := accums[label]
		n := float64(acc.count)
		rec := ObjectRecord{Label: label}

		if wantGeometry {
			m := moments[label]
			l1, l2 := covarianceEigen(m[0]/n, m[1]/n, m[2]/n)
			major := 4 * math.Sqrt(l1)
			minor := 4 * math.Sqrt(l2)
			rec.Geometry = &GeometryStats{
				Area:            n * e.rowPitch * e.colPitch,
				Perimeter:       acc.perimeter,
				PositionX:       acc.sumC / n * e.colPitch,
				PositionY:       acc.sumR / n * e.rowPitch,
				MajorAxisLength: major,
				MinorAxisLength: minor,
				AspectRatio:     major / (minor + ratioEpsilon),
			}
		}
		if wantIntensity {
			rec.IntensityMean = make(map[string]float64, len(channelNames))
			for i, name := range channelNames {
				rec.IntensityMean[name] = acc.intensity[i] / n
			}
		}
		if wantTexture {
			rec.TextureMean = make(map[string]float64, len(featureNames))
			for i, name := range featureNames {
				rec.TextureMean[name] = acc.texture[i] / n
			}
		}
		if deriveRatio {
			ratio := rec.TextureMean[config.FeatureSpot] / (rec.TextureMean[config.FeatureRidge] + ratioEpsilon)
			rec.SIRatio = &ratio
		}
		if acc.parents != nil {
			rec.Parent = modalLabel(acc.parents)
		}
		table.Records = append(table.Records, rec)
	}
	return table, nil
}

// boundaryLength sums the exposed edges of one pixel: a 4-neighbor with a
// different label (or the image border) exposes one pixel side. Horizontal
// neighbors expose a vertical side of length rowPitch, vertical neighbors
// a horizontal side of length colPitch.
func (e *Extractor) boundaryLength(labels []int32, rows, cols, r, c int, label int32) float64 {
	var length float64
	if c == 0 || labels[r*cols+c-1] != label {
		length += e.rowPitch
	}
	if c == cols-1 || labels[r*cols+c+1] != label {
		length += e.rowPitch
	}
	if r == 0 || labels[(r-1)*cols+c] != label {
		length += e.colPitch
	}
	if r == rows-1 || labels[(r+1)*cols+c] != label {
		length += e.colPitch
	}
	return length
}

// covarianceEigen returns the eigenvalues (l1 >= l2 >= 0) of the 2x2
// pixel-coordinate covariance matrix [[mrr, mrc], [mrc, mcc]].
func covarianceEigen(mrr, mrc, mcc float64) (float64, float64) {
	tr := mrr + mcc
	diff := mrr - mcc
	disc := math.Sqrt(diff*diff + 4*mrc*mrc)
	l1 := (tr + disc) / 2
	l2 := (tr - disc) / 2
	if l2 < 0 {
		l2 = 0
	}
	return l1, l2
}

// modalLabel picks the most common parent label; ties break to the lowest
// label for determinism. An empty count map yields 0 (no parent).
func modalLabel(counts map[int32]int) int32 {
	var best int32
	bestCount := -1
	for label, count := range counts {
		if count > bestCount || (count == bestCount && label < best) {
			best = label
			bestCount = count
		}
	}
	return best
}

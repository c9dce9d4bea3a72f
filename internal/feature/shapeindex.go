// Package feature extracts shape-index texture features from the
// mitochondria intensity channel. The shape index classifies the local
// curvature of the intensity surface into named categories; each requested
// feature yields a real-valued response map, not a binary mask: inside the
// feature's shape-index window the response is the magnitude of the
// relevant principal curvature normalized by the smoothed local intensity,
// outside it is zero.
package feature

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/imaging"
)

// Epsilon added to the smoothed intensity before normalization so flat
// regions never divide by zero.
const normEpsilon = 1e-2

// Feature windows on the shape index s in [-1, 1]. The categories follow
// Koenderink and van Doorn but with windows of width 1/2 instead of 1/4,
// merging adjacent categories (cap+dome into spot, dome+ridge+saddle ridge
// into ridge, and so on).
type featureSpec struct {
	low, high float64 // window on the shape index, exclusive
	useK1     bool    // response curvature: k1 (largest) or k2
}

var featureSpecs = map[string]featureSpec{
	config.FeatureSpot:   {low: 0.5, high: math.Inf(1), useK1: true},
	config.FeatureHole:   {low: math.Inf(-1), high: -0.5, useK1: false},
	config.FeatureRidge:  {low: 0.25, high: 0.75, useK1: false},
	config.FeatureValley: {low: -0.75, high: -0.25, useK1: true},
	config.FeatureSaddle: {low: -0.25, high: 0.25, useK1: false},
}

// Set holds the extracted response maps in request order. Close releases
// the underlying Mats.
type Set struct {
	names []string
	maps  map[string]gocv.Mat
}

// NewSet creates an empty feature set.
func NewSet() *Set {
	return &Set{maps: make(map[string]gocv.Mat)}
}

// Add inserts a response map, taking ownership of the Mat. Adding a name
// twice replaces (and closes) the previous map.
func (s *Set) Add(name string, m gocv.Mat) {
	if old, ok := s.maps[name]; ok {
		old.Close()
	} else {
		s.names = append(s.names, name)
	}
	s.maps[name] = m
}

func (s *Set) Names() []string { return s.names }

func (s *Set) Get(name string) (gocv.Mat, bool) {
	m, ok := s.maps[name]
	return m, ok
}

func (s *Set) Has(name string) bool {
	_, ok := s.maps[name]
	return ok
}

func (s *Set) Close() {
	for _, m := range s.maps {
		m.Close()
	}
	s.maps = nil
	s.names = nil
}

// Pipeline computes shape-index feature maps for one intensity image.
type Pipeline struct {
	params config.ShapeIndexParams
}

// NewPipeline validates the shape index parameters. An empty feature list
// requests all available features.
func NewPipeline(params config.ShapeIndexParams) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(params.Features) == 0 {
		params.Features = []string{
			config.FeatureSpot, config.FeatureHole, config.FeatureRidge,
			config.FeatureValley, config.FeatureSaddle,
		}
	}
	return &Pipeline{params: params}, nil
}

// Features returns the feature names in extraction order.
func (p *Pipeline) Features() []string {
	return append([]string(nil), p.params.Features...)
}

// Extract computes one response map per requested feature. The input
// image is never modified.
func (p *Pipeline) Extract(img gocv.Mat) (*Set, error) {
	rows, cols := img.Rows(), img.Cols()

	work := imaging.AsFloat(img)
	defer work.Close()
	data, err := imaging.FloatData(work)
	if err != nil {
		return nil, fmt.Errorf("shape index: %w", err)
	}

	// Rolling-parabola background subtraction, clipped at zero.
	if p.params.ParabolaHeight > 0 {
		bg := rollingParabola(data, rows, cols, p.params.ParabolaHeight)
		for i := range data {
			v := data[i] - bg[i]
			if v < 0 {
				v = 0
			}
			data[i] = v
		}
	}

	// Smooth before differentiating for numeric stability.
	var smooth []float64
	if p.params.IntensitySmoothing >= normEpsilon {
		smoothed := gocv.NewMat()
		k := 2*int(math.Ceil(3*p.params.IntensitySmoothing)) + 1
		gocv.GaussianBlur(work, &smoothed, image.Pt(k, k), p.params.IntensitySmoothing, p.params.IntensitySmoothing, gocv.BorderDefault)
		sdata, err := imaging.FloatData(smoothed)
		if err != nil {
			smoothed.Close()
			return nil, fmt.Errorf("shape index: %w", err)
		}
		smooth = toFloat64(sdata)
		smoothed.Close()
	} else {
		smooth = toFloat64(data)
	}

	// First and second derivatives of the smoothed surface.
	gr := gradientRows(smooth, rows, cols)
	gc := gradientCols(smooth, rows, cols)
	hxx := gradientRows(gr, rows, cols)
	hxy := gradientCols(gr, rows, cols)
	hyy := gradientCols(gc, rows, cols)

	k1, k2 := hessianEigen(hxx, hxy, hyy)

	// Shape index per pixel. atan2 avoids the infinities of the plain
	// arctan form on flat neighborhoods; values beyond +/-1 are reflected
	// back into range.
	si := make([]float64, len(smooth))
	for i := range si {
		s := (2 / math.Pi) * math.Atan2(k2[i]+k1[i], k2[i]-k1[i])
		if s > 1 {
			s -= 2
		} else if s < -1 {
			s += 2
		}
		si[i] = s
	}

	set := &Set{maps: make(map[string]gocv.Mat, len(p.params.Features))}
	for _, name := range p.params.Features {
		spec := featureSpecs[name]
		resp := make([]float32, len(si))
		for i, s := range si {
			if s <= spec.low || s >= spec.high {
				continue
			}
			k := k2[i]
			if spec.useK1 {
				k = k1[i]
			}
			resp[i] = float32(math.Abs(k) / (smooth[i] + normEpsilon))
		}
		set.names = append(set.names, name)
		set.maps[name] = imaging.FloatToMat(resp, rows, cols)
	}
	return set, nil
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

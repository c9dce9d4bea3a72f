// Package pipeline sequences the segmentation stages, feature extraction,
// and statistics for one field of view. The orchestrator is an explicit
// state machine: each stage caches its output, later stages consume the
// cached results, and re-running an earlier stage discards everything
// downstream of it. One orchestrator owns one field of view; instances are
// never shared.
package pipeline

import (
	"fmt"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/feature"
	"mito-hcs/internal/imaging"
	"mito-hcs/internal/logger"
	"mito-hcs/internal/segmentation"
	"mito-hcs/internal/stats"
)

// State tracks how far the pipeline has progressed for this field of view.
type State int

const (
	StateEmpty State = iota
	StateNucleiSegmented
	StateCellSegmented
	StateMitochondriaSegmented
	StateFeaturesComputed
	StateStatsComputed
)

var stateNames = map[State]string{
	StateEmpty:                 "empty",
	StateNucleiSegmented:       "nuclei-segmented",
	StateCellSegmented:         "cell-segmented",
	StateMitochondriaSegmented: "mitochondria-segmented",
	StateFeaturesComputed:      "features-computed",
	StateStatsComputed:         "stats-computed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// UsageError reports a stage invoked before its prerequisite stage.
type UsageError struct {
	Op       string
	Requires State
	Current  State
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s requires state %s or later, pipeline is %s", e.Op, e.Requires, e.Current)
}

// Hierarchy level names used for the per-level stat tables.
const (
	LevelNuclei       = "nuclei"
	LevelCell         = "cell"
	LevelMitochondria = "mitochondria"
)

// Results holds the per-level stat tables of one field of view.
type Results struct {
	Nuclei       *stats.Table
	Cells        *stats.Table
	Mitochondria *stats.Table
}

// Orchestrator runs the staged analysis for one field of view.
type Orchestrator struct {
	fov   string
	cfg   *config.Config
	log   logger.Logger
	state State

	refRows, refCols int

	nuclei   gocv.Mat
	cells    gocv.Mat
	mito     gocv.Mat
	features *feature.Set
	results  *Results
}

// New builds an orchestrator for one field of view. The configuration is
// validated once here so stage construction cannot fail later.
func New(fov string, cfg *config.Config, log logger.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Orchestrator{fov: fov, cfg: cfg, log: log, state: StateEmpty}, nil
}

// FOV returns the field-of-view identifier.
func (o *Orchestrator) FOV() string { return o.fov }

// State returns the current pipeline state.
func (o *Orchestrator) State() State { return o.state }

// NucleiLabels returns the cached nuclei label map. The Mat stays owned by
// the orchestrator and is only valid until the stage is re-run or Close.
func (o *Orchestrator) NucleiLabels() (gocv.Mat, bool) {
	return o.nuclei, o.state >= StateNucleiSegmented
}

// CellLabels returns the cached cell label map.
func (o *Orchestrator) CellLabels() (gocv.Mat, bool) {
	return o.cells, o.state >= StateCellSegmented
}

// MitochondriaLabels returns the cached mitochondria label map.
func (o *Orchestrator) MitochondriaLabels() (gocv.Mat, bool) {
	return o.mito, o.state >= StateMitochondriaSegmented
}

// Features returns the cached shape index response maps.
func (o *Orchestrator) Features() (*feature.Set, bool) {
	return o.features, o.state >= StateFeaturesComputed
}

// Stats returns the computed per-level tables.
func (o *Orchestrator) Stats() (*Results, bool) {
	return o.results, o.state >= StateStatsComputed
}

// SegmentNuclei runs the first stage. Re-running discards every later
// cached result.
func (o *Orchestrator) SegmentNuclei(img gocv.Mat) error {
	if o.state == StateEmpty {
		o.refRows, o.refCols = img.Rows(), img.Cols()
	} else if err := imaging.EnsureSameShape("nuclei image", o.refRows, o.refCols, img); err != nil {
		return err
	}

	stage, err := segmentation.NewStage(o.cfg.SegNuclei, o.log)
	if err != nil {
		return err
	}
	labels, err := stage.Run(img, nil)
	if err != nil {
		return err
	}

	o.discardFrom(StateNucleiSegmented)
	o.nuclei = labels
	o.state = StateNucleiSegmented
	o.logStage("nuclei", labels)
	return nil
}

// SegmentCells runs the second stage, seeded by the nuclei labels.
func (o *Orchestrator) SegmentCells(img gocv.Mat) error {
	if o.state < StateNucleiSegmented {
		return &UsageError{Op: "segment cells", Requires: StateNucleiSegmented, Current: o.state}
	}
	if err := imaging.EnsureSameShape("cell image", o.refRows, o.refCols, img); err != nil {
		return err
	}

	stage, err := segmentation.NewStage(o.cfg.SegCells, o.log)
	if err != nil {
		return err
	}
	labels, err := stage.Run(img, &o.nuclei)
	if err != nil {
		return err
	}

	o.discardFrom(StateCellSegmented)
	o.cells = labels
	o.state = StateCellSegmented
	o.logStage("cells", labels)
	return nil
}

// SegmentMitochondria runs the third stage, seeded by the cell labels.
func (o *Orchestrator) SegmentMitochondria(img gocv.Mat) error {
	if o.state < StateCellSegmented {
		return &UsageError{Op: "segment mitochondria", Requires: StateCellSegmented, Current: o.state}
	}
	if err := imaging.EnsureSameShape("mitochondria image", o.refRows, o.refCols, img); err != nil {
		return err
	}

	stage, err := segmentation.NewStage(o.cfg.SegMitochondria, o.log)
	if err != nil {
		return err
	}
	labels, err := stage.Run(img, &o.cells)
	if err != nil {
		return err
	}

	o.discardFrom(StateMitochondriaSegmented)
	o.mito = labels
	o.state = StateMitochondriaSegmented
	o.logStage("mitochondria", labels)
	return nil
}

// ExtractFeatures computes the shape index response maps from the
// mitochondria intensity image.
func (o *Orchestrator) ExtractFeatures(mitoImage gocv.Mat) error {
	if o.state < StateMitochondriaSegmented {
		return &UsageError{Op: "extract features", Requires: StateMitochondriaSegmented, Current: o.state}
	}
	if err := imaging.EnsureSameShape("mitochondria image", o.refRows, o.refCols, mitoImage); err != nil {
		return err
	}

	fp, err := feature.NewPipeline(o.cfg.ShapeIndex)
	if err != nil {
		return err
	}
	set, err := fp.Extract(mitoImage)
	if err != nil {
		return err
	}

	o.discardFrom(StateFeaturesComputed)
	o.features = set
	o.state = StateFeaturesComputed
	o.log.Debug("pipeline", "features extracted", map[string]interface{}{
		"fov":      o.fov,
		"features": set.Names(),
	})
	return nil
}

// ComputeStats builds one table per hierarchy level: nuclei without a
// parent, cells with the nuclei labels as parent, mitochondria with the
// cell labels as parent. The same intensity channels and feature maps
// apply at every level.
func (o *Orchestrator) ComputeStats(channels []stats.Channel) error {
	if o.state < StateFeaturesComputed {
		return &UsageError{Op: "compute stats", Requires: StateFeaturesComputed, Current: o.state}
	}
	for _, ch := range channels {
		if err := imaging.EnsureSameShape("channel "+ch.Name, o.refRows, o.refCols, ch.Image); err != nil {
			return err
		}
	}

	ex, err := stats.NewExtractor(o.cfg.Stats)
	if err != nil {
		return err
	}

	results := &Results{}
	if results.Nuclei, err = ex.Extract(o.fov, LevelNuclei, o.nuclei, channels, o.features, nil); err != nil {
		return err
	}
	if results.Cells, err = ex.Extract(o.fov, LevelCell, o.cells, channels, o.features, &o.nuclei); err != nil {
		return err
	}
	if results.Mitochondria, err = ex.Extract(o.fov, LevelMitochondria, o.mito, channels, o.features, &o.cells); err != nil {
		return err
	}

	o.results = results
	o.state = StateStatsComputed
	o.log.Info("pipeline", "stats computed", map[string]interface{}{
		"fov":          o.fov,
		"nuclei":       len(results.Nuclei.Records),
		"cells":        len(results.Cells.Records),
		"mitochondria": len(results.Mitochondria.Records),
	})
	return nil
}

// Close releases every cached result and resets the state machine.
func (o *Orchestrator) Close() {
	o.discardFrom(StateNucleiSegmented)
	o.state = StateEmpty
	o.refRows, o.refCols = 0, 0
}

// discardFrom releases the cached outputs of the given state and every
// later one, regressing the state machine so the stage can be re-run.
func (o *Orchestrator) discardFrom(from State) {
	if from <= StateStatsComputed {
		o.results = nil
	}
	if from <= StateFeaturesComputed && o.features != nil {
		o.features.Close()
		o.features = nil
	}
	if from <= StateMitochondriaSegmented && o.state >= StateMitochondriaSegmented {
		o.mito.Close()
		o.mito = gocv.Mat{}
	}
	if from <= StateCellSegmented && o.state >= StateCellSegmented {
		o.cells.Close()
		o.cells = gocv.Mat{}
	}
	if from <= StateNucleiSegmented && o.state >= StateNucleiSegmented {
		o.nuclei.Close()
		o.nuclei = gocv.Mat{}
	}
	if o.state > from-1 {
		o.state = from - 1
	}
}

func (o *Orchestrator) logStage(name string, labels gocv.Mat) {
	count, _ := imaging.CountLabels(labels)
	o.log.Debug("pipeline", "stage complete", map[string]interface{}{
		"fov":     o.fov,
		"stage":   name,
		"objects": count,
	})
}

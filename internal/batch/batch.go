// Package batch drives the full analysis over a directory of images.
// Fields of view are independent units of work: each one gets its own
// orchestrator and runs on a bounded worker pool, and a failing field of
// view is logged and skipped without aborting the batch. After all fields
// of view finish, the mitochondria tables are collated into one summary.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/finder"
	"mito-hcs/internal/imaging"
	"mito-hcs/internal/logger"
	"mito-hcs/internal/pipeline"
	"mito-hcs/internal/stats"
)

// SummaryFileName is the collated batch output in the output directory.
const SummaryFileName = "mito-hcs-stats.csv"

// Runner processes one input directory with one configuration.
type Runner struct {
	cfg     *config.Config
	log     logger.Logger
	workers chan struct{}
}

// NewRunner builds a batch runner with a worker pool of the given size;
// size 0 means one worker per CPU.
func NewRunner(cfg *config.Config, log logger.Logger, poolSize int) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	workers := make(chan struct{}, poolSize)
	for i := 0; i < poolSize; i++ {
		workers <- struct{}{}
	}
	return &Runner{cfg: cfg, log: log, workers: workers}, nil
}

// Run groups the images under indir into fields of view, processes each on
// the worker pool, and writes the collated summary to outdir. Processing
// errors in single fields of view are logged and skipped; Run fails only
// when no field of view succeeds or the summary cannot be written.
func (r *Runner) Run(indir, outdir string) error {
	ff, err := finder.New(r.cfg.FindFiles)
	if err != nil {
		return err
	}
	groups, err := ff.Group(indir, outdir)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("no complete fields of view found under %s", indir)
	}
	r.log.Info("batch", "starting batch", map[string]interface{}{
		"indir":  indir,
		"outdir": outdir,
		"fovs":   len(groups),
	})

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		tables []*stats.Table
	)
	for _, group := range groups {
		group := group
		wg.Add(1)
		<-r.workers
		go func() {
			defer wg.Done()
			defer func() { r.workers <- struct{}{} }()

			table, err := r.processGroup(group)
			if err != nil {
				r.log.Error("batch", err, map[string]interface{}{
					"fov": group.Prefix,
				})
				return
			}
			mu.Lock()
			tables = append(tables, table)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(tables) == 0 {
		return fmt.Errorf("all %d fields of view failed", len(groups))
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].FOV < tables[j].FOV })

	summary, err := stats.Summarize(tables)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	summaryPath := filepath.Join(outdir, SummaryFileName)
	if err := stats.SaveSummaryCSV(summaryPath, summary); err != nil {
		return err
	}
	r.log.Info("batch", "batch complete", map[string]interface{}{
		"fovs":    len(tables),
		"summary": summaryPath,
	})
	return nil
}

// processGroup runs the full pipeline for one field of view and writes its
// outputs. Returns the mitochondria table for the batch summary.
func (r *Runner) processGroup(group *finder.FileGroup) (*stats.Table, error) {
	nucleiImg, err := imaging.ReadIntensity(group.NucleiImage)
	if err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	defer nucleiImg.Close()
	cellImg, err := imaging.ReadIntensity(group.CellImage)
	if err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	defer cellImg.Close()
	mitoImg, err := imaging.ReadIntensity(group.MitochondriaImage)
	if err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	defer mitoImg.Close()

	orch, err := pipeline.New(group.Prefix, r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	defer orch.Close()

	if err := orch.SegmentNuclei(nucleiImg); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	if err := orch.SegmentCells(cellImg); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	if err := orch.SegmentMitochondria(mitoImg); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}
	if err := orch.ExtractFeatures(mitoImg); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}

	channels := []stats.Channel{
		{Name: "nuclei", Image: nucleiImg},
		{Name: "cell", Image: cellImg},
		{Name: "mitochondria", Image: mitoImg},
	}
	if err := orch.ComputeStats(channels); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}

	if err := r.writeOutputs(group, orch); err != nil {
		return nil, fmt.Errorf("fov %s: %w", group.Prefix, err)
	}

	results, _ := orch.Stats()
	return results.Mitochondria, nil
}

func (r *Runner) writeOutputs(group *finder.FileGroup, orch *pipeline.Orchestrator) error {
	type labelOut struct {
		algorithm string
		labels    func() (gocv.Mat, bool)
	}
	for _, out := range []labelOut{
		{config.AlgorithmNuclei, orch.NucleiLabels},
		{config.AlgorithmCell, orch.CellLabels},
		{config.AlgorithmMitochondria, orch.MitochondriaLabels},
	} {
		labels, ok := out.labels()
		if !ok {
			return fmt.Errorf("missing %s labels", out.algorithm)
		}
		if err := imaging.WriteLabels(group.SegmentationPath(out.algorithm), labels); err != nil {
			return err
		}
	}

	features, ok := orch.Features()
	if !ok {
		return fmt.Errorf("missing feature maps")
	}
	for _, name := range features.Names() {
		m, _ := features.Get(name)
		if err := imaging.WriteFloat(group.FeaturePath(name), m); err != nil {
			return err
		}
	}

	results, ok := orch.Stats()
	if !ok {
		return fmt.Errorf("missing stat tables")
	}
	for level, table := range map[string]*stats.Table{
		pipeline.LevelNuclei:       results.Nuclei,
		pipeline.LevelCell:         results.Cells,
		pipeline.LevelMitochondria: results.Mitochondria,
	} {
		if err := stats.SaveTableCSV(group.StatsPath(level), table); err != nil {
			return err
		}
	}
	return nil
}

package segmentation

import (
	"fmt"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
	"mito-hcs/internal/logger"
)

// Stage composes preprocessing, mask cleanup, component labeling, and the
// configured touching-object splitter for one tissue type. The four steps
// always run in that fixed order.
type Stage struct {
	params   config.SegmentationParams
	splitter Splitter
	log      logger.Logger
}

// NewStage validates the parameters and selects the splitter variant.
func NewStage(params config.SegmentationParams, log logger.Logger) (*Stage, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	splitter, err := NewSplitter(params.Algorithm)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Stage{params: params, splitter: splitter, log: log}, nil
}

// Run segments one intensity image into a label map. The seeds argument is
// the previous stage's label map, or nil for a seedless variant; a variant
// that requires seeds fails fast without one. An empty segmentation is not
// an error: downstream stages degrade gracefully to empty results.
func (s *Stage) Run(img gocv.Mat, seeds *gocv.Mat) (gocv.Mat, error) {
	mask, err := Preprocess(img, s.params.IntensitySmoothing, s.params.Threshold)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("stage %s: %w", s.splitter.Name(), err)
	}
	defer mask.Close()

	cleaned, err := CleanMask(mask, s.params.LargestHole, s.params.SmallestObject, s.params.BinarySmoothing)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("stage %s: %w", s.splitter.Name(), err)
	}
	defer cleaned.Close()

	labels, count := Label(cleaned)
	defer labels.Close()
	if count == 0 {
		s.log.Warning("segmentation", "stage produced no objects", map[string]interface{}{
			"algorithm": s.splitter.Name(),
			"threshold": s.params.Threshold,
		})
	}

	split, err := s.splitter.Split(cleaned, labels, seeds)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("stage %s: %w", s.splitter.Name(), err)
	}
	return split, nil
}

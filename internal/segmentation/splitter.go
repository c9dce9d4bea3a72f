package segmentation

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"mito-hcs/internal/config"
)

// ErrSeedsRequired is returned when a splitter variant that needs an
// auxiliary seed label map is run without one. This is a configuration
// error: the splitter fails fast rather than silently skipping the split.
var ErrSeedsRequired = errors.New("seed label map required")

// Splitter subdivides the labeled regions of one segmentation stage.
// Implementations keep the foreground footprint of the mask and only ever
// add labels, never merge them.
//
// The seeds argument is the previous stage's label map: nil for the
// nuclei variant, nuclei labels for the cell variant, cell labels for the
// mitochondria variant.
type Splitter interface {
	Name() string
	Split(mask gocv.Mat, labels gocv.Mat, seeds *gocv.Mat) (gocv.Mat, error)
}

// NewSplitter selects a splitter variant by the configured algorithm name.
// The set is closed; unknown names are a configuration error.
func NewSplitter(algorithm string) (Splitter, error) {
	switch algorithm {
	case config.AlgorithmNuclei:
		return &NucleiSplitter{}, nil
	case config.AlgorithmCell:
		return &CellSplitter{}, nil
	case config.AlgorithmMitochondria:
		return &MitochondriaSplitter{}, nil
	default:
		return nil, &config.ValidationError{
			Field:  "algorithm",
			Reason: fmt.Sprintf("unknown algorithm %q", algorithm),
		}
	}
}

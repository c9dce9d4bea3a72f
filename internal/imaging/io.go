package imaging

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// ReadIntensity loads a single-channel intensity image (typically a 16-bit
// TIFF from a high-content imager) as a CV32F Mat.
func ReadIntensity(path string) (gocv.Mat, error) {
	raw := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if raw.Empty() {
		return gocv.Mat{}, fmt.Errorf("failed to read image %q", path)
	}
	defer raw.Close()

	img := AsFloat(raw)
	return img, nil
}

// WriteLabels saves a label map as a 16-bit TIFF. OpenCV's TIFF writer has
// no 32-bit integer path; per-FOV object counts stay far below 65535.
func WriteLabels(path string, labels gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	packed := gocv.NewMat()
	defer packed.Close()
	labels.ConvertTo(&packed, gocv.MatTypeCV16UC1)

	if ok := gocv.IMWrite(path, packed); !ok {
		return fmt.Errorf("failed to write label image %q", path)
	}
	return nil
}

// WriteFloat saves a real-valued image (e.g. a shape index feature map) as
// a 32-bit float TIFF.
func WriteFloat(path string, img gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("failed to write feature image %q", path)
	}
	return nil
}

// Package imaging wraps the gocv.Mat plumbing shared by every pipeline
// stage: typed constructors, slice views, conversions between Mats and Go
// slices, and shape validation.
//
// Conventions: intensity images are CV32F, masks are CV8U with foreground
// 255, label maps are CV32S with background 0. Mats are owned by their
// creator; functions returning a Mat transfer ownership to the caller.
package imaging

import (
	"fmt"

	"gocv.io/x/gocv"
)

// MaskForeground is the foreground value in binary masks.
const MaskForeground uint8 = 255

// ShapeMismatchError reports channel images of differing dimensions within
// one field of view. Fatal for that field of view.
type ShapeMismatchError struct {
	Name               string
	WantRows, WantCols int
	GotRows, GotCols   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %s: expected %dx%d, got %dx%d",
		e.Name, e.WantRows, e.WantCols, e.GotRows, e.GotCols)
}

// EnsureSameShape returns a ShapeMismatchError if img does not match the
// reference dimensions.
func EnsureSameShape(name string, refRows, refCols int, img gocv.Mat) error {
	if img.Rows() != refRows || img.Cols() != refCols {
		return &ShapeMismatchError{
			Name:     name,
			WantRows: refRows, WantCols: refCols,
			GotRows: img.Rows(), GotCols: img.Cols(),
		}
	}
	return nil
}

// NewFloat creates a zero-filled CV32F Mat.
func NewFloat(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
}

// NewMask creates a zero-filled CV8U Mat.
func NewMask(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
}

// NewLabels creates a zero-filled CV32S Mat.
func NewLabels(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32S)
}

// AsFloat returns m as a CV32F Mat. The result is always a new Mat owned
// by the caller, even when m already has the right type.
func AsFloat(m gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	m.ConvertTo(&dst, gocv.MatTypeCV32F)
	return dst
}

// FloatData returns a direct view of a CV32F Mat's pixels in row-major
// order. The slice aliases the Mat and is invalid after Close.
func FloatData(m gocv.Mat) ([]float32, error) {
	if m.Type() != gocv.MatTypeCV32F {
		return nil, fmt.Errorf("expected CV32F Mat, got type %d", int(m.Type()))
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to access float data: %w", err)
	}
	return data, nil
}

// MaskData returns a direct view of a CV8U Mat's pixels in row-major order.
func MaskData(m gocv.Mat) ([]uint8, error) {
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected CV8U Mat, got type %d", int(m.Type()))
	}
	data, err := m.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to access mask data: %w", err)
	}
	return data, nil
}

// Labels returns a copy of a CV32S label map as a row-major int32 slice.
// gocv exposes no direct int32 view, so this is an element-wise copy.
func Labels(m gocv.Mat) ([]int32, error) {
	if m.Type() != gocv.MatTypeCV32S {
		return nil, fmt.Errorf("expected CV32S Mat, got type %d", int(m.Type()))
	}
	rows, cols := m.Rows(), m.Cols()
	out := make([]int32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = m.GetIntAt(r, c)
		}
	}
	return out, nil
}

// LabelsToMat packs a row-major int32 slice into a new CV32S Mat.
func LabelsToMat(labels []int32, rows, cols int) gocv.Mat {
	m := NewLabels(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.SetIntAt(r, c, labels[r*cols+c])
		}
	}
	return m
}

// FloatToMat packs a row-major float32 slice into a new CV32F Mat.
func FloatToMat(data []float32, rows, cols int) gocv.Mat {
	m := NewFloat(rows, cols)
	view, _ := m.DataPtrFloat32()
	copy(view, data)
	return m
}

// MaskToMat packs a row-major byte slice into a new CV8U Mat. Any nonzero
// byte becomes foreground.
func MaskToMat(data []uint8, rows, cols int) gocv.Mat {
	m := NewMask(rows, cols)
	view, _ := m.DataPtrUint8()
	for i, v := range data {
		if v != 0 {
			view[i] = MaskForeground
		}
	}
	return m
}

// MaxLabel returns the largest label value in a row-major label slice.
func MaxLabel(labels []int32) int32 {
	var maxL int32
	for _, l := range labels {
		if l > maxL {
			maxL = l
		}
	}
	return maxL
}

// CountLabels returns the number of distinct nonzero labels in a CV32S Mat.
func CountLabels(m gocv.Mat) (int, error) {
	labels, err := Labels(m)
	if err != nil {
		return 0, err
	}
	seen := make(map[int32]struct{})
	for _, l := range labels {
		if l > 0 {
			seen[l] = struct{}{}
		}
	}
	return len(seen), nil
}

package feature

import "math"

// Rolling-parabola background estimation: a grayscale opening with the
// additive structuring function h^2 - x^2 - y^2, i.e. a parabola of height
// h^2 rolled along the underside of the intensity surface. The quadratic
// separates over the two axes, so each erosion/dilation is two 1-D passes
// instead of one 2-D window.

// rollingParabola returns the estimated background for a row-major image.
func rollingParabola(data []float32, rows, cols int, height float64) []float32 {
	halfwidth := int(math.Ceil(height))

	// Squared offsets shared by all four passes.
	sq := make([]float64, 2*halfwidth+1)
	for i := range sq {
		d := float64(i - halfwidth)
		sq[i] = d * d
	}

	work := make([]float64, len(data))
	for i, v := range data {
		work[i] = float64(v)
	}

	// Erosion: min(I + d^2) along columns, then rows.
	eroded := minPassCols(work, rows, cols, sq, halfwidth)
	eroded = minPassRows(eroded, rows, cols, sq, halfwidth)

	// Dilation: max(E - d^2) along columns, then rows. The h^2 terms of
	// erosion and dilation cancel, so neither pass carries them.
	bg := maxPassCols(eroded, rows, cols, sq, halfwidth)
	bg = maxPassRows(bg, rows, cols, sq, halfwidth)

	out := make([]float32, len(data))
	for i, v := range bg {
		out[i] = float32(v)
	}
	return out
}

func minPassCols(data []float64, rows, cols int, sq []float64, hw int) []float64 {
	out := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			best := math.Inf(1)
			for d := -hw; d <= hw; d++ {
				cc := c + d
				if cc < 0 || cc >= cols {
					continue
				}
				if v := row[cc] + sq[d+hw]; v < best {
					best = v
				}
			}
			out[r*cols+c] = best
		}
	}
	return out
}

func minPassRows(data []float64, rows, cols int, sq []float64, hw int) []float64 {
	out := make([]float64, len(data))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			best := math.Inf(1)
			for d := -hw; d <= hw; d++ {
				rr := r + d
				if rr < 0 || rr >= rows {
					continue
				}
				if v := data[rr*cols+c] + sq[d+hw]; v < best {
					best = v
				}
			}
			out[r*cols+c] = best
		}
	}
	return out
}

func maxPassCols(data []float64, rows, cols int, sq []float64, hw int) []float64 {
	out := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			best := math.Inf(-1)
			for d := -hw; d <= hw; d++ {
				cc := c + d
				if cc < 0 || cc >= cols {
					continue
				}
				if v := row[cc] - sq[d+hw]; v > best {
					best = v
				}
			}
			out[r*cols+c] = best
		}
	}
	return out
}

func maxPassRows(data []float64, rows, cols int, sq []float64, hw int) []float64 {
	out := make([]float64, len(data))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			best := math.Inf(-1)
			for d := -hw; d <= hw; d++ {
				rr := r + d
				if rr < 0 || rr >= rows {
					continue
				}
				if v := data[rr*cols+c] - sq[d+hw]; v > best {
					best = v
				}
			}
			out[r*cols+c] = best
		}
	}
	return out
}

package feature

import "math"

// Derivative kernels for the shape index: central differences in the
// interior, one-sided at the borders, matching the usual discrete
// gradient convention so second derivatives stay symmetric.

// gradientRows differentiates along the row axis.
func gradientRows(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	if rows < 2 {
		return out
	}
	for c := 0; c < cols; c++ {
		out[c] = data[cols+c] - data[c]
		for r := 1; r < rows-1; r++ {
			out[r*cols+c] = (data[(r+1)*cols+c] - data[(r-1)*cols+c]) / 2
		}
		out[(rows-1)*cols+c] = data[(rows-1)*cols+c] - data[(rows-2)*cols+c]
	}
	return out
}

// gradientCols differentiates along the column axis.
func gradientCols(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	if cols < 2 {
		return out
	}
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		orow := out[r*cols : (r+1)*cols]
		orow[0] = row[1] - row[0]
		for c := 1; c < cols-1; c++ {
			orow[c] = (row[c+1] - row[c-1]) / 2
		}
		orow[cols-1] = row[cols-1] - row[cols-2]
	}
	return out
}

// hessianEigen returns the principal curvatures (eigenvalues of the 2x2
// Hessian) per pixel, k1 >= k2.
func hessianEigen(hxx, hxy, hyy []float64) (k1, k2 []float64) {
	k1 = make([]float64, len(hxx))
	k2 = make([]float64, len(hxx))
	for i := range hxx {
		tr := hxx[i] + hyy[i]
		diff := hxx[i] - hyy[i]
		disc := math.Sqrt(diff*diff + 4*hxy[i]*hxy[i])
		k1[i] = (tr + disc) / 2
		k2[i] = (tr - disc) / 2
	}
	return k1, k2
}

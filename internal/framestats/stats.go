// Package framestats summarises reassembled frames for session records
// and the monitor endpoints.
package framestats

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds per-frame pixel statistics. Percentiles are computed with
// linear interpolation over the sorted samples.
type Summary struct {
	Count  int     `json:"count"`
	Min    uint16  `json:"min"`
	Max    uint16  `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	// Saturated counts samples at full scale for the given bit depth.
	Saturated int `json:"saturated"`
}

// Summarize computes pixel statistics for one frame. bitDepth bounds the
// saturation check; a zero bitDepth means 16.
func Summarize(pixels []uint16, bitDepth int) Summary {
	if len(pixels) == 0 {
		return Summary{}
	}
	if bitDepth <= 0 || bitDepth > 16 {
		bitDepth = 16
	}
	fullScale := uint16(1<<uint(bitDepth) - 1)

	samples := make([]float64, len(pixels))
	s := Summary{Count: len(pixels), Min: pixels[0], Max: pixels[0]}
	for i, px := range pixels {
		samples[i] = float64(px)
		if px < s.Min {
			s.Min = px
		}
		if px > s.Max {
			s.Max = px
		}
		if px >= fullScale {
			s.Saturated++
		}
	}

	s.Mean = stat.Mean(samples, nil)
	s.StdDev = stat.StdDev(samples, nil)

	sort.Float64s(samples)
	s.P50 = stat.Quantile(0.50, stat.LinInterp, samples, nil)
	s.P95 = stat.Quantile(0.95, stat.LinInterp, samples, nil)
	s.P99 = stat.Quantile(0.99, stat.LinInterp, samples, nil)

	return s
}

// RowMeans returns the mean sample per row, the profile the flat-field
// check compares against the gate timing.
func RowMeans(pixels []uint16, rows, cols int) []float64 {
	if rows <= 0 || cols <= 0 || len(pixels) < rows*cols {
		return nil
	}
	means := make([]float64, rows)
	row := make([]float64, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			row[c] = float64(pixels[r*cols+c])
		}
		means[r] = floats.Sum(row) / float64(cols)
	}
	return means
}

package data

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ZScore normalizes intensities in place to zero mean and unit variance,
// computed over non-zero voxels only. Background (zero) voxels stay zero.
func ZScore(values []float32) {
	var fg []float64
	for _, v := range values {
		if v != 0 {
			fg = append(fg, float64(v))
		}
	}
	if len(fg) == 0 {
		return
	}

	mean, std := stat.MeanStdDev(fg, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, v := range values {
		if v != 0 {
			values[i] = float32((float64(v) - mean) / std)
		}
	}
}

// Weights returns a per-voxel weight map for labels.
//
// mode "uniform": every voxel weighs 1.
// mode "balanced": voxels of class c weigh V / (count_c * nPresent), the inverse
// class frequency normalized so that the mean voxel weight is 1.
func Weights(labels []int64, numClass int64, mode string) []float32 {
	weights := make([]float32, len(labels))
	if mode != "balanced" {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}

	counts := make([]float64, numClass)
	for _, l := range labels {
		counts[l]++
	}
	var present float64
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}

	total := float64(len(labels))
	classWeight := make([]float32, numClass)
	for c, n := range counts {
		if n > 0 {
			classWeight[c] = float32(total / (n * present))
		}
	}
	for i, l := range labels {
		weights[i] = classWeight[l]
	}

	return weights
}

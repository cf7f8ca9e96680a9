package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions used across the rhythm algorithms, backed by gonum

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// StandardDeviation calculates the sample standard deviation (N-1 denominator)
func StandardDeviation(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	return stat.StdDev(data, nil)
}

// CoefficientOfVariation returns stddev/mean, or 0 when the mean is zero.
func CoefficientOfVariation(data []float64) float64 {
	mean := Mean(data)
	if mean == 0 {
		return 0.0
	}
	return StandardDeviation(data) / math.Abs(mean)
}

// Median returns the middle value of data, averaging the two middle values
// for even lengths. data is not modified.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2.0
	}
	return sorted[mid]
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// Sum returns the sum of data
func Sum(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Sum(data)
}

// Max returns the largest value in data, or 0 for empty input.
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// ArgMax returns the index of the largest value (first on ties), or -1 for empty input.
func ArgMax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	return floats.MaxIdx(data)
}

// MinMaxNormalize normalizes data to the [0, 1] range.
// Data with no dynamic range is returned unchanged (as a copy).
func MinMaxNormalize(data []float64) []float64 {
	if len(data) == 0 {
		return []float64{}
	}

	min := floats.Min(data)
	max := floats.Max(data)

	normalized := make([]float64, len(data))
	if max-min == 0 || math.IsNaN(max-min) {
		copy(normalized, data)
		return normalized
	}

	for i, val := range data {
		normalized[i] = (val - min) / (max - min)
	}

	return normalized
}

// LocalMaxima marks x[i] > x[i-1] && x[i] >= x[i+1] with edge padding, so the
// first sample never qualifies and the last one may.
func LocalMaxima(x []float64) []bool {
	n := len(x)
	mask := make([]bool, n)
	for i := range n {
		prev := x[max(i-1, 0)]
		next := x[min(i+1, n-1)]
		mask[i] = x[i] > prev && x[i] >= next
	}
	return mask
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Clamp01 constrains a value to [0, 1]
func Clamp01(value float64) float64 {
	return Clamp(value, 0, 1)
}

// Package stats has summary statistics for evaluation metrics.
package stats

import (
	"slices"

	"github.com/cyclopcam/roomalign/pkg/gen"
)

// Returns (mean, variance) of the given samples.
func MeanVar[T gen.Float | gen.Integer](samples []T) (float64, float64) {
	mean := Mean(samples)
	return mean, Variance(samples, mean)
}

// Returns the mean of the given samples, or 0 if there are none.
func Mean[T gen.Float | gen.Integer](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Returns the population variance of the given samples.
func Variance[T gen.Float | gen.Integer](samples []T, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		diff := float64(v) - mean
		sum += diff * diff
	}
	return sum / float64(len(samples))
}

// Median returns the middle sample, averaging the two middle samples for even counts.
func Median[T gen.Float | gen.Integer](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	s := slices.Clone(samples)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return float64(s[n/2])
	}
	return (float64(s[n/2-1]) + float64(s[n/2])) / 2
}

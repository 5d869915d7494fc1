// Package gen holds small generic helpers shared by the numeric packages.
package gen

import (
	"cmp"
	"slices"
)

type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type Float interface {
	~float32 | ~float64
}

func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Abs[T Integer | Float](a T) T {
	if a < 0 {
		return -a
	}
	return a
}

// SortedKeys returns the keys of m in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Histogram counts the occurrences of every value in src
func Histogram[T comparable](src []T) map[T]int {
	counts := make(map[T]int)
	for _, v := range src {
		counts[v]++
	}
	return counts
}

// Mode returns the most frequent element of src, and its count.
// Ties are broken in favour of the smallest value, so the result does not
// depend on map iteration order.
func Mode[T cmp.Ordered](src []T) (mode T, count int) {
	for k, c := range Histogram(src) {
		if c > count || (c == count && k < mode) {
			mode = k
			count = c
		}
	}
	return
}

// Unique returns the distinct values of src, preserving first-seen order
func Unique[T comparable](src []T) []T {
	seen := make(map[T]bool, len(src))
	out := make([]T, 0, len(src))
	for _, v := range src {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

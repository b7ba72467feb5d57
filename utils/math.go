package utils

import "math"

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt limits v to the closed interval [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RMS returns sqrt(sumSquares / count), or zero for an empty count.
func RMS(sumSquares float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}

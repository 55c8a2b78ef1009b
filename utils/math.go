package utils

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DivCeil returns n / d rounded up for non-negative n and positive d.
func DivCeil(n, d int) int {
	return (n + d - 1) / d
}

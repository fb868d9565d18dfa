package utils

// Ratio returns n/d clamped to [0, 1]. A zero denominator yields 1, since an
// empty set of requirements is trivially met.
func Ratio(n, d int) float64 {
	if d <= 0 {
		return 1
	}
	r := float64(n) / float64(d)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

package classify

import "math"

// DTWDistance computes the dynamic-time-warping distance between two
// feature-frame sequences. The local cost is the elementwise absolute
// difference summed over vector dimensions, which makes the distance
// symmetric. Sequences of different coefficient counts compare over
// the shared dimensions.
func DTWDistance(a, b [][]float64) float64 {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	// Two-row rolling cost table; borders start at +Inf so the path is
	// forced through the origin.
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := frameCost(a[i-1], b[j-1])
			curr[j] = cost + min3(prev[j], curr[j-1], prev[j-1])
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

// frameCost is the summed elementwise absolute difference over the
// dimensions both frames share.
func frameCost(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := x[i] - y[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

package cluster

import "math"

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// nearestSq returns the index of the closest centroid and the squared
// distance to it. Ties resolve to the lowest index.
func nearestSq(centroids [][]float64, p []float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := sqDist(p, ctr); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

// Nearest returns the index of the closest centroid and the Euclidean
// distance to it. Ties resolve to the lowest index, so the lookup is fully
// deterministic.
func Nearest(centroids [][]float64, p []float64) (int, float64) {
	c, d := nearestSq(centroids, p)
	return c, math.Sqrt(d)
}

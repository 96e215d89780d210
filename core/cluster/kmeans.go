package cluster

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kmeans partitions points into k groups with Lloyd iterations seeded by
// k-means++. It returns the assignment of each point and the centroids.
// Every centroid keeps at least one point.
func kmeans(points [][]float64, k, maxIter int, rng *rand.Rand) ([]int, [][]float64) {
	n := len(points)
	centroids := seed(points, k, rng)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			c := nearest(p, centroids)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		fillEmpty(points, centroids, assign)
		recompute(points, centroids, assign)
		if !changed {
			break
		}
	}
	return assign, centroids
}

func seed(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))
	d2 := make([]float64, len(points))
	for len(centroids) < k {
		for i, p := range points {
			d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
			d2[i] = d * d
		}
		total := floats.Sum(d2)
		idx := 0
		if total == 0 {
			idx = rng.Intn(len(points))
		} else {
			r := rng.Float64() * total
			for i, w := range d2 {
				r -= w
				if r <= 0 {
					idx = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), points[idx]...))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for i, c := range centroids {
		if d := floats.Distance(p, c, 2); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// fillEmpty moves the point farthest from its centroid into each empty cluster.
func fillEmpty(points [][]float64, centroids [][]float64, assign []int) {
	counts := make([]int, len(centroids))
	for _, a := range assign {
		counts[a]++
	}
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if counts[assign[i]] <= 1 {
				continue
			}
			if d := floats.Distance(p, centroids[assign[i]], 2); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return
		}
		counts[assign[far]]--
		assign[far] = c
		counts[c]++
	}
}

func recompute(points [][]float64, centroids [][]float64, assign []int) {
	dim := len(points[0])
	sums := make([][]float64, len(centroids))
	counts := make([]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		floats.Add(sums[assign[i]], p)
		counts[assign[i]]++
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		floats.Scale(1/counts[c], sums[c])
		centroids[c] = sums[c]
	}
}

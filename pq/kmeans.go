package pq

import (
	"math"
	"math/rand"

	"github.com/hupe1980/annex/internal/simd"
)

// Unweighted disables anisotropic weighting; every point contributes equally.
const Unweighted = float32(-math.MaxFloat32)

// orthogonalWeight is the contribution of points whose squared norm falls
// below the anisotropic threshold: they only inform the orthogonal error
// direction.
const orthogonalWeight = float32(0.25)

// KMeansClusterer clusters subvectors with k-means++ seeding followed by
// Lloyd iterations. With an anisotropic threshold the centroid update is a
// weighted mean where points whose parallel quantization error dominates
// pull harder.
type KMeansClusterer struct {
	points      [][]float32
	k           int
	dim         int
	threshold   float32
	centroids   []float32 // k * dim, row-major
	assignments []int
	weights     []float32
	rng         *rand.Rand
}

// NewKMeansClusterer seeds k centroids from points using k-means++.
func NewKMeansClusterer(points [][]float32, k int, threshold float32, rng *rand.Rand) *KMeansClusterer {
	c := newClusterer(points, k, threshold, rng)
	c.seedPlusPlus()
	c.assignAll()
	return c
}

// NewKMeansClustererFromCentroids continues clustering from existing
// centroids (used by refine).
func NewKMeansClustererFromCentroids(points [][]float32, centroids []float32, k int, threshold float32, rng *rand.Rand) *KMeansClusterer {
	c := newClusterer(points, k, threshold, rng)
	c.centroids = append([]float32(nil), centroids...)
	c.assignAll()
	return c
}

func newClusterer(points [][]float32, k int, threshold float32, rng *rand.Rand) *KMeansClusterer {
	c := &KMeansClusterer{
		points:      points,
		k:           k,
		dim:         len(points[0]),
		threshold:   threshold,
		assignments: make([]int, len(points)),
		rng:         rng,
	}
	if threshold != Unweighted {
		c.weights = make([]float32, len(points))
		for i, p := range points {
			c.weights[i] = c.pointWeight(p)
		}
	}
	return c
}

// pointWeight derives the anisotropic weight of a point from its squared
// norm relative to the threshold.
func (c *KMeansClusterer) pointWeight(p []float32) float32 {
	norm2 := simd.Dot(p, p)
	if norm2 <= c.threshold || norm2 == 0 {
		return orthogonalWeight
	}
	return (norm2 - c.threshold) / norm2
}

// seedPlusPlus picks the initial centroids: the first uniformly, the rest
// proportionally to the squared distance from the nearest chosen centroid.
// With fewer distinct points than centroids the leftover slots replay points
// round-robin, which keeps exact reconstruction for small vocabularies.
func (c *KMeansClusterer) seedPlusPlus() {
	n := len(c.points)
	c.centroids = make([]float32, c.k*c.dim)

	first := c.rng.Intn(n)
	copy(c.centroids[:c.dim], c.points[first])

	minDist := make([]float32, n)
	for i, p := range c.points {
		minDist[i] = simd.SquaredL2(p, c.points[first])
	}

	for j := 1; j < c.k; j++ {
		var total float64
		for _, d := range minDist {
			total += float64(d)
		}

		var pick int
		if total == 0 {
			// All points coincide with a centroid already; replay points.
			pick = j % n
		} else {
			target := c.rng.Float64() * total
			var cum float64
			pick = n - 1
			for i, d := range minDist {
				cum += float64(d)
				if cum >= target {
					pick = i
					break
				}
			}
		}

		copy(c.centroids[j*c.dim:(j+1)*c.dim], c.points[pick])
		for i, p := range c.points {
			if d := simd.SquaredL2(p, c.points[pick]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
}

// Centroids returns the flattened k*dim centroid array.
func (c *KMeansClusterer) Centroids() []float32 {
	return c.centroids
}

// Cluster runs Lloyd iterations until fewer than 1% of points change
// assignment, or maxIterations is reached. Returns the centroids.
func (c *KMeansClusterer) Cluster(maxIterations int) []float32 {
	for i := 0; i < maxIterations; i++ {
		changed := c.ClusterOnce()
		if changed <= len(c.points)/100 {
			break
		}
	}
	return c.centroids
}

// ClusterOnce performs one Lloyd round: recompute centroids from the current
// assignment, then reassign. Returns the number of points whose assignment
// changed.
func (c *KMeansClusterer) ClusterOnce() int {
	c.updateCentroids()
	return c.assignAll()
}

func (c *KMeansClusterer) assignAll() int {
	changed := 0
	for i, p := range c.points {
		best := c.closestCentroid(p)
		if best != c.assignments[i] {
			c.assignments[i] = best
			changed++
		}
	}
	return changed
}

func (c *KMeansClusterer) closestCentroid(p []float32) int {
	best := 0
	bestDist := simd.SquaredL2(p, c.centroids[:c.dim])
	for j := 1; j < c.k; j++ {
		d := simd.SquaredL2(p, c.centroids[j*c.dim:(j+1)*c.dim])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

func (c *KMeansClusterer) updateCentroids() {
	sums := make([]float64, c.k*c.dim)
	counts := make([]float64, c.k)

	for i, p := range c.points {
		w := float64(1)
		if c.weights != nil {
			w = float64(c.weights[i])
		}
		cluster := c.assignments[i]
		row := sums[cluster*c.dim : (cluster+1)*c.dim]
		for d, v := range p {
			row[d] += w * float64(v)
		}
		counts[cluster] += w
	}

	for j := 0; j < c.k; j++ {
		if counts[j] > 0 {
			row := c.centroids[j*c.dim : (j+1)*c.dim]
			inv := 1 / counts[j]
			for d := range row {
				row[d] = float32(sums[j*c.dim+d] * inv)
			}
		} else {
			c.reseedEmptyCluster(j)
		}
	}
}

// reseedEmptyCluster moves an empty cluster onto the point farthest from its
// currently-assigned centroid.
func (c *KMeansClusterer) reseedEmptyCluster(j int) {
	farthest := 0
	var farthestDist float32 = -1
	for i, p := range c.points {
		a := c.assignments[i]
		d := simd.SquaredL2(p, c.centroids[a*c.dim:(a+1)*c.dim])
		if d > farthestDist {
			farthestDist = d
			farthest = i
		}
	}
	copy(c.centroids[j*c.dim:(j+1)*c.dim], c.points[farthest])
}

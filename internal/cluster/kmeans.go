// Package cluster implements k-means partitioning in standardized feature space.
//
// Centroids are seeded with k-means++ and refined with Lloyd iterations.
// Several restarts run concurrently, each with its own seed derived from
// the configured master seed, and the lowest-inertia result wins. Results
// are deterministic for a given seed regardless of worker count.
package cluster

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/segment-cli/internal/model"
)

// seedStream is the PCG stream constant for the master seed generator.
const seedStream = 0x9e3779b97f4a7c15

// Config contains configuration for k-means.
type Config struct {
	// K is the number of clusters. Must be >= 2 and <= number of points.
	K int

	// Restarts is the number of independent k-means++ initializations.
	Restarts int

	// MaxIterations caps Lloyd iterations per restart.
	MaxIterations int

	// Tolerance stops a restart once total squared centroid movement falls
	// below Tolerance times the mean per-feature variance.
	Tolerance float64

	// Seed makes initialization reproducible.
	Seed int64

	// Workers is the number of restarts run concurrently. If <= 0, defaults to 4.
	Workers int
}

// DefaultConfig returns default k-means configuration.
func DefaultConfig() Config {
	return Config{
		K:             4,
		Restarts:      10,
		MaxIterations: 300,
		Tolerance:     1e-4,
		Seed:          42,
		Workers:       4,
	}
}

// Result is a fitted partition.
type Result struct {
	Centroids  [][]float64
	Labels     []int
	Inertia    float64
	Iterations int
	Restart    int
}

func (c Config) validate(n int) error {
	if c.K < 2 {
		return &model.InvalidParameterError{Name: "k", Value: c.K, Reason: "must be >= 2"}
	}
	if c.K > n {
		return &model.InvalidParameterError{Name: "k", Value: c.K, Reason: "exceeds the number of customers"}
	}
	if c.Restarts < 1 {
		return &model.InvalidParameterError{Name: "restarts", Value: c.Restarts, Reason: "must be >= 1"}
	}
	if c.MaxIterations < 1 {
		return &model.InvalidParameterError{Name: "max_iterations", Value: c.MaxIterations, Reason: "must be >= 1"}
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return &model.InvalidParameterError{Name: "tolerance", Value: c.Tolerance, Reason: "must be >= 0"}
	}
	return nil
}

// KMeans partitions points into cfg.K clusters.
func KMeans(ctx context.Context, points [][]float64, cfg Config) (*Result, error) {
	if err := cfg.validate(len(points)); err != nil {
		return nil, eris.Wrap(err, "cluster: config")
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, eris.Errorf("cluster: point %d has %d dimensions, want %d", i, len(p), dim)
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	master := rand.New(rand.NewPCG(uint64(cfg.Seed), seedStream))
	seeds := make([]uint64, cfg.Restarts)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	tol := cfg.Tolerance * meanVariance(points)
	results := make([]*Result, cfg.Restarts)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := range cfg.Restarts {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[r], uint64(r)))
			res, err := lloyd(gCtx, points, seedPlusPlus(points, cfg.K, rng), cfg.MaxIterations, tol)
			if err != nil {
				return err
			}
			res.Restart = r
			results[r] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := results[0]
	for _, res := range results[1:] {
		if res.Inertia < best.Inertia {
			best = res
		}
	}

	zap.L().Debug("cluster: k-means fitted",
		zap.Int("k", cfg.K),
		zap.Int("points", len(points)),
		zap.Int("restarts", cfg.Restarts),
		zap.Int("best_restart", best.Restart),
		zap.Int("iterations", best.Iterations),
		zap.Float64("inertia", best.Inertia),
	)

	return best, nil
}

// seedPlusPlus picks k initial centroids with D² weighting. When every
// remaining point coincides with a chosen centroid it falls back to the
// lowest-index unchosen point.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := make([]bool, n)
	centroids := make([][]float64, 0, k)

	first := rng.IntN(n)
	chosen[first] = true
	centroids = append(centroids, clonePoint(points[first]))

	d2 := make([]float64, n)
	for i, p := range points {
		d2[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		var total float64
		for _, d := range d2 {
			total += d
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, d := range d2 {
				if d == 0 {
					continue
				}
				acc += d
				next = i
				if acc >= target {
					break
				}
			}
		}
		if next < 0 {
			for i := range chosen {
				if !chosen[i] {
					next = i
					break
				}
			}
		}

		chosen[next] = true
		c := clonePoint(points[next])
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centroids
}

// lloyd refines centroids until movement drops below tol or maxIter is hit.
func lloyd(ctx context.Context, points, centroids [][]float64, maxIter int, tol float64) (*Result, error) {
	k := len(centroids)
	dim := len(points[0])
	labels := make([]int, len(points))

	iter := 0
	for iter < maxIter {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "cluster: context cancelled")
		}
		iter++

		for i, p := range points {
			labels[i], _ = nearestSq(centroids, p)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for d, x := range p {
				sums[c][d] += x
			}
		}

		next := make([][]float64, k)
		for c := range next {
			if counts[c] == 0 {
				next[c] = clonePoint(farthestPoint(points, centroids, labels))
				continue
			}
			next[c] = make([]float64, dim)
			for d := range next[c] {
				next[c][d] = sums[c][d] / float64(counts[c])
			}
		}

		var shift float64
		for c := range next {
			shift += sqDist(next[c], centroids[c])
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	var inertia float64
	for i, p := range points {
		var d float64
		labels[i], d = nearestSq(centroids, p)
		inertia += d
	}

	return &Result{
		Centroids:  centroids,
		Labels:     labels,
		Inertia:    inertia,
		Iterations: iter,
	}, nil
}

// farthestPoint returns the point with the largest distance to its assigned
// centroid; it reseeds an empty cluster.
func farthestPoint(points, centroids [][]float64, labels []int) []float64 {
	best, bestD := 0, -1.0
	for i, p := range points {
		if d := sqDist(p, centroids[labels[i]]); d > bestD {
			best, bestD = i, d
		}
	}
	return points[best]
}

func meanVariance(points [][]float64) float64 {
	n := float64(len(points))
	dim := len(points[0])
	var total float64
	for d := range dim {
		var sum, ss float64
		for _, p := range points {
			sum += p[d]
		}
		mean := sum / n
		for _, p := range points {
			ss += (p[d] - mean) * (p[d] - mean)
		}
		total += ss / n
	}
	return total / float64(dim)
}

func clonePoint(p []float64) []float64 {
	return append([]float64(nil), p...)
}

package libcluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pixelwise/libcluster/probutils"
)

var (
	// EuclideanDistance is the metric used for seeding assignments.
	EuclideanDistance = func(a, b []float64) float64 {
		return floats.Distance(a, b, 2)
	}
)

// initialize builds the priors and the starting responsibilities.
//
// Seeding is deterministic maximin: the first centre is the observation
// nearest the pooled mean, every further centre the observation farthest
// from all centres chosen so far. Observations are hard-assigned to their
// nearest centre, which the first M-step turns into proper posteriors.
// Repeated fits on the same data therefore produce the same result.
func (m *model) initialize() error {
	mats := make([]mat.Matrix, len(m.groups))
	for j, x := range m.groups {
		mats[j] = x
	}

	mu, err := probutils.GroupMean(mats)
	if err != nil {
		return err
	}
	m.mu = mu
	m.d = len(mu)

	var pooled [][]float64
	for _, x := range m.groups {
		n, _ := x.Dims()
		for i := 0; i < n; i++ {
			row := make([]float64, m.d)
			mat.Row(row, i, x)
			pooled = append(pooled, row)
		}
	}

	k := m.cfg.Clusters
	if k > len(pooled) {
		k = len(pooled)
	}

	centres := seedCentres(pooled, k, mu)

	m.qz = make([]*mat.Dense, len(m.groups))
	for j, x := range m.groups {
		n, _ := x.Dims()
		qz := mat.NewDense(n, k, nil)

		row := make([]float64, m.d)
		for i := 0; i < n; i++ {
			mat.Row(row, i, x)

			var (
				best int
				min  = math.Inf(1)
			)
			for c, ctr := range centres {
				if d := EuclideanDistance(row, ctr); d < min {
					min = d
					best = c
				}
			}

			qz.Set(i, best, 1)
		}

		m.qz[j] = qz
	}

	m.resetWeights(k)
	m.resetClusters(k)
	m.free = math.Inf(-1)

	return nil
}

// resetClusters replaces the shared cluster posteriors with k fresh ones
// at the prior; the next M-step re-derives them from the current
// responsibilities.
func (m *model) resetClusters(k int) {
	m.clusters = make([]*gaussWish, k)
	for c := range m.clusters {
		m.clusters[c] = newGaussWish(m.cfg.Width, m.mu)
	}
}

// resetWeights does the same for the per-group weight posteriors.
func (m *model) resetWeights(k int) {
	m.weights = make([]*dirichlet, len(m.groups))
	for j := range m.weights {
		m.weights[j] = newDirichlet(m.cfg.Prior, k)
	}
}

func seedCentres(pooled [][]float64, k int, mu []float64) [][]float64 {
	centres := make([][]float64, 0, k)

	var (
		first int
		min   = math.Inf(1)
	)
	for i, row := range pooled {
		if d := EuclideanDistance(row, mu); d < min {
			min = d
			first = i
		}
	}
	centres = append(centres, pooled[first])

	nearest := make([]float64, len(pooled))
	for i, row := range pooled {
		nearest[i] = squaredDistance(row, centres[0])
	}

	for len(centres) < k {
		var (
			far int
			max = math.Inf(-1)
		)
		for i, d := range nearest {
			if d > max {
				max = d
				far = i
			}
		}

		centres = append(centres, pooled[far])

		for i, row := range pooled {
			if d := squaredDistance(row, pooled[far]); d < nearest[i] {
				nearest[i] = d
			}
		}
	}

	return centres
}

func squaredDistance(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return s
}

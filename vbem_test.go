package libcluster

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pixelwise/libcluster/probutils"
)

// blob appends n spherical Gaussian samples around mu to rows.
func blob(r *rand.Rand, rows [][]float64, n int, mu []float64, sd float64) [][]float64 {
	for i := 0; i < n; i++ {
		row := make([]float64, len(mu))
		for j := range mu {
			row[j] = mu[j] + sd*r.NormFloat64()
		}
		rows = append(rows, row)
	}
	return rows
}

func denseOf(rows [][]float64) *mat.Dense {
	d := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		d.SetRow(i, row)
	}
	return d
}

// twoBlobGroups builds two groups drawn from clusters at (0,0) and
// (10,10) with different proportions per group.
func twoBlobGroups(seed int64, sd float64) ([]*mat.Dense, []int) {
	r := rand.New(rand.NewSource(seed))

	var g1 [][]float64
	g1 = blob(r, g1, 100, []float64{0, 0}, sd)
	g1 = blob(r, g1, 100, []float64{10, 10}, sd)

	var g2 [][]float64
	g2 = blob(r, g2, 150, []float64{0, 0}, sd)
	g2 = blob(r, g2, 50, []float64{10, 10}, sd)

	return []*mat.Dense{denseOf(g1), denseOf(g2)}, []int{100, 150}
}

// clusterNear returns the index of the mean closest to target.
func clusterNear(means [][]float64, target []float64) int {
	best, min := 0, math.Inf(1)
	for c, m := range means {
		if d := floats.Distance(m, target, 2); d < min {
			min = d
			best = c
		}
	}
	return best
}

func TestFitTwoGroupsWellSeparated(t *testing.T) {
	groups, firstBlob := twoBlobGroups(7, 0.1)

	gmc, err := NewGMC(Config{Clusters: 2})
	require.NoError(t, err)

	res, err := gmc.Fit(context.Background(), groups)
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Len(t, res.Means, 2)

	lo := clusterNear(res.Means, []float64{0, 0})
	hi := clusterNear(res.Means, []float64{10, 10})
	require.NotEqual(t, lo, hi)

	assert.InDelta(t, 0, res.Means[lo][0], 0.1)
	assert.InDelta(t, 0, res.Means[lo][1], 0.1)
	assert.InDelta(t, 10, res.Means[hi][0], 0.1)
	assert.InDelta(t, 10, res.Means[hi][1], 0.1)

	for j, qz := range res.Assignments {
		n, k := qz.Dims()
		require.Equal(t, 2, k)

		for i := 0; i < n; i++ {
			var sum float64
			for c := 0; c < k; c++ {
				v := qz.At(i, c)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
				sum += v
			}
			assert.InDelta(t, 1, sum, 1e-9)

			want := hi
			if i < firstBlob[j] {
				want = lo
			}
			assert.GreaterOrEqual(t, qz.At(i, want), 0.99)
		}
	}

	for _, w := range res.Weights {
		assert.InDelta(t, 1, floats.Sum(w), 1e-9)
	}
	assert.InDelta(t, 0.5, res.Weights[0][lo], 0.05)
	assert.InDelta(t, 0.75, res.Weights[1][lo], 0.05)
}

func TestFreeEnergyMonotonic(t *testing.T) {
	groups, _ := twoBlobGroups(11, 0.5)

	gmc, err := NewGMC(Config{Clusters: 2})
	require.NoError(t, err)

	m := &model{cfg: gmc.cfg, log: zerolog.Nop(), groups: groups}
	require.NoError(t, m.initialize())

	ctx := context.Background()
	prev := math.Inf(-1)

	for i := 0; i < 50; i++ {
		f, err := m.sweep(ctx)
		require.NoError(t, err)

		if i > 0 {
			assert.GreaterOrEqual(t, f, prev-1e-6*math.Abs(f), "bound decreased at sweep %d", i)
		}
		prev = f
	}
}

func TestSparseAgreesWithDenseWhenSeparated(t *testing.T) {
	fit := func(sparse bool) *Result {
		groups, _ := twoBlobGroups(13, 0.1)

		gmc, err := NewGMC(Config{Clusters: 2, Sparse: sparse})
		require.NoError(t, err)

		res, err := gmc.Fit(context.Background(), groups)
		require.NoError(t, err)
		require.Len(t, res.Means, 2)

		return res
	}

	dense := fit(false)
	sparse := fit(true)

	for _, target := range [][]float64{{0, 0}, {10, 10}} {
		dc := clusterNear(dense.Means, target)
		sc := clusterNear(sparse.Means, target)

		for j := 0; j < 2; j++ {
			assert.InDelta(t, dense.Means[dc][j], sparse.Means[sc][j], 0.01)
		}
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.InDelta(t, dense.Covariances[dc].At(i, j), sparse.Covariances[sc].At(i, j), 0.01)
			}
		}
	}
}

func TestFitReportsNonConvergence(t *testing.T) {
	groups, _ := twoBlobGroups(17, 0.5)

	gmc, err := NewGMC(Config{Clusters: 2, MaxIterations: 2, Tolerance: 1e-12})
	require.NoError(t, err)

	res, err := gmc.Fit(context.Background(), groups)

	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.NotEmpty(t, res.Means)
}

func TestFitValidatesInput(t *testing.T) {
	gmc, err := NewGMC(Config{})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = gmc.Fit(ctx, nil)
	require.ErrorIs(t, err, ErrEmptySet)

	_, err = gmc.Fit(ctx, []*mat.Dense{mat.NewDense(2, 2, nil), mat.NewDense(2, 3, nil)})
	require.ErrorIs(t, err, probutils.ErrDimensionMismatch)
}

func TestFitHonoursCancellation(t *testing.T) {
	groups, _ := twoBlobGroups(19, 0.5)

	gmc, err := NewGMC(Config{Clusters: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gmc.Fit(ctx, groups)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSparsifyRenormalisesRows(t *testing.T) {
	qz := mat.NewDense(1, 3, []float64{1e-9, 0.5, 0.5 - 1e-9})

	sparsify(qz)

	assert.Zero(t, qz.At(0, 0))
	assert.InDelta(t, 0.5, qz.At(0, 1), 1e-9)
	assert.InDelta(t, 1, qz.At(0, 1)+qz.At(0, 2), 1e-12)
}

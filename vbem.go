package libcluster

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pixelwise/libcluster/probutils"
)

const (
	// clusters whose pooled responsibility mass falls below this are removed
	pruneCutoff = 0.1

	// responsibilities below this are snapped to zero in sparse mode
	sparseCutoff = 1e-4
)

// model is the per-fit working set: observations, posteriors and
// responsibilities. Every Fit call builds a fresh one.
type model struct {
	cfg Config
	log zerolog.Logger

	groups []*mat.Dense
	d      int

	// pooled data mean, shared prior location for all clusters
	mu []float64

	weights  []*dirichlet
	clusters []*gaussWish
	qz       []*mat.Dense

	// variational lower bound after the most recent sweep
	free float64
}

// estep computes one group's row-stochastic responsibility matrix from
// the current posteriors. Returns the matrix and the group's summed row
// log-sum-exp, the likelihood part of the bound.
func (m *model) estep(j int) (*mat.Dense, float64, error) {
	var (
		x     = m.groups[j]
		k     = len(m.clusters)
		elogw = m.weights[j].elogWeight()
	)

	n, _ := x.Dims()
	logq := mat.NewDense(n, k, nil)

	for c, gw := range m.clusters {
		ll, err := gw.elogLike(x)
		if err != nil {
			return nil, 0, err
		}

		for i := 0; i < n; i++ {
			logq.Set(i, c, elogw[c]+ll[i])
		}
	}

	lse := probutils.LogSumExp(logq)

	qz := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			qz.Set(i, c, probutils.Exp(logq.At(i, c)-lse[i]))
		}
	}

	if m.cfg.Sparse {
		sparsify(qz)
	}

	return qz, floats.Sum(lse), nil
}

// sparsify zeroes sub-threshold responsibilities and renormalises each
// row, trading exactness for cheaper accumulation on wide mixtures.
func sparsify(qz *mat.Dense) {
	n, k := qz.Dims()

	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < k; c++ {
			if qz.At(i, c) < sparseCutoff {
				qz.Set(i, c, 0)
			} else {
				sum += qz.At(i, c)
			}
		}

		if sum == 0 {
			continue
		}

		for c := 0; c < k; c++ {
			if v := qz.At(i, c); v != 0 {
				qz.Set(i, c, v/sum)
			}
		}
	}
}

// sweep runs one full VBEM iteration: accumulate from the current
// responsibilities, prune collapsed clusters, apply the closed-form
// M-step updates, recompute responsibilities, and return the bound.
// Per-group work fans out over the worker pool; everything after the
// barrier is single-threaded.
func (m *model) sweep(ctx context.Context) (float64, error) {
	nGroups := len(m.groups)

	stats := make([]*suffStat, nGroups)
	err := m.eachGroup(ctx, func(j int) error {
		stats[j] = groupStats(m.groups[j], m.qz[j])
		return nil
	})
	if err != nil {
		return 0, err
	}

	pooled := poolStats(stats, len(m.clusters), m.d)
	m.prune(stats, pooled)

	for j := range m.groups {
		m.weights[j].update(stats[j].nk)
	}

	for c, gw := range m.clusters {
		if err := gw.update(pooled.nk[c], pooled.xbar[c], pooled.sk[c]); err != nil {
			return 0, err
		}
	}

	likes := make([]float64, nGroups)
	err = m.eachGroup(ctx, func(j int) error {
		qz, l, err := m.estep(j)
		if err != nil {
			return err
		}

		m.qz[j] = qz
		likes[j] = l

		return nil
	})
	if err != nil {
		return 0, err
	}

	f := floats.Sum(likes)
	for j := range m.groups {
		f -= m.weights[j].fenergy()
	}
	for _, gw := range m.clusters {
		kl, err := gw.fenergy()
		if err != nil {
			return 0, err
		}
		f -= kl
	}

	return f, nil
}

// prune drops clusters whose pooled responsibility mass has collapsed,
// keeping at least one. The per-group and pooled statistics are filtered
// in step so the following M-step sees consistent shapes.
func (m *model) prune(stats []*suffStat, pooled *suffStat) {
	for c := len(m.clusters) - 1; c >= 0; c-- {
		if len(m.clusters) <= 1 {
			return
		}

		if pooled.nk[c] >= pruneCutoff {
			continue
		}

		m.log.Debug().Int("cluster", c).Float64("mass", pooled.nk[c]).Msg("pruning collapsed cluster")

		m.clusters = append(m.clusters[:c], m.clusters[c+1:]...)
		pooled.dropCluster(c)
		for _, st := range stats {
			st.dropCluster(c)
		}
	}
}

// run iterates sweeps until the bound's increase falls below the relative
// tolerance or maxIter passes complete. Cancellation is honoured at
// iteration granularity.
func (m *model) run(ctx context.Context, maxIter int) (int, bool, error) {
	for it := 0; it < maxIter; it++ {
		if err := ctx.Err(); err != nil {
			return it, false, err
		}

		f, err := m.sweep(ctx)
		if err != nil {
			return it, false, err
		}

		delta := f - m.free
		m.free = f

		m.log.Debug().
			Int("iteration", it).
			Int("clusters", len(m.clusters)).
			Float64("free_energy", f).
			Float64("delta", delta).
			Msg("vbem sweep")

		if it > 0 && delta <= m.cfg.Tolerance*math.Abs(f) {
			return it + 1, true, nil
		}
	}

	return maxIter, false, nil
}

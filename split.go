package libcluster

import (
	"container/heap"
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pixelwise/libcluster/probutils"
)

const (
	// squared c-separation below which two clusters overlap enough to
	// propose a merge, and above which a cluster is isolated enough to
	// propose a split
	mergeSeparation = 1.0
	splitSeparation = 1.0

	// minimum responsibility mass for a split candidate, two observations
	// per child
	splitMinMass = 4.0

	// VBEM iterations granted to a tentative proposal before the
	// free-energy accept/reject test
	refineIterations = 10

	// cap on accepted structural changes per fit
	maxRefineRounds = 30
)

// snapshot captures the posteriors, responsibilities and bound before a
// proposal is applied. Proposals build entirely fresh state, so rollback
// is a handle swap.
type snapshot struct {
	clusters []*gaussWish
	weights  []*dirichlet
	qz       []*mat.Dense
	free     float64
}

func (m *model) snapshot() *snapshot {
	return &snapshot{
		clusters: append([]*gaussWish(nil), m.clusters...),
		weights:  append([]*dirichlet(nil), m.weights...),
		qz:       append([]*mat.Dense(nil), m.qz...),
		free:     m.free,
	}
}

func (m *model) restore(s *snapshot) {
	m.clusters = s.clusters
	m.weights = s.weights
	m.qz = s.qz
	m.free = s.free
}

// refine proposes one structural change to the converged model: merges of
// overlapping cluster pairs first (most overlapping first), then splits
// of isolated heavy clusters (heaviest first). The first proposal that
// strictly improves the bound after a short refit is kept. Reports
// whether anything changed.
func (m *model) refine(ctx context.Context) (bool, error) {
	k := len(m.clusters)

	var (
		means = make([][]float64, k)
		eigs  = make([]float64, k)
		axes  = make([][]float64, k)
	)

	for c, gw := range m.clusters {
		val, vec, err := probutils.EigPower(gw.cov())
		if err != nil {
			return false, err
		}

		means[c] = gw.mean()
		eigs[c] = val
		axes[c] = vec
	}

	merges := newProposalQueue(k * k / 2)
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			sep, err := probutils.CSeparation(eigs[a], eigs[b], means[a], means[b])
			if err != nil {
				return false, err
			}

			if sep < mergeSeparation {
				heap.Push(&merges, &proposal{kind: proposalMerge, k: a, l: b, p: -sep})
			}
		}
	}

	for merges.NotEmpty() {
		p := heap.Pop(&merges).(*proposal)

		ok, err := m.tryProposal(ctx, p, nil)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	splits := newProposalQueue(k)
	for c, gw := range m.clusters {
		if gw.nk < splitMinMass {
			continue
		}

		minSep := math.Inf(1)
		for o := 0; o < k; o++ {
			if o == c {
				continue
			}

			sep, err := probutils.CSeparation(eigs[c], eigs[o], means[c], means[o])
			if err != nil {
				return false, err
			}
			if sep < minSep {
				minSep = sep
			}
		}

		if k == 1 || minSep > splitSeparation {
			heap.Push(&splits, &proposal{kind: proposalSplit, k: c, p: gw.nk})
		}
	}

	for splits.NotEmpty() {
		p := heap.Pop(&splits).(*proposal)

		ok, err := m.tryProposal(ctx, p, axes[p.k])
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// tryProposal tentatively applies p, refits briefly, and keeps the change
// only when the bound strictly improves over the pre-proposal value.
func (m *model) tryProposal(ctx context.Context, p *proposal, axis []float64) (bool, error) {
	snap := m.snapshot()

	var applied bool
	switch p.kind {
	case proposalMerge:
		applied = m.applyMerge(p.k, p.l)
	case proposalSplit:
		applied = m.applySplit(p.k, axis)
	}

	if !applied {
		m.restore(snap)
		return false, nil
	}

	m.free = math.Inf(-1)
	if _, _, err := m.run(ctx, refineIterations); err != nil {
		m.restore(snap)
		return false, err
	}

	if m.free > snap.free {
		m.log.Info().
			Int("kind", int(p.kind)).
			Int("cluster", p.k).
			Int("with", p.l).
			Float64("gain", m.free-snap.free).
			Msg("structural proposal accepted")

		return true, nil
	}

	m.restore(snap)

	return false, nil
}

// applyMerge folds cluster l's responsibility column into cluster k's and
// rebuilds fresh posteriors for the next M-step to populate.
func (m *model) applyMerge(k, l int) bool {
	kNew := len(m.clusters) - 1

	qz := make([]*mat.Dense, len(m.groups))
	for j, old := range m.qz {
		n, kOld := old.Dims()
		q := mat.NewDense(n, kNew, nil)

		for i := 0; i < n; i++ {
			cc := 0
			for c := 0; c < kOld; c++ {
				if c == l {
					continue
				}

				v := old.At(i, c)
				if c == k {
					v += old.At(i, l)
				}

				q.Set(i, cc, v)
				cc++
			}
		}

		qz[j] = q
	}

	m.qz = qz
	m.resetClusters(kNew)
	m.resetWeights(kNew)

	return true
}

// applySplit bisects cluster c's responsibility mass by the sign of each
// observation's projection onto the cluster's principal covariance axis.
// Splits leaving either side with less than two observations' worth of
// mass are discarded.
func (m *model) applySplit(c int, axis []float64) bool {
	var (
		kNew   = len(m.clusters) + 1
		centre = m.clusters[c].mean()

		leftMass, rightMass float64
	)

	qz := make([]*mat.Dense, len(m.groups))
	for j, old := range m.qz {
		n, kOld := old.Dims()
		q := mat.NewDense(n, kNew, nil)

		for i := 0; i < n; i++ {
			for cc := 0; cc < kOld; cc++ {
				if cc != c {
					q.Set(i, cc, old.At(i, cc))
				}
			}

			var proj float64
			for jj := 0; jj < m.d; jj++ {
				proj += (m.groups[j].At(i, jj) - centre[jj]) * axis[jj]
			}

			r := old.At(i, c)
			if proj < 0 {
				q.Set(i, c, r)
				leftMass += r
			} else {
				q.Set(i, kOld, r)
				rightMass += r
			}
		}

		qz[j] = q
	}

	if leftMass < 2 || rightMass < 2 {
		return false
	}

	m.qz = qz
	m.resetClusters(kNew)
	m.resetWeights(kNew)

	return true
}

package libcluster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// suffStat holds per-cluster responsibility-weighted counts, means and
// scatters. One instance per group during accumulation, one pooled
// instance feeding the shared cluster updates.
type suffStat struct {
	nk   []float64
	xbar [][]float64
	sk   []*mat.SymDense
}

func newSuffStat(k, d int) *suffStat {
	s := &suffStat{
		nk:   make([]float64, k),
		xbar: make([][]float64, k),
		sk:   make([]*mat.SymDense, k),
	}

	for c := 0; c < k; c++ {
		s.xbar[c] = make([]float64, d)
		s.sk[c] = mat.NewSymDense(d, nil)
	}

	return s
}

// groupStats accumulates one group's statistics from its responsibility
// matrix. Zero responsibilities contribute nothing and are skipped, which
// is what makes sparse mode cheap.
func groupStats(x, qz *mat.Dense) *suffStat {
	n, d := x.Dims()
	_, k := qz.Dims()

	st := newSuffStat(k, d)
	diff := mat.NewVecDense(d, nil)

	for c := 0; c < k; c++ {
		var (
			nk   float64
			xbar = st.xbar[c]
		)

		for i := 0; i < n; i++ {
			r := qz.At(i, c)
			if r == 0 {
				continue
			}

			nk += r
			for j := 0; j < d; j++ {
				xbar[j] += r * x.At(i, j)
			}
		}

		st.nk[c] = nk
		if nk > 0 {
			floats.Scale(1/nk, xbar)
		}

		for i := 0; i < n; i++ {
			r := qz.At(i, c)
			if r == 0 {
				continue
			}

			for j := 0; j < d; j++ {
				diff.SetVec(j, x.At(i, j)-xbar[j])
			}
			st.sk[c].SymRankOne(st.sk[c], r, diff)
		}
	}

	return st
}

// poolStats reduces per-group statistics into pooled ones. Scatters are
// re-centred on the pooled mean with the usual parallel-axis shift, so
// pooling per-group scatters loses nothing.
func poolStats(stats []*suffStat, k, d int) *suffStat {
	pooled := newSuffStat(k, d)
	diff := mat.NewVecDense(d, nil)

	for c := 0; c < k; c++ {
		for _, st := range stats {
			pooled.nk[c] += st.nk[c]
		}

		if pooled.nk[c] > 0 {
			for _, st := range stats {
				floats.AddScaled(pooled.xbar[c], st.nk[c]/pooled.nk[c], st.xbar[c])
			}
		}

		for _, st := range stats {
			pooled.sk[c].AddSym(pooled.sk[c], st.sk[c])

			if st.nk[c] > 0 {
				for j := 0; j < d; j++ {
					diff.SetVec(j, st.xbar[c][j]-pooled.xbar[c][j])
				}
				pooled.sk[c].SymRankOne(pooled.sk[c], st.nk[c], diff)
			}
		}
	}

	return pooled
}

// dropCluster removes cluster c from the statistics in place.
func (s *suffStat) dropCluster(c int) {
	s.nk = append(s.nk[:c], s.nk[c+1:]...)
	s.xbar = append(s.xbar[:c], s.xbar[c+1:]...)
	s.sk = append(s.sk[:c], s.sk[c+1:]...)
}

package libcluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/pixelwise/libcluster/probutils"
)

// dirichlet is the symmetric-Dirichlet posterior over one group's mixing
// weights. The posterior pseudo-counts are the prior concentration plus
// that group's responsibility mass per cluster.
type dirichlet struct {
	alpha0 float64
	alpha  []float64
}

func newDirichlet(alpha0 float64, k int) *dirichlet {
	a := make([]float64, k)
	for i := range a {
		a[i] = alpha0
	}

	return &dirichlet{alpha0: alpha0, alpha: a}
}

func (d *dirichlet) update(nk []float64) {
	d.alpha = make([]float64, len(nk))
	for i, n := range nk {
		d.alpha[i] = d.alpha0 + n
	}
}

// elogWeight returns E[log w_k] = digamma(alpha_k) - digamma(sum alpha).
func (d *dirichlet) elogWeight() []float64 {
	var (
		sum = floats.Sum(d.alpha)
		dg  = probutils.MxDigamma(mat.NewDense(1, len(d.alpha), d.alpha))
		out = make([]float64, len(d.alpha))
	)

	psiSum := mathext.Digamma(sum)
	for i := range out {
		out[i] = dg.At(0, i) - psiSum
	}

	return out
}

// weights returns the posterior mean mixing weights.
func (d *dirichlet) weights() []float64 {
	sum := floats.Sum(d.alpha)

	w := make([]float64, len(d.alpha))
	for i, a := range d.alpha {
		w[i] = a / sum
	}

	return w
}

// fenergy returns KL(q || p) against the symmetric prior.
func (d *dirichlet) fenergy() float64 {
	var (
		k      = float64(len(d.alpha))
		sum    = floats.Sum(d.alpha)
		psiSum = mathext.Digamma(sum)
	)

	lgSum, _ := math.Lgamma(sum)
	lgPrior, _ := math.Lgamma(d.alpha0)
	lgPriorSum, _ := math.Lgamma(k * d.alpha0)

	kl := lgSum - lgPriorSum + k*lgPrior
	for _, a := range d.alpha {
		lg, _ := math.Lgamma(a)
		kl += -lg + (a-d.alpha0)*(mathext.Digamma(a)-psiSum)
	}

	return kl
}

// gaussWish is the Gaussian-Wishart posterior over one shared cluster's
// mean and precision. The prior is beta0 = 1, nu0 = D, m0 = pooled data
// mean and a diagonal scatter nu0*width*I; the posterior follows the
// closed-form conjugate update from pooled sufficient statistics.
type gaussWish struct {
	d int

	beta0, nu0 float64
	m0         []float64
	psi0       *mat.SymDense
	ldPsi0     float64

	beta, nu float64
	m        []float64
	psi      *mat.SymDense
	ldPsi    float64

	// pooled responsibility mass from the last update
	nk float64
}

func newGaussWish(width float64, m0 []float64) *gaussWish {
	d := len(m0)

	psi0 := mat.NewSymDense(d, nil)
	var ld float64
	for i := 0; i < d; i++ {
		psi0.SetSym(i, i, float64(d)*width)
		ld += math.Log(float64(d) * width)
	}

	g := &gaussWish{
		d:      d,
		beta0:  1,
		nu0:    float64(d),
		m0:     append([]float64(nil), m0...),
		psi0:   psi0,
		ldPsi0: ld,
	}

	g.beta, g.nu = g.beta0, g.nu0
	g.m = append([]float64(nil), g.m0...)
	g.psi = mat.NewSymDense(d, nil)
	g.psi.CopySym(psi0)
	g.ldPsi = ld

	return g
}

// update applies the conjugate M-step from pooled count, weighted mean
// and weighted scatter. The posterior scatter stays PSD as a sum of PSD
// terms and a rank-one outer product; a failed factorisation is reported
// as ErrNotPSD.
func (g *gaussWish) update(nk float64, xbar []float64, scatter *mat.SymDense) error {
	g.nk = nk
	g.beta = g.beta0 + nk
	g.nu = g.nu0 + nk

	g.m = make([]float64, g.d)
	for i := range g.m {
		g.m[i] = (g.beta0*g.m0[i] + nk*xbar[i]) / g.beta
	}

	diff := mat.NewVecDense(g.d, nil)
	for i := 0; i < g.d; i++ {
		diff.SetVec(i, xbar[i]-g.m0[i])
	}

	psi := mat.NewSymDense(g.d, nil)
	psi.AddSym(g.psi0, scatter)
	psi.SymRankOne(psi, g.beta0*nk/g.beta, diff)
	g.psi = psi

	ld, err := probutils.LogDet(psi)
	if err != nil {
		return err
	}
	g.ldPsi = ld

	return nil
}

// elogDetPrec returns E[log|Lambda|], a digamma sum over the Wishart
// degrees of freedom minus the log-determinant of the scatter.
func (g *gaussWish) elogDetPrec() float64 {
	args := mat.NewDense(1, g.d, nil)
	for i := 0; i < g.d; i++ {
		args.Set(0, i, (g.nu-float64(i))/2)
	}

	dg := probutils.MxDigamma(args)

	var sum float64
	for i := 0; i < g.d; i++ {
		sum += dg.At(0, i)
	}

	return sum + float64(g.d)*math.Ln2 - g.ldPsi
}

// elogLike returns, for every row of x, the expected Gaussian
// log-likelihood under the posterior, including the D/beta mean
// uncertainty term.
func (g *gaussWish) elogLike(x mat.Matrix) ([]float64, error) {
	var scaled mat.SymDense
	scaled.ScaleSym(1/g.nu, g.psi)

	maha, err := probutils.MahalDist(x, g.m, &scaled)
	if err != nil {
		return nil, err
	}

	c := 0.5*g.elogDetPrec() - 0.5*float64(g.d)/g.beta - 0.5*float64(g.d)*math.Log(2*math.Pi)

	out := make([]float64, len(maha))
	for i, mh := range maha {
		out[i] = c - 0.5*mh
	}

	return out, nil
}

// fenergy returns KL(q || p) of the Gaussian-Wishart posterior against
// its prior.
func (g *gaussWish) fenergy() (float64, error) {
	d := float64(g.d)

	dm := mat.NewDense(1, g.d, g.m)
	q0, err := probutils.MahalDist(dm, g.m0, g.psi)
	if err != nil {
		return 0, err
	}

	klN := 0.5 * (g.beta0*g.nu*q0[0] + d*g.beta0/g.beta - d + d*math.Log(g.beta/g.beta0))

	var chol mat.Cholesky
	if !chol.Factorize(g.psi) {
		return 0, probutils.ErrNotPSD
	}

	var sol mat.Dense
	if err := chol.SolveTo(&sol, g.psi0); err != nil {
		return 0, probutils.ErrNotPSD
	}
	tr := mat.Trace(&sol)

	klW := 0.5*(g.nu-g.nu0)*g.elogDetPrec() +
		0.5*g.nu*(tr-d) +
		0.5*d*math.Ln2*(g.nu0-g.nu) +
		0.5*g.nu*g.ldPsi - 0.5*g.nu0*g.ldPsi0 +
		lmvgamma(g.d, g.nu0/2) - lmvgamma(g.d, g.nu/2)

	return klN + klW, nil
}

// mean returns a copy of the posterior mean location.
func (g *gaussWish) mean() []float64 {
	return append([]float64(nil), g.m...)
}

// cov returns the posterior expected covariance psi/(nu-D-1). Below
// nu = D+2 that expectation is undefined, so the scatter is scaled by the
// degrees of freedom instead.
func (g *gaussWish) cov() *mat.SymDense {
	denom := g.nu - float64(g.d) - 1
	if denom <= 0 {
		denom = g.nu
	}

	var c mat.SymDense
	c.ScaleSym(1/denom, g.psi)

	return &c
}

// lmvgamma is the log multivariate gamma function of dimension d.
func lmvgamma(d int, a float64) float64 {
	args := mat.NewDense(1, d, nil)
	for i := 0; i < d; i++ {
		args.Set(0, i, a-float64(i)/2)
	}

	lg := probutils.MxLgamma(args)

	v := float64(d*(d-1)) / 4 * math.Log(math.Pi)
	for i := 0; i < d; i++ {
		v += lg.At(0, i)
	}

	return v
}

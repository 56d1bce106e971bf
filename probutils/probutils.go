// Package probutils provides stateless linear algebra and probability
// helpers for Gaussian mixture inference: column statistics, pooled
// statistics over groups of matrices, Mahalanobis distances, stable
// log-domain reductions and the c-separation overlap measure.
//
// Every function validates its arguments eagerly and returns no partial
// results on error. Nothing here holds state, so all functions are safe
// for concurrent use.
package probutils

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrDimensionMismatch = errors.New("Inconsistent dimensions between arguments")
	ErrDegenerateInput   = errors.New("Two or more observations are required")
	ErrNotSquare         = errors.New("Matrix is not square")
	ErrNotPSD            = errors.New("Matrix is not positive semi-definite")
)

const (
	powerIterations = 1000
	powerTolerance  = 1e-10
	// Smallest exponent fed to math.Exp when rebuilding probabilities
	// from log space. Anything below underflows to zero anyway.
	expFloor = -700
)

// Mean returns the column means of X.
func Mean(x mat.Matrix) []float64 {
	r, c := x.Dims()

	m := make([]float64, c)
	col := make([]float64, r)

	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		m[j] = stat.Mean(col, nil)
	}

	return m
}

// GroupMean returns the column means of all rows of all matrices in xs
// pooled together. All matrices must share a column count.
func GroupMean(xs []mat.Matrix) ([]float64, error) {
	if len(xs) == 0 {
		return nil, ErrDegenerateInput
	}

	_, d := xs[0].Dims()

	var (
		m = make([]float64, d)
		n int
	)

	for _, x := range xs {
		r, c := x.Dims()
		if c != d {
			return nil, ErrDimensionMismatch
		}

		for i := 0; i < r; i++ {
			for j := 0; j < d; j++ {
				m[j] += x.At(i, j)
			}
		}

		n += r
	}

	if n == 0 {
		return nil, ErrDegenerateInput
	}

	floats.Scale(1/float64(n), m)

	return m, nil
}

// Stdev returns the column sample standard deviations of X (N-1).
func Stdev(x mat.Matrix) []float64 {
	r, c := x.Dims()

	s := make([]float64, c)
	col := make([]float64, r)

	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		s[j] = stat.StdDev(col, nil)
	}

	return s
}

// Cov returns the DxD sample covariance of X (N-1 denominator).
func Cov(x mat.Matrix) (*mat.SymDense, error) {
	r, _ := x.Dims()
	if r <= 1 {
		return nil, ErrDegenerateInput
	}

	var s mat.SymDense
	stat.CovarianceMatrix(&s, x, nil)

	return &s, nil
}

// GroupCov returns the covariance of all rows of all matrices in xs around
// their pooled mean, with denominator (sum of rows) - 1.
func GroupCov(xs []mat.Matrix) (*mat.SymDense, error) {
	if len(xs) == 0 {
		return nil, ErrDegenerateInput
	}

	mu, err := GroupMean(xs)
	if err != nil {
		return nil, err
	}

	var (
		d = len(mu)
		s = mat.NewSymDense(d, nil)
		n int
	)

	for _, x := range xs {
		r, _ := x.Dims()
		if r <= 1 {
			return nil, ErrDegenerateInput
		}

		diff := mat.NewVecDense(d, nil)
		for i := 0; i < r; i++ {
			for j := 0; j < d; j++ {
				diff.SetVec(j, x.At(i, j)-mu[j])
			}
			s.SymRankOne(s, 1, diff)
		}

		n += r
	}

	s.ScaleSym(1/float64(n-1), s)

	return s, nil
}

// MahalDist returns, for every row x of X, the quadratic form
// (x-mu) A^-1 (x-mu)'. A must be a square PSD matrix of order len(mu).
func MahalDist(x mat.Matrix, mu []float64, a mat.Matrix) ([]float64, error) {
	n, d := x.Dims()

	ar, ac := a.Dims()
	if ar != ac {
		return nil, ErrNotSquare
	}

	if len(mu) != d || ar != d {
		return nil, ErrDimensionMismatch
	}

	var chol mat.Cholesky
	if !chol.Factorize(asSym(a)) {
		return nil, ErrNotPSD
	}

	var (
		dist   = make([]float64, n)
		diff   = mat.NewVecDense(d, nil)
		solved mat.VecDense
	)

	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			diff.SetVec(j, x.At(i, j)-mu[j])
		}

		if err := chol.SolveVecTo(&solved, diff); err != nil {
			return nil, ErrNotPSD
		}

		dist[i] = mat.Dot(diff, &solved)
	}

	return dist, nil
}

// LogSumExp performs log(sum(exp(X))) along the rows of X, subtracting
// each row's maximum before exponentiating so large magnitudes cannot
// overflow.
func LogSumExp(x mat.Matrix) []float64 {
	n, k := x.Dims()

	out := make([]float64, n)
	row := make([]float64, k)

	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		out[i] = floats.LogSumExp(row)
	}

	return out
}

// EigPower estimates the principal eigenvalue and eigenvector of a square
// matrix A by power iteration.
func EigPower(a mat.Matrix) (float64, []float64, error) {
	r, c := a.Dims()
	if r != c {
		return 0, nil, ErrNotSquare
	}

	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, 1/math.Sqrt(float64(r)))
	}

	var (
		w    mat.VecDense
		val  float64
		prev = math.Inf(1)
	)

	for i := 0; i < powerIterations; i++ {
		w.MulVec(a, v)

		nrm := floats.Norm(rawVec(&w), 2)
		if nrm == 0 {
			break
		}

		w.ScaleVec(1/nrm, &w)
		v.CopyVec(&w)

		w.MulVec(a, v)
		val = mat.Dot(v, &w)

		if math.Abs(val-prev) <= powerTolerance*math.Abs(val) {
			break
		}
		prev = val
	}

	out := make([]float64, r)
	copy(out, rawVec(v))

	return val, out, nil
}

// LogDet returns log(det(A)) of a PSD matrix through its Cholesky
// factorisation, avoiding the overflow of det() followed by log().
func LogDet(a mat.Matrix) (float64, error) {
	r, c := a.Dims()
	if r != c {
		return 0, ErrNotSquare
	}

	var chol mat.Cholesky
	if !chol.Factorize(asSym(a)) {
		return 0, ErrNotPSD
	}

	return chol.LogDet(), nil
}

// MxDigamma applies the digamma function to every element of X.
func MxDigamma(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, mathext.Digamma(x.At(i, j)))
		}
	}

	return out
}

// MxLgamma applies the log-gamma function to every element of X.
func MxLgamma(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v, _ := math.Lgamma(x.At(i, j))
			out.Set(i, j, v)
		}
	}

	return out
}

// CSeparation returns the squared c-separation between two Gaussians:
// the squared distance between their means divided by D times the larger
// of their maximal covariance eigenvalues. Zero when the means coincide.
func CSeparation(eigK, eigL float64, muK, muL []float64) (float64, error) {
	if len(muK) != len(muL) {
		return 0, ErrDimensionMismatch
	}

	d := floats.Distance(muK, muL, 2)
	if d == 0 {
		return 0, nil
	}

	return d * d / (float64(len(muK)) * math.Max(eigK, eigL)), nil
}

// Exp exponentiates a log-domain value, flooring very negative arguments
// to an exact zero so downstream sums stay NaN-free.
func Exp(logv float64) float64 {
	if logv < expFloor {
		return 0
	}
	return math.Exp(logv)
}

// asSym views a square matrix as symmetric, copying its upper triangle.
func asSym(a mat.Matrix) mat.Symmetric {
	if s, ok := a.(mat.Symmetric); ok {
		return s
	}

	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, a.At(i, j))
		}
	}

	return s
}

func rawVec(v *mat.VecDense) []float64 {
	return v.RawVector().Data
}

package probutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMeanMatchesClosedForm(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
	})

	m := Mean(x)

	require.Len(t, m, 2)
	assert.InDelta(t, 2, m[0], 1e-12)
	assert.InDelta(t, 20, m[1], 1e-12)
}

func TestGroupMeanPoolsAllRows(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 1, 3, 3})
	b := mat.NewDense(1, 2, []float64{5, 11})

	m, err := GroupMean([]mat.Matrix{a, b})

	require.NoError(t, err)
	assert.InDelta(t, 3, m[0], 1e-12)
	assert.InDelta(t, 5, m[1], 1e-12)
}

func TestGroupMeanDimensionMismatch(t *testing.T) {
	a := mat.NewDense(2, 2, nil)
	b := mat.NewDense(2, 3, nil)

	_, err := GroupMean([]mat.Matrix{a, b})

	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStdevUsesSampleDenominator(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{2, 4, 4, 6})

	s := Stdev(x)

	// variance 8/3 with N-1
	assert.InDelta(t, math.Sqrt(8.0/3.0), s[0], 1e-12)
}

func TestCovMatchesClosedForm(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		0, 0,
		1, 2,
		2, 4,
	})

	c, err := Cov(x)

	require.NoError(t, err)
	assert.InDelta(t, 1, c.At(0, 0), 1e-12)
	assert.InDelta(t, 2, c.At(0, 1), 1e-12)
	assert.InDelta(t, 4, c.At(1, 1), 1e-12)
}

func TestCovDegenerateInput(t *testing.T) {
	_, err := Cov(mat.NewDense(1, 2, []float64{1, 2}))

	require.ErrorIs(t, err, ErrDegenerateInput)
}

func TestGroupCovPoolsAroundCommonMean(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{0, 2})
	b := mat.NewDense(2, 1, []float64{4, 6})

	c, err := GroupCov([]mat.Matrix{a, b})

	require.NoError(t, err)
	// pooled mean 3, scatter 9+1+1+9 = 20, denominator 3
	assert.InDelta(t, 20.0/3.0, c.At(0, 0), 1e-12)
}

func TestGroupCovRejectsSingleRowGroup(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{0, 2})
	b := mat.NewDense(1, 1, []float64{4})

	_, err := GroupCov([]mat.Matrix{a, b})

	require.ErrorIs(t, err, ErrDegenerateInput)
}

func TestMahalDistZeroAtMean(t *testing.T) {
	mu := []float64{1, 2}
	x := mat.NewDense(3, 2, []float64{1, 2, 1, 2, 1, 2})
	a := mat.NewSymDense(2, []float64{2, 0, 0, 3})

	d, err := MahalDist(x, mu, a)

	require.NoError(t, err)
	for _, v := range d {
		assert.InDelta(t, 0, v, 1e-12)
	}
}

func TestMahalDistIdentityWeights(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{3, 4})
	a := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	d, err := MahalDist(x, []float64{0, 0}, a)

	require.NoError(t, err)
	assert.InDelta(t, 25, d[0], 1e-12)
}

func TestMahalDistErrors(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{0, 0})

	_, err := MahalDist(x, []float64{0}, mat.NewSymDense(2, nil))
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = MahalDist(x, []float64{0, 0}, mat.NewDense(2, 3, nil))
	require.ErrorIs(t, err, ErrNotSquare)

	// negative definite
	_, err = MahalDist(x, []float64{0, 0}, mat.NewSymDense(2, []float64{-1, 0, 0, -1}))
	require.ErrorIs(t, err, ErrNotPSD)
}

func TestLogSumExpLargeValues(t *testing.T) {
	x := mat.NewDense(1, 3, []float64{1000, 1000, 1000})

	l := LogSumExp(x)

	require.False(t, math.IsNaN(l[0]))
	require.False(t, math.IsInf(l[0], 0))
	assert.InDelta(t, 1000+math.Log(3), l[0], 1e-9)
}

func TestLogSumExpRowwise(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{
		math.Log(1), math.Log(3),
		math.Log(2), math.Log(2),
	})

	l := LogSumExp(x)

	assert.InDelta(t, math.Log(4), l[0], 1e-12)
	assert.InDelta(t, math.Log(4), l[1], 1e-12)
}

func TestEigPowerPrincipalPair(t *testing.T) {
	a := mat.NewSymDense(2, []float64{4, 0, 0, 1})

	val, vec, err := EigPower(a)

	require.NoError(t, err)
	assert.InDelta(t, 4, val, 1e-8)
	assert.InDelta(t, 1, math.Abs(vec[0]), 1e-6)
	assert.InDelta(t, 0, vec[1], 1e-6)
}

func TestEigPowerNotSquare(t *testing.T) {
	_, _, err := EigPower(mat.NewDense(2, 3, nil))

	require.ErrorIs(t, err, ErrNotSquare)
}

func TestLogDetStableForSmallDeterminants(t *testing.T) {
	// det would underflow float64 long before 400 factors of 1e-3
	n := 400
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, 1e-3)
	}

	ld, err := LogDet(a)

	require.NoError(t, err)
	assert.InDelta(t, float64(n)*math.Log(1e-3), ld, 1e-6)
}

func TestLogDetErrors(t *testing.T) {
	_, err := LogDet(mat.NewDense(2, 3, nil))
	require.ErrorIs(t, err, ErrNotSquare)

	_, err = LogDet(mat.NewSymDense(2, []float64{-1, 0, 0, 1}))
	require.ErrorIs(t, err, ErrNotPSD)
}

func TestMxDigammaAndLgamma(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{1, 0.5})

	dg := MxDigamma(x)
	lg := MxLgamma(x)

	// digamma(1) = -EulerGamma, digamma(1/2) = -EulerGamma - 2 ln 2
	const gamma = 0.5772156649015329
	assert.InDelta(t, -gamma, dg.At(0, 0), 1e-10)
	assert.InDelta(t, -gamma-2*math.Ln2, dg.At(0, 1), 1e-10)

	// lgamma(1) = 0, lgamma(1/2) = ln sqrt(pi)
	assert.InDelta(t, 0, lg.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5*math.Log(math.Pi), lg.At(0, 1), 1e-12)
}

func TestCSeparationSymmetricAndZero(t *testing.T) {
	muK := []float64{0, 0}
	muL := []float64{2, 0}

	a, err := CSeparation(3, 1, muK, muL)
	require.NoError(t, err)

	b, err := CSeparation(1, 3, muL, muK)
	require.NoError(t, err)

	assert.InDelta(t, a, b, 1e-12)
	assert.InDelta(t, 4.0/(2*3), a, 1e-12)

	z, err := CSeparation(3, 1, muK, muK)
	require.NoError(t, err)
	assert.Zero(t, z)
}

func TestCSeparationDimensionMismatch(t *testing.T) {
	_, err := CSeparation(1, 1, []float64{0}, []float64{0, 0})

	require.ErrorIs(t, err, ErrDimensionMismatch)
}

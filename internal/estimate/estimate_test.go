package estimate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dfasim/internal/dfa"
)

func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// buildScenario simulates the vignette scenario used across these tests.
func buildScenario(t *testing.T, noiseVar float64, effects []float64, seed int64) *dfa.FactorModel {
	t.Helper()
	model, err := dfa.Simulate(dfa.SimParams{
		Series:        15,
		Length:        30,
		Factors:       3,
		NoiseVariance: noiseVar,
		Effects:       effects,
	}, newRNG(seed))
	require.NoError(t, err)
	return model
}

func TestOLSCoefficients_RecoverExactEffectsWithoutNoise(t *testing.T) {
	// Y built purely from the covariates: OLS must recover the injected
	// coefficients to numerical precision.
	d := dfa.Covariates(30)
	n := 4
	truth := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		truth.Set(i, 0, 0.5)
		truth.Set(i, 1, -0.3)
	}
	var y mat.Dense
	y.Mul(truth, d)

	coef, err := OLSCoefficients(&y, d)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(coef, truth, 1e-9))
}

func TestOLSCoefficients_RecoverInjectedEffectUnderNoise(t *testing.T) {
	// statistical property: with factor structure plus modest noise the
	// estimated effects center on the injected 0.5. The latent random
	// walks act as correlated noise for any single scenario, so the
	// check averages the mean estimate across independent seeds.
	const runs = 20
	meanTrend, meanSeason := 0.0, 0.0
	for seed := int64(1); seed <= runs; seed++ {
		model := buildScenario(t, 0.04, []float64{0.5, 0.5}, seed)

		coef, err := OLSCoefficients(model.Observed, model.Covariates)
		require.NoError(t, err)

		n, _ := coef.Dims()
		for i := 0; i < n; i++ {
			meanTrend += coef.At(i, 0) / float64(n*runs)
			meanSeason += coef.At(i, 1) / float64(n*runs)
		}
	}

	assert.InDelta(t, 0.5, meanTrend, 0.2)
	assert.InDelta(t, 0.5, meanSeason, 0.2)
}

func TestOLSCoefficients_DimensionChecks(t *testing.T) {
	d := dfa.Covariates(30)
	y := mat.NewDense(3, 20, nil)
	_, err := OLSCoefficients(y, d)
	assert.Error(t, err)

	_, err = OLSCoefficients(nil, d)
	assert.Error(t, err)
}

func TestSequentialCoefficients_OrderMatters(t *testing.T) {
	// the centered ramp and the sinusoid are correlated over a finite
	// window, so sequential estimates depend on which enters first
	d := dfa.Covariates(30)
	truth := mat.NewDense(1, 2, []float64{0.5, 0.5})
	var y mat.Dense
	y.Mul(truth, d)

	first, err := SequentialCoefficients(&y, d, []int{0, 1})
	require.NoError(t, err)
	second, err := SequentialCoefficients(&y, d, []int{1, 0})
	require.NoError(t, err)
	joint, err := OLSCoefficients(&y, d)
	require.NoError(t, err)

	// joint OLS is order-invariant and exact in the noiseless case
	assert.InDelta(t, 0.5, joint.At(0, 0), 1e-9)
	assert.InDelta(t, 0.5, joint.At(0, 1), 1e-9)

	// sequential fits disagree with each other for the leading covariate
	diff := math.Abs(first.At(0, 0) - second.At(0, 0))
	assert.Greater(t, diff, 1e-6, "inclusion order should move the trend estimate")

	// whichever covariate enters first soaks up shared signal, so the
	// first-entered estimate differs from the joint value
	assert.Greater(t, math.Abs(first.At(0, 0)-joint.At(0, 0)), 1e-6)
}

func TestSequentialCoefficients_Validation(t *testing.T) {
	d := dfa.Covariates(20)
	y := mat.NewDense(2, 20, nil)

	_, err := SequentialCoefficients(y, d, nil)
	assert.Error(t, err)
	_, err = SequentialCoefficients(y, d, []int{2})
	assert.Error(t, err)
	_, err = SequentialCoefficients(y, d, []int{0, 0})
	assert.Error(t, err)
}

func TestPermutations(t *testing.T) {
	assert.Nil(t, Permutations(0))
	assert.Equal(t, [][]int{{0}}, Permutations(1))

	perms := Permutations(3)
	require.Len(t, perms, 6)
	seen := map[string]bool{}
	for _, p := range perms {
		require.Len(t, p, 3)
		key := ""
		for _, v := range p {
			key += string(rune('0' + v))
		}
		assert.False(t, seen[key], "duplicate order %v", p)
		seen[key] = true
	}
}

func TestSVDEstimator_RecoversFactorSubspaceWithoutNoise(t *testing.T) {
	model := buildScenario(t, 0, nil, 123)

	res, err := (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{
		Factors: 3,
		Noise:   dfa.NoiseDiagonalEqual,
	}, dfa.FitOptions{})
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Nil(t, res.Coefficients)

	// with zero observation noise three components reproduce the
	// row-centered observations almost exactly
	var common mat.Dense
	common.Mul(res.Loadings, res.Factors)
	n, cols := model.Observed.Dims()
	centered := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += model.Observed.At(i, j)
		}
		mean /= float64(cols)
		for j := 0; j < cols; j++ {
			centered.Set(i, j, model.Observed.At(i, j)-mean)
		}
	}
	assert.True(t, mat.EqualApprox(&common, centered, 1e-8))

	// residual variance is numerically zero
	assert.Less(t, res.NoiseCov.At(0, 0), 1e-10)
}

func TestSVDEstimator_CovariateCoefficients(t *testing.T) {
	model := buildScenario(t, 0.04, []float64{0.5, 0.5}, 123)

	res, err := (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{
		Factors:    3,
		Covariates: model.Covariates,
		Noise:      dfa.NoiseDiagonalUnequal,
	}, dfa.FitOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Coefficients)

	n, k := res.Coefficients.Dims()
	require.Equal(t, 15, n)
	require.Equal(t, 2, k)

	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			assert.False(t, math.IsNaN(res.Coefficients.At(i, c)))
		}
	}

	// diagonal-unequal covariance keeps off-diagonals at zero
	assert.Zero(t, res.NoiseCov.At(0, 1))

	fitted, err := res.Fitted()
	require.NoError(t, err)
	fr, fc := fitted.Dims()
	assert.Equal(t, 15, fr)
	assert.Equal(t, 30, fc)
}

func TestSVDEstimator_NoiseStructures(t *testing.T) {
	model := buildScenario(t, 0.2, nil, 7)

	for _, structure := range []dfa.NoiseStructure{
		dfa.NoiseDiagonalEqual,
		dfa.NoiseDiagonalUnequal,
		dfa.NoiseUnconstrained,
	} {
		res, err := (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{
			Factors: 3,
			Noise:   structure,
		}, dfa.FitOptions{})
		require.NoError(t, err, structure.String())
		require.NotNil(t, res.NoiseCov)

		assert.False(t, math.IsNaN(res.LogLik), structure.String())
		assert.False(t, math.IsInf(res.LogLik, 0), structure.String())

		if structure == dfa.NoiseDiagonalEqual {
			// one pooled variance across the diagonal
			assert.InDelta(t, res.NoiseCov.At(0, 0), res.NoiseCov.At(1, 1), 1e-12)
		}
	}
}

func TestSVDEstimator_MoreLikelyStructureScoresHigher(t *testing.T) {
	// per-series variances nest the pooled variance, so their
	// log-likelihood can only be at least as good
	model := buildScenario(t, 0.3, nil, 21)

	equal, err := (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{Factors: 2, Noise: dfa.NoiseDiagonalEqual}, dfa.FitOptions{})
	require.NoError(t, err)
	unequal, err := (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{Factors: 2, Noise: dfa.NoiseDiagonalUnequal}, dfa.FitOptions{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, unequal.LogLik, equal.LogLik-1e-9)
}

func TestSVDEstimator_Validation(t *testing.T) {
	model := buildScenario(t, 0.04, nil, 1)

	_, err := (&SVDEstimator{}).Fit(nil, dfa.ModelSpec{Factors: 1}, dfa.FitOptions{})
	assert.Error(t, err)

	_, err = (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{Factors: 0}, dfa.FitOptions{})
	assert.Error(t, err)

	_, err = (&SVDEstimator{}).Fit(model.Observed, dfa.ModelSpec{Factors: 100}, dfa.FitOptions{})
	assert.Error(t, err)
}

func TestCoefficientPValues_SignalVersusNull(t *testing.T) {
	d := dfa.Covariates(60)

	// strong clean signal on series 0, pure noise on series 1
	rng := newRNG(9)
	y := mat.NewDense(2, 60, nil)
	for j := 0; j < 60; j++ {
		y.Set(0, j, 2.0*d.At(0, j)+0.01*rng.NormFloat64())
		y.Set(1, j, rng.NormFloat64())
	}

	coef, err := OLSCoefficients(y, d)
	require.NoError(t, err)
	pvals, err := CoefficientPValues(y, d, coef)
	require.NoError(t, err)

	assert.Less(t, pvals.At(0, 0), 0.001, "clean trend effect should be significant")
	assert.Less(t, pvals.At(0, 0), pvals.At(1, 0), "signal should outrank pure noise")

	// p-values stay in [0,1]
	n, k := pvals.Dims()
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			assert.GreaterOrEqual(t, pvals.At(i, c), 0.0)
			assert.LessOrEqual(t, pvals.At(i, c), 1.0)
		}
	}
}

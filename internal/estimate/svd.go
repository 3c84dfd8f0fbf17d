package estimate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"dfasim/internal/dfa"
)

// varianceFloor keeps the Gaussian log-likelihood finite when a
// noiseless scenario leaves the residual numerically zero.
const varianceFloor = 1e-12

// SVDEstimator fits a factor model by principal components: covariate
// effects are removed by joint OLS, the leading factors are read off
// the SVD of the row-centered residual, and the observation-error
// covariance is estimated from what remains, shaped per the requested
// noise structure.
//
// It implements dfa.Estimator but is not the maximum-likelihood
// state-space fit; its estimates share the rotation ambiguity of any
// unconstrained factor extraction (see internal/rotate).
type SVDEstimator struct{}

var _ dfa.Estimator = (*SVDEstimator)(nil)

// Fit estimates loadings, factor scores, covariate coefficients and the
// error covariance for the observed matrix y (N x T). A failed
// factorization is reported as non-convergence; the caller should not
// retry with the same inputs.
func (e *SVDEstimator) Fit(y *mat.Dense, spec dfa.ModelSpec, opts dfa.FitOptions) (*dfa.FitResult, error) {
	if y == nil {
		return nil, fmt.Errorf("observed matrix not provided")
	}
	n, t := y.Dims()
	m := spec.Factors
	if m < 1 {
		return nil, fmt.Errorf("factor count must be >= 1, got %d", m)
	}
	if m > n || m > t {
		return nil, fmt.Errorf("cannot extract %d factors from a %dx%d matrix", m, n, t)
	}

	// 1. Remove covariate effects
	var coef *mat.Dense
	resid := mat.DenseCopyOf(y)
	if spec.Covariates != nil {
		var err error
		coef, err = OLSCoefficients(y, spec.Covariates)
		if err != nil {
			return nil, err
		}
		var eff mat.Dense
		eff.Mul(coef, spec.Covariates)
		resid.Sub(resid, &eff)
	}

	// 2. Row-center before extraction; the factor part carries no mean
	for i := 0; i < n; i++ {
		row := resid.RawRowView(i)
		mean := stat.Mean(row, nil)
		for j := 0; j < t; j++ {
			resid.Set(i, j, resid.At(i, j)-mean)
		}
	}

	// 3. Leading principal components of the centered residual
	var svd mat.SVD
	if ok := svd.Factorize(resid, mat.SVDThin); !ok {
		return nil, fmt.Errorf("estimation did not converge: SVD factorization failed for %dx%d matrix", n, t)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	if len(s) < m {
		return nil, fmt.Errorf("matrix supports %d components, %d requested", len(s), m)
	}

	// scale so factor rows come out near unit sample variance
	scale := 1.0
	if t > 1 {
		scale = math.Sqrt(float64(t - 1))
	}

	loadings := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			loadings.Set(i, j, u.At(i, j)*s[j]/scale)
		}
	}
	factors := mat.NewDense(m, t, nil)
	for j := 0; j < m; j++ {
		for c := 0; c < t; c++ {
			factors.Set(j, c, v.At(c, j)*scale)
		}
	}

	// 4. Error covariance from what the factors leave behind
	var common mat.Dense
	common.Mul(loadings, factors)
	var errs mat.Dense
	errs.Sub(resid, &common)

	noiseCov, err := noiseCovariance(&errs, spec.Noise)
	if err != nil {
		return nil, err
	}

	return &dfa.FitResult{
		Spec:         spec,
		Loadings:     loadings,
		Factors:      factors,
		Coefficients: coef,
		NoiseCov:     noiseCov,
		LogLik:       gaussianLogLik(&errs, noiseCov),
		Converged:    true,
		Iterations:   1,
	}, nil
}

// noiseCovariance shapes the residual second moments per the requested
// structure.
func noiseCovariance(errs *mat.Dense, structure dfa.NoiseStructure) (*mat.SymDense, error) {
	n, t := errs.Dims()
	cov := mat.NewSymDense(n, nil)

	switch structure {
	case dfa.NoiseDiagonalEqual:
		pooled := 0.0
		for i := 0; i < n; i++ {
			for j := 0; j < t; j++ {
				e := errs.At(i, j)
				pooled += e * e
			}
		}
		pooled /= float64(n * t)
		for i := 0; i < n; i++ {
			cov.SetSym(i, i, pooled)
		}
	case dfa.NoiseDiagonalUnequal:
		for i := 0; i < n; i++ {
			ss := 0.0
			for j := 0; j < t; j++ {
				e := errs.At(i, j)
				ss += e * e
			}
			cov.SetSym(i, i, ss/float64(t))
		}
	case dfa.NoiseUnconstrained:
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				s := 0.0
				for c := 0; c < t; c++ {
					s += errs.At(i, c) * errs.At(j, c)
				}
				cov.SetSym(i, j, s/float64(t))
			}
		}
	default:
		return nil, fmt.Errorf("unknown noise structure %v", structure)
	}

	return cov, nil
}

// gaussianLogLik evaluates the log density of the residuals under a
// zero-mean normal with the given covariance. Full covariances go
// through Cholesky; if that fails (or the structure is diagonal) the
// diagonal is used, floored to keep the result finite.
func gaussianLogLik(errs *mat.Dense, cov *mat.SymDense) float64 {
	n, t := errs.Dims()

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		ll := -0.5 * float64(n*t) * math.Log(2*math.Pi)
		ll -= 0.5 * float64(t) * chol.LogDet()
		tmp := mat.NewVecDense(n, nil)
		col := mat.NewVecDense(n, nil)
		for j := 0; j < t; j++ {
			for i := 0; i < n; i++ {
				col.SetVec(i, errs.At(i, j))
			}
			if err := chol.SolveVecTo(tmp, col); err != nil {
				return diagonalLogLik(errs, cov)
			}
			ll -= 0.5 * mat.Dot(col, tmp)
		}
		return ll
	}

	return diagonalLogLik(errs, cov)
}

func diagonalLogLik(errs *mat.Dense, cov *mat.SymDense) float64 {
	n, t := errs.Dims()
	ll := 0.0
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v < varianceFloor {
			v = varianceFloor
		}
		ll -= 0.5 * float64(t) * math.Log(2*math.Pi*v)
		for j := 0; j < t; j++ {
			e := errs.At(i, j)
			ll -= e * e / (2 * v)
		}
	}
	return ll
}

// Package estimate provides the reference collaborator behind the
// dfa.Estimator boundary: covariate effects by multivariate OLS and
// factor extraction by SVD. It is deliberately not a maximum-likelihood
// state-space fit; callers with one plug it in behind the same
// interface.
package estimate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// svdRankTol is the singular-value cutoff for the least-squares fallback.
const svdRankTol = 1e-12

// OLSCoefficients regresses each observed series on the covariate
// design jointly: y is N x T, d is K x T, and the result is the N x K
// coefficient matrix minimizing ||Y - B*D||.
//
// Normal equations are tried first; if D*D' is singular the solution
// falls back to SVD-based minimum-norm least squares.
func OLSCoefficients(y, d *mat.Dense) (*mat.Dense, error) {
	if y == nil || d == nil {
		return nil, fmt.Errorf("observed matrix and covariate design must be provided")
	}
	n, t := y.Dims()
	k, td := d.Dims()
	if td != t {
		return nil, fmt.Errorf("covariate design has %d steps but observations have %d", td, t)
	}
	if t < k {
		return nil, fmt.Errorf("need at least %d time steps to fit %d covariates, got %d", k, k, t)
	}

	// regression layout: X = D' (T x K), response Y' (T x N)
	x := d.T()
	yt := y.T()

	var b mat.Dense // K x N

	var xtx mat.Dense
	xtx.Mul(d, x)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err == nil {
		var xty mat.Dense
		xty.Mul(d, yt)
		b.Mul(&xtxInv, &xty)
	} else {
		// D*D' singular or badly conditioned: minimum-norm least squares
		var svd mat.SVD
		if ok := svd.Factorize(x, mat.SVDFullU|mat.SVDFullV); !ok {
			return nil, fmt.Errorf("OLS failed: normal equations singular and SVD factorization failed: %v", err)
		}
		rank := svd.Rank(svdRankTol)
		if rank == 0 {
			b.ReuseAs(k, n)
		} else {
			svd.SolveTo(&b, yt, rank)
		}
	}

	coef := mat.NewDense(n, k, nil)
	coef.Copy(b.T())
	return coef, nil
}

// CoefficientPValues computes two-sided z-test p-values for the joint
// OLS coefficients. The standard errors use each series' residual
// variance and the design's (D*D')^-1 diagonal; the result has the same
// N x K shape as coef. Diagnostic output only.
func CoefficientPValues(y, d, coef *mat.Dense) (*mat.Dense, error) {
	if y == nil || d == nil || coef == nil {
		return nil, fmt.Errorf("observations, design and coefficients must be provided")
	}
	n, t := y.Dims()
	k, td := d.Dims()
	if td != t {
		return nil, fmt.Errorf("covariate design has %d steps but observations have %d", td, t)
	}
	if cn, ck := coef.Dims(); cn != n || ck != k {
		return nil, fmt.Errorf("coefficients are %dx%d, want %dx%d", cn, ck, n, k)
	}
	df := t - k
	if df < 1 {
		return nil, fmt.Errorf("insufficient degrees of freedom: T=%d, K=%d", t, k)
	}

	var xtx mat.Dense
	xtx.Mul(d, d.T())
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("design matrix is singular: %v", err)
	}

	var fitted mat.Dense
	fitted.Mul(coef, d)

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	p := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		rss := 0.0
		for j := 0; j < t; j++ {
			e := y.At(i, j) - fitted.At(i, j)
			rss += e * e
		}
		sigma2 := rss / float64(df)
		for c := 0; c < k; c++ {
			se := sigma2 * xtxInv.At(c, c)
			if se <= 0 {
				p.Set(i, c, 1)
				continue
			}
			z := math.Abs(coef.At(i, c)) / math.Sqrt(se)
			pv := 2 * (1 - norm.CDF(z))
			if pv < 0 {
				pv = 0
			}
			if pv > 1 {
				pv = 1
			}
			p.Set(i, c, pv)
		}
	}
	return p, nil
}

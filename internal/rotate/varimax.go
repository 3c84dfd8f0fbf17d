// Package rotate holds factor-rotation post-processing. Rotation is an
// optional step applied to an estimator's output; nothing in the
// simulation or fitting pipeline calls it implicitly.
package rotate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	defaultMaxIter = 100
	defaultTol     = 1e-8
)

// Options tunes the varimax iteration.
type Options struct {
	// Iteration cap; 0 means 100
	MaxIter int
	// Relative improvement threshold; 0 means 1e-8
	Tol float64
}

// Varimax computes the orthogonal rotation maximizing the variance of
// squared loadings (Kaiser's criterion) and returns the rotated
// loadings together with the M x M rotation matrix R, so that
// rotated = z * R.
func Varimax(z *mat.Dense, opts Options) (*mat.Dense, *mat.Dense, error) {
	if z == nil {
		return nil, nil, fmt.Errorf("loadings matrix not provided")
	}
	n, m := z.Dims()
	if m < 1 {
		return nil, nil, fmt.Errorf("loadings must have at least one column")
	}

	r := identity(m)
	if m == 1 {
		// a single factor has nothing to rotate against
		return mat.DenseCopyOf(z), r, nil
	}

	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	tol := opts.Tol
	if tol <= 0 {
		tol = defaultTol
	}

	var lambda, b mat.Dense
	cubed := mat.NewDense(n, m, nil)
	prev := 0.0

	for iter := 0; iter < maxIter; iter++ {
		lambda.Mul(z, r)

		// cubed_ij = lambda_ij^3 - lambda_ij * mean_i(lambda_ij^2)
		for j := 0; j < m; j++ {
			colSq := 0.0
			for i := 0; i < n; i++ {
				v := lambda.At(i, j)
				colSq += v * v
			}
			colSq /= float64(n)
			for i := 0; i < n; i++ {
				v := lambda.At(i, j)
				cubed.Set(i, j, v*v*v-v*colSq)
			}
		}

		b.Mul(z.T(), cubed)

		var svd mat.SVD
		if ok := svd.Factorize(&b, mat.SVDFull); !ok {
			return nil, nil, fmt.Errorf("varimax SVD failed at iteration %d", iter)
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		r.Mul(&u, v.T())

		crit := 0.0
		for _, s := range svd.Values(nil) {
			crit += s
		}
		if iter > 0 && crit <= prev*(1+tol) {
			break
		}
		prev = crit
	}

	var rotated mat.Dense
	rotated.Mul(z, r)
	return &rotated, r, nil
}

// ApplyRotation rotates loadings and factors jointly: the loadings pick
// up R and the factors its transpose, so the common component Z*X is
// unchanged (R is orthogonal, so R^-1 = R').
func ApplyRotation(z, x, r *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	if z == nil || x == nil || r == nil {
		return nil, nil, fmt.Errorf("loadings, factors and rotation must be provided")
	}
	_, m := z.Dims()
	mx, _ := x.Dims()
	rr, rc := r.Dims()
	if rr != m || rc != m || mx != m {
		return nil, nil, fmt.Errorf("rotation is %dx%d for %d-column loadings and %d-row factors", rr, rc, m, mx)
	}

	var zr, xr mat.Dense
	zr.Mul(z, r)
	xr.Mul(r.T(), x)
	return &zr, &xr, nil
}

func identity(m int) *mat.Dense {
	id := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		id.Set(i, i, 1)
	}
	return id
}

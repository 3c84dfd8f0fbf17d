package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SequentialCoefficients estimates covariate effects one covariate at a
// time in the given order: each covariate is regressed against the
// current residual and its fitted contribution removed before the next
// one enters. When covariates are correlated the order changes the
// estimates — this is the quantity the order-of-inclusion experiment
// compares against the joint OLS fit, which is order-invariant.
//
// y is N x T, d is K x T, order lists distinct row indices of d. The
// result is N x K with zeros for covariates not in the order.
func SequentialCoefficients(y, d *mat.Dense, order []int) (*mat.Dense, error) {
	if y == nil || d == nil {
		return nil, fmt.Errorf("observed matrix and covariate design must be provided")
	}
	n, t := y.Dims()
	k, td := d.Dims()
	if td != t {
		return nil, fmt.Errorf("covariate design has %d steps but observations have %d", td, t)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("inclusion order must name at least one covariate")
	}
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= k {
			return nil, fmt.Errorf("covariate index %d out of range [0,%d)", idx, k)
		}
		if seen[idx] {
			return nil, fmt.Errorf("covariate index %d listed twice", idx)
		}
		seen[idx] = true
	}

	resid := mat.DenseCopyOf(y)
	coef := mat.NewDense(n, k, nil)

	for _, idx := range order {
		ss := 0.0
		for j := 0; j < t; j++ {
			v := d.At(idx, j)
			ss += v * v
		}
		if ss == 0 {
			return nil, fmt.Errorf("covariate %d is identically zero", idx)
		}

		for i := 0; i < n; i++ {
			num := 0.0
			for j := 0; j < t; j++ {
				num += d.At(idx, j) * resid.At(i, j)
			}
			beta := num / ss
			coef.Set(i, idx, beta)
			for j := 0; j < t; j++ {
				resid.Set(i, j, resid.At(i, j)-beta*d.At(idx, j))
			}
		}
	}

	return coef, nil
}

// Permutations enumerates every inclusion order of k covariates.
// Intended for the small covariate counts this experiment uses.
func Permutations(k int) [][]int {
	if k <= 0 {
		return nil
	}
	base := make([]int, k)
	for i := range base {
		base[i] = i
	}
	var out [][]int
	var recurse func(prefix, rest []int)
	recurse = func(prefix, rest []int) {
		if len(rest) == 0 {
			out = append(out, append([]int(nil), prefix...))
			return
		}
		for i := range rest {
			next := make([]int, 0, len(rest)-1)
			next = append(next, rest[:i]...)
			next = append(next, rest[i+1:]...)
			withI := append(append([]int(nil), prefix...), rest[i])
			recurse(withI, next)
		}
	}
	recurse(nil, base)
	return out
}

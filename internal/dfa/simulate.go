package dfa

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Variance of the first innovation of each factor walk, inflated so the
// walks start spread out instead of clustered at zero.
const firstInnovationVariance = 5.0

// Loadings entries are rounded to this many decimals.
const loadingsPrecision = 2

// SimulateFactors generates m independent Gaussian random walks of
// length t: each row is the cumulative sum of N(0,1) innovations, with
// the first innovation drawn at variance 5, then standardized to mean 0
// and unit sample standard deviation.
func SimulateFactors(m, t int, rng *rand.Rand) (*mat.Dense, error) {
	if m < 1 {
		return nil, fmt.Errorf("factor count must be >= 1, got %d", m)
	}
	if t < 1 {
		return nil, fmt.Errorf("series length must be >= 1, got %d", t)
	}

	x := mat.NewDense(m, t, nil)
	firstSD := math.Sqrt(firstInnovationVariance)

	for i := 0; i < m; i++ {
		// cumulative sum of innovations
		sum := rng.NormFloat64() * firstSD
		x.Set(i, 0, sum)
		for j := 1; j < t; j++ {
			sum += rng.NormFloat64()
			x.Set(i, j, sum)
		}

		row := x.RawRowView(i)
		mean := stat.Mean(row, nil)
		sd := stat.StdDev(row, nil)
		if sd == 0 || math.IsNaN(sd) {
			// t == 1, or a degenerate walk: center only
			sd = 1
		}
		for j := 0; j < t; j++ {
			x.Set(i, j, (x.At(i, j)-mean)/sd)
		}
	}

	return x, nil
}

// BuildLoadings constructs an n x m loadings matrix in the canonical
// identified form: strictly upper entries zero, diagonal entries
// Uniform(0,1) draws sorted descending, remaining lower entries
// Uniform(-1,1). Entries are rounded to two decimals.
//
// The constraint pins down one representative of the rotation family:
// any nonsingular m x m transform of loadings and factors yields the
// same observed distribution, so without it the factorization is not
// unique.
func BuildLoadings(n, m int, rng *rand.Rand) (*mat.Dense, error) {
	if m < 1 {
		return nil, fmt.Errorf("factor count must be >= 1, got %d", m)
	}
	if n < m {
		return nil, fmt.Errorf("need at least as many series as factors: N=%d, M=%d", n, m)
	}

	diag := make([]float64, m)
	for j := range diag {
		diag[j] = rng.Float64()
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(diag)))

	z := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			switch {
			case i == j:
				z.Set(i, j, roundTo(diag[j], loadingsPrecision))
			case j > i:
				// strictly upper stays zero
			default:
				z.Set(i, j, roundTo(rng.Float64()*2-1, loadingsPrecision))
			}
		}
	}

	return z, nil
}

// Covariates builds the deterministic 2 x t covariate design: row 0 is
// a centered linear ramp (index/10 minus its mean), row 1 a sinusoid
// completing exactly one cycle over t. The time index runs 1..t.
func Covariates(t int) *mat.Dense {
	d := mat.NewDense(2, t, nil)

	ramp := make([]float64, t)
	for j := 0; j < t; j++ {
		ramp[j] = float64(j+1) / 10
	}
	mean := stat.Mean(ramp, nil)
	for j := 0; j < t; j++ {
		d.Set(0, j, ramp[j]-mean)
		d.Set(1, j, math.Sin(2*math.Pi*float64(j+1)/float64(t)))
	}

	return d
}

// Synthesize combines loadings, factors, optional covariate effects and
// IID Gaussian noise into the observed matrix:
//
//	Y = Z*X [+ B*D] + noise,  noise ~ N(0, noiseVar) per cell.
//
// effects (N x K) and d (K x T) must be both nil or both present. With
// noiseVar = 0 and no effects the result is exactly Z*X. When demean is
// set each observed row is centered afterward.
func Synthesize(z, x, effects, d *mat.Dense, noiseVar float64, demean bool, rng *rand.Rand) (*mat.Dense, error) {
	if z == nil || x == nil {
		return nil, fmt.Errorf("loadings and factors must be provided")
	}
	n, m := z.Dims()
	mx, t := x.Dims()
	if m != mx {
		return nil, fmt.Errorf("loadings are %dx%d but factors are %dx%d", n, m, mx, t)
	}
	if (effects == nil) != (d == nil) {
		return nil, fmt.Errorf("covariate effects and design must be provided together")
	}
	if noiseVar < 0 {
		return nil, fmt.Errorf("noise variance must be >= 0, got %g", noiseVar)
	}

	var y mat.Dense
	y.Mul(z, x)

	if effects != nil {
		ne, k := effects.Dims()
		kd, td := d.Dims()
		if ne != n {
			return nil, fmt.Errorf("effect matrix has %d rows, want %d", ne, n)
		}
		if k != kd || td != t {
			return nil, fmt.Errorf("covariate design is %dx%d, want %dx%d", kd, td, k, t)
		}
		var eff mat.Dense
		eff.Mul(effects, d)
		y.Add(&y, &eff)
	}

	if noiseVar > 0 {
		sd := math.Sqrt(noiseVar)
		for i := 0; i < n; i++ {
			for j := 0; j < t; j++ {
				y.Set(i, j, y.At(i, j)+rng.NormFloat64()*sd)
			}
		}
	}

	if demean {
		for i := 0; i < n; i++ {
			mean := stat.Mean(y.RawRowView(i), nil)
			for j := 0; j < t; j++ {
				y.Set(i, j, y.At(i, j)-mean)
			}
		}
	}

	return &y, nil
}

// Simulate runs the full generation pipeline for one scenario: factors,
// loadings, covariates, then the observed matrix. The returned model is
// deterministic given the rng state.
func Simulate(p SimParams, rng *rand.Rand) (*FactorModel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	x, err := SimulateFactors(p.Factors, p.Length, rng)
	if err != nil {
		return nil, err
	}
	z, err := BuildLoadings(p.Series, p.Factors, rng)
	if err != nil {
		return nil, err
	}
	d := Covariates(p.Length)

	// constant effect per covariate across all series
	var b *mat.Dense
	if len(p.Effects) > 0 {
		k, _ := d.Dims()
		if len(p.Effects) != k {
			return nil, fmt.Errorf("got %d effect sizes for %d covariates", len(p.Effects), k)
		}
		b = mat.NewDense(p.Series, k, nil)
		for i := 0; i < p.Series; i++ {
			for j := 0; j < k; j++ {
				b.Set(i, j, p.Effects[j])
			}
		}
	}

	var dUsed *mat.Dense
	if b != nil {
		dUsed = d
	}
	y, err := Synthesize(z, x, b, dUsed, p.NoiseVariance, p.Demean, rng)
	if err != nil {
		return nil, err
	}

	return &FactorModel{
		Params:     p,
		Factors:    x,
		Loadings:   z,
		Covariates: d,
		Effects:    b,
		Observed:   y,
	}, nil
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

package dfa

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NoiseStructure selects the shape of the observation-error covariance
// the estimator is asked to fit.
type NoiseStructure int

// Recognized observation-error structures.
const (
	// NoiseDiagonalEqual is a diagonal covariance with one shared variance.
	NoiseDiagonalEqual NoiseStructure = iota
	// NoiseDiagonalUnequal is a diagonal covariance with one variance per series.
	NoiseDiagonalUnequal
	// NoiseUnconstrained is a full symmetric covariance.
	NoiseUnconstrained
)

// String returns the tag used in config files and reports.
func (s NoiseStructure) String() string {
	switch s {
	case NoiseDiagonalEqual:
		return "diagonal-equal"
	case NoiseDiagonalUnequal:
		return "diagonal-unequal"
	case NoiseUnconstrained:
		return "unconstrained"
	default:
		return fmt.Sprintf("NoiseStructure(%d)", int(s))
	}
}

// ParseNoiseStructure maps a config tag back to its NoiseStructure.
func ParseNoiseStructure(tag string) (NoiseStructure, error) {
	switch tag {
	case "diagonal-equal":
		return NoiseDiagonalEqual, nil
	case "diagonal-unequal":
		return NoiseDiagonalUnequal, nil
	case "unconstrained":
		return NoiseUnconstrained, nil
	default:
		return 0, fmt.Errorf("unknown noise structure %q (options: diagonal-equal, diagonal-unequal, unconstrained)", tag)
	}
}

// ModelSpec describes the factor model an estimator should fit.
type ModelSpec struct {
	// Number of latent factors to extract
	Factors int
	// Optional covariate design (K x T); nil means no covariates
	Covariates *mat.Dense
	// Shape of the observation-error covariance
	Noise NoiseStructure
}

// FitOptions carries estimator tuning knobs.
type FitOptions struct {
	// Iteration cap for iterative estimators; 0 means the estimator default
	MaxIter int
	// Convergence tolerance; 0 means the estimator default
	Tol float64
}

// FitResult holds the point estimates and diagnostics returned by an
// estimator. Dimensions follow the observed matrix: N series, T steps,
// M factors, K covariates.
type FitResult struct {
	Spec ModelSpec

	// Estimated loadings (N x M)
	Loadings *mat.Dense
	// Estimated factor scores (M x T)
	Factors *mat.Dense
	// Estimated covariate coefficients (N x K); nil when the spec has no covariates
	Coefficients *mat.Dense
	// Estimated observation-error covariance (N x N), shaped per Spec.Noise
	NoiseCov *mat.SymDense

	// Gaussian log-likelihood of the fitted model
	LogLik float64
	// Whether the estimator reached its stopping criterion
	Converged bool
	// Iterations consumed (1 for closed-form estimators)
	Iterations int
}

// Fitted returns the model-implied observation matrix
// Loadings*Factors (+ Coefficients*Covariates when present).
func (r *FitResult) Fitted() (*mat.Dense, error) {
	if r == nil || r.Loadings == nil || r.Factors == nil {
		return nil, fmt.Errorf("fit result incomplete: missing loadings or factors")
	}
	var yhat mat.Dense
	yhat.Mul(r.Loadings, r.Factors)
	if r.Coefficients != nil && r.Spec.Covariates != nil {
		var eff mat.Dense
		eff.Mul(r.Coefficients, r.Spec.Covariates)
		yhat.Add(&yhat, &eff)
	}
	return &yhat, nil
}

// Estimator is the boundary to the state-space fitting collaborator.
// Implementations take the observed matrix plus a model spec and return
// point estimates with diagnostics; failure to converge is an error.
type Estimator interface {
	Fit(y *mat.Dense, spec ModelSpec, opts FitOptions) (*FitResult, error)
}

// SimParams are the knobs for one simulated scenario.
type SimParams struct {
	// Observed series count N
	Series int
	// Time steps T
	Length int
	// Latent factor count M
	Factors int
	// Per-cell observation noise variance
	NoiseVariance float64
	// Covariate effect sizes, one per covariate row; empty means no
	// covariate effects enter the observations
	Effects []float64
	// Subtract each observed row's mean after adding noise
	Demean bool
}

// Validate rejects scenarios the pipeline cannot simulate.
func (p SimParams) Validate() error {
	if p.Factors < 1 {
		return fmt.Errorf("factor count must be >= 1, got %d", p.Factors)
	}
	if p.Series < p.Factors {
		return fmt.Errorf("need at least as many series as factors: N=%d, M=%d", p.Series, p.Factors)
	}
	if p.Length < 1 {
		return fmt.Errorf("series length must be >= 1, got %d", p.Length)
	}
	if p.NoiseVariance < 0 {
		return fmt.Errorf("noise variance must be >= 0, got %g", p.NoiseVariance)
	}
	return nil
}

// FactorModel is one simulated scenario: the latent truth and the
// observations it generated. All matrices are built once and treated as
// immutable afterwards.
type FactorModel struct {
	Params SimParams

	// Latent factors X (M x T), standardized per row
	Factors *mat.Dense
	// Loadings Z (N x M), lower triangular with sorted diagonal
	Loadings *mat.Dense
	// Covariates D (K x T): centered ramp, one sinusoid cycle
	Covariates *mat.Dense
	// Effect matrix B (N x K); nil when Params.Effects is empty
	Effects *mat.Dense
	// Observed Y (N x T) = Z*X (+ B*D) + noise
	Observed *mat.Dense
}

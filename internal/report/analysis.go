// Package report turns finished matrices into comparisons, terminal
// plots and CSV artifacts. No data flows back into the pipeline.
package report

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	gstat "gonum.org/v1/gonum/stat"
)

// CorrelationMatrix computes the N x N correlation matrix across the
// rows (series) of y.
func CorrelationMatrix(y *mat.Dense) (*mat.SymDense, error) {
	if y == nil {
		return nil, fmt.Errorf("matrix not provided")
	}
	n, t := y.Dims()
	if t < 2 {
		return nil, fmt.Errorf("need at least 2 time steps for correlations, got %d", t)
	}
	corr := mat.NewSymDense(n, nil)
	// stat.CorrelationMatrix wants samples in rows, variables in columns
	gstat.CorrelationMatrix(corr, y.T(), nil)
	return corr, nil
}

// FactorMatch pairs one true factor with the estimated factor that
// tracks it best. Correlation keeps its sign; a strongly negative value
// means the estimate recovered the factor flipped.
type FactorMatch struct {
	True        int
	Estimated   int
	Correlation float64
}

// MatchFactors pairs estimated factors with true ones by greedy
// maximum absolute correlation: the globally best pair is fixed first,
// then the best among the remainder, and so on. Both matrices are
// M x T with factors in rows. Results come back ordered by true index.
func MatchFactors(estimated, truth *mat.Dense) ([]FactorMatch, error) {
	if estimated == nil || truth == nil {
		return nil, fmt.Errorf("estimated and true factor matrices must be provided")
	}
	me, te := estimated.Dims()
	mt, tt := truth.Dims()
	if me != mt || te != tt {
		return nil, fmt.Errorf("estimated factors are %dx%d but truth is %dx%d", me, te, mt, tt)
	}
	if te < 2 {
		return nil, fmt.Errorf("need at least 2 time steps to correlate factors, got %d", te)
	}

	m := mt
	corr := make([][]float64, m)
	for i := 0; i < m; i++ {
		corr[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			corr[i][j] = gstat.Correlation(mat.Row(nil, i, truth), mat.Row(nil, j, estimated), nil)
		}
	}

	usedTrue := make([]bool, m)
	usedEst := make([]bool, m)
	matches := make([]FactorMatch, 0, m)

	for len(matches) < m {
		best, bestI, bestJ := -1.0, -1, -1
		for i := 0; i < m; i++ {
			if usedTrue[i] {
				continue
			}
			for j := 0; j < m; j++ {
				if usedEst[j] {
					continue
				}
				if a := math.Abs(corr[i][j]); a > best || bestI < 0 {
					best, bestI, bestJ = a, i, j
				}
			}
		}
		usedTrue[bestI] = true
		usedEst[bestJ] = true
		matches = append(matches, FactorMatch{True: bestI, Estimated: bestJ, Correlation: corr[bestI][bestJ]})
	}

	// order by true factor index for stable reporting
	for i := range matches {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].True < matches[i].True {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	return matches, nil
}

// SeriesFit summarizes how well one observed series is reproduced.
type SeriesFit struct {
	Series    int
	RMSE      float64
	R2        float64
	ResidMean float64
	ResidSD   float64
}

// FitSummary aggregates per-series fit quality plus overall RMSE/R2.
type FitSummary struct {
	Series []SeriesFit
	RMSE   float64
	R2     float64
}

// Summarize compares fitted against observed values series by series.
func Summarize(observed, fitted *mat.Dense) (*FitSummary, error) {
	if observed == nil || fitted == nil {
		return nil, fmt.Errorf("observed and fitted matrices must be provided")
	}
	n, t := observed.Dims()
	fn, ft := fitted.Dims()
	if fn != n || ft != t {
		return nil, fmt.Errorf("fitted matrix is %dx%d, want %dx%d", fn, ft, n, t)
	}

	out := &FitSummary{Series: make([]SeriesFit, n)}
	totalSSE, totalSST := 0.0, 0.0

	for i := 0; i < n; i++ {
		obs := mat.Row(nil, i, observed)
		obsMean, err := stats.Mean(obs)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i, err)
		}

		resid := make([]float64, t)
		sse, sst := 0.0, 0.0
		for j := 0; j < t; j++ {
			resid[j] = observed.At(i, j) - fitted.At(i, j)
			sse += resid[j] * resid[j]
			dev := obs[j] - obsMean
			sst += dev * dev
		}
		totalSSE += sse
		totalSST += sst

		rMean, _ := stats.Mean(resid)
		rSD, _ := stats.StandardDeviation(resid)
		out.Series[i] = SeriesFit{
			Series:    i,
			RMSE:      math.Sqrt(sse / float64(t)),
			R2:        rSquared(sse, sst),
			ResidMean: rMean,
			ResidSD:   rSD,
		}
	}

	out.RMSE = math.Sqrt(totalSSE / float64(n*t))
	out.R2 = rSquared(totalSSE, totalSST)
	return out, nil
}

// OrderResult records the estimated effect sizes under one covariate
// inclusion order. Mean holds the coefficient averaged across series,
// one entry per covariate.
type OrderResult struct {
	Label string
	Order []int
	Coef  *mat.Dense
	Mean  []float64
}

// NewOrderResult averages the per-series coefficients for reporting.
func NewOrderResult(label string, order []int, coef *mat.Dense) OrderResult {
	n, k := coef.Dims()
	mean := make([]float64, k)
	for c := 0; c < k; c++ {
		s := 0.0
		for i := 0; i < n; i++ {
			s += coef.At(i, c)
		}
		mean[c] = s / float64(n)
	}
	return OrderResult{Label: label, Order: order, Coef: coef, Mean: mean}
}

func rSquared(sse, sst float64) float64 {
	if sst == 0 {
		return 0
	}
	return 1 - sse/sst
}

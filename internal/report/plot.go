package report

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/mat"
)

const (
	plotHeight = 10
	plotWidth  = 72
)

// PlotRow renders one row of a matrix as a terminal time-series plot.
func PlotRow(m *mat.Dense, row int, caption string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("matrix not provided")
	}
	r, _ := m.Dims()
	if row < 0 || row >= r {
		return "", fmt.Errorf("row %d out of range [0,%d)", row, r)
	}
	return asciigraph.Plot(mat.Row(nil, row, m),
		asciigraph.Height(plotHeight),
		asciigraph.Width(plotWidth),
		asciigraph.Caption(caption),
	), nil
}

// PlotPair overlays two rows, typically fitted vs observed or an
// estimated factor against the truth it recovered.
func PlotPair(a *mat.Dense, rowA int, b *mat.Dense, rowB int, caption string) (string, error) {
	if a == nil || b == nil {
		return "", fmt.Errorf("both matrices must be provided")
	}
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if rowA < 0 || rowA >= ra || rowB < 0 || rowB >= rb {
		return "", fmt.Errorf("row out of range: %d of %d, %d of %d", rowA, ra, rowB, rb)
	}
	if ca != cb {
		return "", fmt.Errorf("series lengths differ: %d vs %d", ca, cb)
	}
	data := [][]float64{mat.Row(nil, rowA, a), mat.Row(nil, rowB, b)}
	return asciigraph.PlotMany(data,
		asciigraph.Height(plotHeight),
		asciigraph.Width(plotWidth),
		asciigraph.Caption(caption),
	), nil
}

package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WriteMatrixCSV writes a matrix with one row per CSV record. The first
// column labels the row (rowPrefix + 1-based index) and the remaining
// columns are colPrefix + 1-based index.
func WriteMatrixCSV(path string, m *mat.Dense, rowPrefix, colPrefix string) error {
	if m == nil {
		return fmt.Errorf("matrix not provided")
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	rows, cols := m.Dims()

	header := make([]string, cols+1)
	header[0] = rowPrefix
	for j := 0; j < cols; j++ {
		header[j+1] = fmt.Sprintf("%s%d", colPrefix, j+1)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i := 0; i < rows; i++ {
		record := make([]string, cols+1)
		record[0] = fmt.Sprintf("%s%d", rowPrefix, i+1)
		for j := 0; j < cols; j++ {
			record[j+1] = fmt.Sprintf("%f", m.At(i, j))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecoveryCSV writes the factor-matching table.
// Columns: TrueFactor, EstimatedFactor, Correlation.
func WriteRecoveryCSV(path string, matches []FactorMatch) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"TrueFactor", "EstimatedFactor", "Correlation"}); err != nil {
		return err
	}
	for _, m := range matches {
		record := []string{
			fmt.Sprintf("%d", m.True+1),
			fmt.Sprintf("%d", m.Estimated+1),
			fmt.Sprintf("%f", m.Correlation),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// WriteOrderCSV writes the order-of-inclusion comparison in long
// format. Columns: Order, Covariate, MeanEstimate, TrueEffect.
func WriteOrderCSV(path string, results []OrderResult, covNames []string, truth []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Order", "Covariate", "MeanEstimate", "TrueEffect"}); err != nil {
		return err
	}
	for _, res := range results {
		for c, mean := range res.Mean {
			name := fmt.Sprintf("Covariate%d", c+1)
			if c < len(covNames) {
				name = covNames[c]
			}
			trueVal := ""
			if c < len(truth) {
				trueVal = fmt.Sprintf("%f", truth[c])
			}
			record := []string{res.Label, name, fmt.Sprintf("%f", mean), trueVal}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// OrderLabel names an inclusion order for tables, e.g. "trend->season".
func OrderLabel(order []int, covNames []string) string {
	parts := make([]string, len(order))
	for i, idx := range order {
		if idx < len(covNames) {
			parts[i] = covNames[idx]
		} else {
			parts[i] = fmt.Sprintf("cov%d", idx+1)
		}
	}
	return strings.Join(parts, "->")
}

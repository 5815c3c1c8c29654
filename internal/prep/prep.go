// Package prep turns a raw CSV file into the aligned feature matrix and
// label vector the selection environment consumes. It handles the column
// pruning, numeric coercion, mean imputation, and label binarization that
// the core layers assume have already happened.
package prep

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/evgrid/stationselect/internal/dataset"
)

// #region errors

var (
	// ErrNoRows is returned when the CSV holds a header but no data rows.
	ErrNoRows = errors.New("prep: no data rows")
	// ErrLabelColumn is returned when the label column is missing from the header.
	ErrLabelColumn = errors.New("prep: label column not found")
	// ErrNoFeatures is returned when dropping columns leaves no features.
	ErrNoFeatures = errors.New("prep: no feature columns remain")
)

// #endregion errors

// #region options

// Options controls how a CSV is turned into a dataset.
type Options struct {
	// LabelColumn names the header column holding the 0/1 target.
	LabelColumn string
	// DropColumns lists header columns excluded from the features, such as
	// identifiers and free-text names. The label column is always excluded.
	DropColumns []string
}

// #endregion options

// #region load

// Load reads the CSV at path and produces a dataset. The first record is
// the header; every remaining record is one row. Cells that are empty or
// fail to parse as numbers are imputed with the mean of their column's
// parseable cells. Label cells must parse as numbers; any nonzero value
// binarizes to 1.
func Load(path string, opts Options) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records, opts)
}

func fromRecords(records [][]string, opts Options) (*dataset.Dataset, error) {
	if len(records) < 2 {
		return nil, ErrNoRows
	}
	header, rows := records[0], records[1:]

	labelIdx := -1
	for i, name := range header {
		if name == opts.LabelColumn {
			labelIdx = i
			break
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("%w: %q (header: %s)", ErrLabelColumn, opts.LabelColumn, strings.Join(header, ", "))
	}

	dropped := make(map[int]bool, len(opts.DropColumns)+1)
	dropped[labelIdx] = true
	for _, name := range opts.DropColumns {
		found := false
		for i, h := range header {
			if h == name {
				dropped[i] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("prep: drop column %q not found", name)
		}
	}

	var featureIdx []int
	for i := range header {
		if !dropped[i] {
			featureIdx = append(featureIdx, i)
		}
	}
	if len(featureIdx) == 0 {
		return nil, ErrNoFeatures
	}

	n, d := len(rows), len(featureIdx)
	data := make([]float64, n*d)
	labels := make([]int, n)

	// First pass: parse what parses, track column sums for imputation.
	missing := make([][2]int, 0) // (row, feature) pairs needing imputation
	colSum := make([]float64, d)
	colCount := make([]int, d)

	for r, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("prep: row %d has %d cells, header has %d", r+1, len(row), len(header))
		}

		lv, err := strconv.ParseFloat(strings.TrimSpace(row[labelIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("prep: row %d label %q: %w", r+1, row[labelIdx], err)
		}
		if lv != 0 {
			labels[r] = 1
		}

		for c, src := range featureIdx {
			cell := strings.TrimSpace(row[src])
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				missing = append(missing, [2]int{r, c})
				continue
			}
			data[r*d+c] = v
			colSum[c] += v
			colCount[c]++
		}
	}

	// Second pass: fill holes with column means. A column with no parseable
	// cells imputes to zero.
	for _, m := range missing {
		r, c := m[0], m[1]
		if colCount[c] > 0 {
			data[r*d+c] = colSum[c] / float64(colCount[c])
		}
	}

	return dataset.New(mat.NewDense(n, d, data), labels)
}

// #endregion load

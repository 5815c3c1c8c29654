// Package dataset holds the immutable feature/label pair the selection core
// consumes, plus the mutable Pool working set used by the removal loop.
package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// #region dataset

// Dataset is an index-aligned pair of a feature matrix (N x D) and a binary
// label vector (N). Immutable after construction; the preparation stage
// guarantees every feature value is finite before it reaches this layer.
type Dataset struct {
	features *mat.Dense
	labels   []int
}

// New validates alignment and label values and wraps the arrays.
// Labels must be 0 or 1; features must be finite. A nil feature matrix with
// no labels is the empty dataset (gonum does not represent 0-row matrices).
func New(features *mat.Dense, labels []int) (*Dataset, error) {
	if features == nil {
		if len(labels) != 0 {
			return nil, fmt.Errorf("dataset: nil features but %d labels", len(labels))
		}
		return &Dataset{}, nil
	}
	rows, cols := features.Dims()
	if rows != len(labels) {
		return nil, fmt.Errorf("dataset: %d feature rows but %d labels", rows, len(labels))
	}
	for i, l := range labels {
		if l != 0 && l != 1 {
			return nil, fmt.Errorf("dataset: label at row %d is %d, want 0 or 1", i, l)
		}
	}
	for i := 0; i < rows; i++ {
		row := features.RawRowView(i)
		for j := 0; j < cols; j++ {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				return nil, fmt.Errorf("dataset: non-finite feature at row %d col %d", i, j)
			}
		}
	}
	return &Dataset{features: features, labels: labels}, nil
}

// N returns the number of rows.
func (d *Dataset) N() int {
	if d.features == nil {
		return 0
	}
	n, _ := d.features.Dims()
	return n
}

// Dim returns the feature width.
func (d *Dataset) Dim() int {
	if d.features == nil {
		return 0
	}
	_, c := d.features.Dims()
	return c
}

// Row returns the feature vector at index i. The returned slice aliases the
// backing matrix and must not be mutated.
func (d *Dataset) Row(i int) []float64 {
	return d.features.RawRowView(i)
}

// Label returns the binary label at index i.
func (d *Dataset) Label(i int) int {
	return d.labels[i]
}

// Positives counts rows with label 1.
func (d *Dataset) Positives() int {
	n := 0
	for _, l := range d.labels {
		n += l
	}
	return n
}

// #endregion dataset

// #region pool

// Pool is an order-preserving working subset of a Dataset. The removal loop
// shrinks it pass by pass; indices passed to Remove are relative to the
// current pool, not the original dataset. Implemented as an index
// indirection so a pass costs O(remaining) rather than O(original).
type Pool struct {
	ds      *Dataset
	indices []int // positions into ds, in original order
}

// NewPool creates a pool covering the whole dataset.
func NewPool(ds *Dataset) *Pool {
	idx := make([]int, ds.N())
	for i := range idx {
		idx[i] = i
	}
	return &Pool{ds: ds, indices: idx}
}

// Size returns the number of rows remaining in the pool.
func (p *Pool) Size() int {
	return len(p.indices)
}

// Row returns the feature vector of the i-th remaining row.
func (p *Pool) Row(i int) []float64 {
	return p.ds.Row(p.indices[i])
}

// Label returns the label of the i-th remaining row.
func (p *Pool) Label(i int) int {
	return p.ds.Label(p.indices[i])
}

// Remove deletes the rows at the given pool-relative indices, preserving the
// order of the survivors. Indices must be sorted ascending and in range.
func (p *Pool) Remove(selected []int) error {
	if len(selected) == 0 {
		return nil
	}
	drop := make(map[int]struct{}, len(selected))
	prev := -1
	for _, s := range selected {
		if s < 0 || s >= len(p.indices) {
			return fmt.Errorf("pool: index %d out of range [0,%d)", s, len(p.indices))
		}
		if s <= prev {
			return fmt.Errorf("pool: indices must be strictly ascending, got %d after %d", s, prev)
		}
		prev = s
		drop[s] = struct{}{}
	}
	kept := p.indices[:0]
	for i, orig := range p.indices {
		if _, ok := drop[i]; !ok {
			kept = append(kept, orig)
		}
	}
	p.indices = kept
	return nil
}

// #endregion pool

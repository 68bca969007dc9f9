package coo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Axis selects which marginal of the matrix a statistic is taken over.
type Axis int

const (
	// ByRow aggregates over columns, producing one value per row (cell).
	ByRow Axis = iota
	// ByCol aggregates over rows, producing one value per column (gene).
	ByCol
)

// Matrix is a sparse non-negative integer count matrix in coordinate form.
// Rows are cells, columns are genes. A Matrix is immutable after New.
type Matrix struct {
	nrows, ncols int
	rows, cols   []int
	vals         []float64
}

// New validates and builds a Matrix from parallel triplet slices. The
// slices are copied, so the caller may reuse its buffers. Counts must be
// non-negative and integer-valued; indices must lie inside (nrows, ncols).
func New(nrows, ncols int, rows, cols []int, vals []float64) (*Matrix, error) {
	if nrows <= 0 || ncols <= 0 {
		return nil, fmt.Errorf("%w: got (%d, %d)", ErrBadShape, nrows, ncols)
	}
	if len(rows) != len(cols) || len(rows) != len(vals) {
		return nil, fmt.Errorf("%w: slice lengths %d/%d/%d differ",
			ErrBadTriplets, len(rows), len(cols), len(vals))
	}
	for n := range rows {
		if rows[n] < 0 || rows[n] >= nrows || cols[n] < 0 || cols[n] >= ncols {
			return nil, fmt.Errorf("%w: entry %d at (%d, %d) outside (%d, %d)",
				ErrBadTriplets, n, rows[n], cols[n], nrows, ncols)
		}
		if v := vals[n]; v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: entry %d has value %v", ErrBadCount, n, vals[n])
		}
	}
	m := &Matrix{
		nrows: nrows,
		ncols: ncols,
		rows:  append([]int(nil), rows...),
		cols:  append([]int(nil), cols...),
		vals:  append([]float64(nil), vals...),
	}
	return m, nil
}

// Dims returns (nrows, ncols).
func (m *Matrix) Dims() (int, int) { return m.nrows, m.ncols }

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int { return len(m.vals) }

// Triplets exposes the underlying (rows, cols, vals) slices. They are
// shared, not copied: callers must treat them as read-only.
func (m *Matrix) Triplets() (rows, cols []int, vals []float64) {
	return m.rows, m.cols, m.vals
}

// RowSums returns the total count per row (per-cell depth).
func (m *Matrix) RowSums() []float64 {
	s := make([]float64, m.nrows)
	for n, v := range m.vals {
		s[m.rows[n]] += v
	}
	return s
}

// ColSums returns the total count per column (per-gene detection mass).
func (m *Matrix) ColSums() []float64 {
	s := make([]float64, m.ncols)
	for n, v := range m.vals {
		s[m.cols[n]] += v
	}
	return s
}

// MeanVarRatio returns mean(marginal sums) / var(marginal sums) along the
// given axis, the empirical statistic behind the b' and d' capacity rate
// hyperparameters. The variance is the population variance of the sums,
// including structural zeros.
func (m *Matrix) MeanVarRatio(axis Axis) float64 {
	var sums []float64
	if axis == ByRow {
		sums = m.RowSums()
	} else {
		sums = m.ColSums()
	}
	return stat.Mean(sums, nil) / stat.PopVariance(sums, nil)
}

// Index groups the nonzeros of a Matrix by one major axis. For major index
// g, the entries Perm[Start[g]:Start[g+1]] are the positions of g's
// nonzeros inside the triplet slices, in ascending minor order of their
// original insertion.
type Index struct {
	Start []int // len = major dimension + 1
	Perm  []int // len = NNZ
}

// CSR returns the nonzeros grouped by row.
func (m *Matrix) CSR() Index { return m.buildIndex(m.rows, m.nrows) }

// CSC returns the nonzeros grouped by column.
func (m *Matrix) CSC() Index { return m.buildIndex(m.cols, m.ncols) }

// buildIndex is a counting sort over the major axis: O(nnz + major).
func (m *Matrix) buildIndex(major []int, dim int) Index {
	start := make([]int, dim+1)
	for _, g := range major {
		start[g+1]++
	}
	for g := 0; g < dim; g++ {
		start[g+1] += start[g]
	}
	perm := make([]int, len(major))
	next := append([]int(nil), start...)
	for n, g := range major {
		perm[next[g]] = n
		next[g]++
	}
	return Index{Start: start, Perm: perm}
}

package coo_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schpf/coo"
)

// a 3x4 matrix:
//
//	[ 2 0 1 0 ]
//	[ 0 3 0 0 ]
//	[ 5 0 0 4 ]
func testMatrix(t *testing.T) *coo.Matrix {
	t.Helper()
	m, err := coo.New(3, 4,
		[]int{0, 0, 1, 2, 2},
		[]int{0, 2, 1, 0, 3},
		[]float64{2, 1, 3, 5, 4})
	require.NoError(t, err, "valid triplets must construct")
	return m
}

func TestNew_RejectsBadShape(t *testing.T) {
	_, err := coo.New(0, 4, nil, nil, nil)
	assert.ErrorIs(t, err, coo.ErrBadShape, "zero rows must error")
}

func TestNew_RejectsMismatchedSlices(t *testing.T) {
	_, err := coo.New(2, 2, []int{0}, []int{0, 1}, []float64{1})
	assert.ErrorIs(t, err, coo.ErrBadTriplets, "unequal slice lengths must error")
}

func TestNew_RejectsOutOfRangeIndex(t *testing.T) {
	_, err := coo.New(2, 2, []int{2}, []int{0}, []float64{1})
	assert.ErrorIs(t, err, coo.ErrBadTriplets, "row index beyond nrows must error")
}

func TestNew_RejectsNonIntegerCounts(t *testing.T) {
	_, err := coo.New(2, 2, []int{0}, []int{0}, []float64{1.5})
	assert.ErrorIs(t, err, coo.ErrBadCount, "fractional count must error")

	_, err = coo.New(2, 2, []int{0}, []int{0}, []float64{-1})
	assert.ErrorIs(t, err, coo.ErrBadCount, "negative count must error")
}

func TestMatrix_Sums(t *testing.T) {
	m := testMatrix(t)
	assert.Equal(t, []float64{3, 3, 9}, m.RowSums(), "per-cell totals")
	assert.Equal(t, []float64{7, 3, 1, 4}, m.ColSums(), "per-gene totals")
	assert.Equal(t, 5, m.NNZ(), "five stored entries")
}

func TestMatrix_IndexGrouping(t *testing.T) {
	m := testMatrix(t)
	_, _, vals := m.Triplets()

	csr := m.CSR()
	require.Equal(t, []int{0, 2, 3, 5}, csr.Start, "row offsets")
	// row 2 holds entries with values 5 and 4, in insertion order
	var got []float64
	for _, n := range csr.Perm[csr.Start[2]:csr.Start[3]] {
		got = append(got, vals[n])
	}
	assert.Equal(t, []float64{5, 4}, got, "row 2 values via CSR")

	csc := m.CSC()
	require.Equal(t, []int{0, 2, 3, 4, 5}, csc.Start, "column offsets")
	got = got[:0]
	for _, n := range csc.Perm[csc.Start[0]:csc.Start[1]] {
		got = append(got, vals[n])
	}
	assert.Equal(t, []float64{2, 5}, got, "column 0 values via CSC")
}

func TestMatrix_MeanVarRatio(t *testing.T) {
	m := testMatrix(t)
	// row sums are [3 3 9]: mean 5, population variance 8.
	assert.InDelta(t, 5.0/8.0, m.MeanVarRatio(coo.ByRow), 1e-12, "row mean/var ratio")
}

func TestReadTXT(t *testing.T) {
	src := `
# cell gene count
0 0 2
0 2 1
1 1 3
2 0 5
2 3 4
`
	m, err := coo.ReadTXT(strings.NewReader(src))
	require.NoError(t, err, "well-formed input must parse")
	nr, nc := m.Dims()
	assert.Equal(t, 3, nr, "rows inferred from max index")
	assert.Equal(t, 4, nc, "cols inferred from max index")
	assert.Equal(t, []float64{3, 3, 9}, m.RowSums(), "content round-trips")
}

func TestReadTXT_BadLine(t *testing.T) {
	_, err := coo.ReadTXT(strings.NewReader("0 0\n"))
	assert.ErrorIs(t, err, coo.ErrBadFormat, "two-field line must error")

	_, err = coo.ReadTXT(strings.NewReader("0 zero 1\n"))
	assert.ErrorIs(t, err, coo.ErrBadFormat, "non-numeric index must error")
}

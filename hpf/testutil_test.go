package hpf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"schpf/coo"
)

// syntheticCounts builds a deterministic 30×20 count matrix with two
// planted expression programs: cells 0..14 favor genes 0..9, cells 15..29
// favor genes 10..19, with sparse background counts everywhere.
func syntheticCounts(t *testing.T) *coo.Matrix {
	t.Helper()
	const ncells, ngenes = 30, 20
	var rows, cols []int
	var vals []float64
	for i := 0; i < ncells; i++ {
		for j := 0; j < ngenes; j++ {
			inBlock := (i < 15) == (j < 10)
			var y float64
			if inBlock {
				y = float64(1 + (i*7+j*13)%5)
			} else if (i+j)%7 == 0 {
				y = 1
			}
			if y > 0 {
				rows = append(rows, i)
				cols = append(cols, j)
				vals = append(vals, y)
			}
		}
	}
	m, err := coo.New(ncells, ngenes, rows, cols, vals)
	require.NoError(t, err, "synthetic matrix must construct")
	return m
}

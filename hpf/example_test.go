package hpf_test

import (
	"fmt"

	"schpf/coo"
	"schpf/hpf"
)

// ExampleTrain fits a 2-factor model to a toy block-structured count
// matrix. With Epsilon = 1 every check passes the convergence test, so
// training halts at the first check boundary at or after MinIter — handy
// for a deterministic example.
func ExampleTrain() {
	var rows, cols []int
	var vals []float64
	for i := 0; i < 20; i++ {
		for j := 0; j < 10; j++ {
			if (i < 10) == (j < 5) {
				rows = append(rows, i)
				cols = append(cols, j)
				vals = append(vals, float64(1+(i+j)%3))
			}
		}
	}
	X, err := coo.New(20, 10, rows, cols, vals)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	opts := hpf.DefaultTrainOptions()
	opts.Monitor.Epsilon = 1
	opts.Monitor.MinIter = 20
	opts.Monitor.CheckFreq = 10

	m, err := hpf.Train(X, 2, opts)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	r, c := m.CellScore().Dims()
	fmt.Printf("state=%s iterations=%d cellscore=%dx%d\n",
		m.State(), m.Iterations(), r, c)
	// Output:
	// state=converged iterations=20 cellscore=20x2
}

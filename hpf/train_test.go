package hpf_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schpf/coo"
	"schpf/hpf"
)

func quickOptions() hpf.TrainOptions {
	o := hpf.DefaultTrainOptions()
	o.Monitor.MinIter = 20
	o.Monitor.MaxIter = 200
	o.Monitor.CheckFreq = 10
	return o
}

func TestTrain_RejectsBadConfig(t *testing.T) {
	X := syntheticCounts(t)

	_, err := hpf.Train(X, 0, quickOptions())
	assert.ErrorIs(t, err, hpf.ErrConfig, "nfactors must be at least 1")

	o := quickOptions()
	o.NJobs = -1
	_, err = hpf.Train(X, 3, o)
	assert.ErrorIs(t, err, hpf.ErrConfig, "negative njobs must fail at construction")

	o = quickOptions()
	o.BatchSize = 8 // sequential order cannot aggregate a partial batch
	_, err = hpf.Train(X, 3, o)
	assert.ErrorIs(t, err, hpf.ErrConfig, "minibatching requires simultaneous order")

	o = quickOptions()
	o.A = hpf.FixedShape(-0.3)
	_, err = hpf.Train(X, 3, o)
	assert.ErrorIs(t, err, hpf.ErrConfig, "negative loading shape must fail")
}

func TestTrain_RejectsMismatchedValidation(t *testing.T) {
	X := syntheticCounts(t)
	val, err := coo.New(2, 2, []int{0}, []int{1}, []float64{1})
	require.NoError(t, err)

	o := quickOptions()
	o.Validation = val
	_, err = hpf.Train(X, 3, o)
	assert.ErrorIs(t, err, hpf.ErrConfig, "validation shape must match training shape")
}

// For a fixed seed and worker count, repeated runs must produce
// bit-identical variational parameters.
func TestTrain_Deterministic(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.NTrials = 2
	o.MaxWorkers = 2
	o.NJobs = 2
	o.Seed = 99

	a, err := hpf.Train(X, 3, o)
	require.NoError(t, err)
	b, err := hpf.Train(X, 3, o)
	require.NoError(t, err)

	assert.Equal(t, a.Theta.Shape, b.Theta.Shape, "theta shapes bit-identical")
	assert.Equal(t, a.Theta.Rate, b.Theta.Rate, "theta rates bit-identical")
	assert.Equal(t, a.Beta.Shape, b.Beta.Shape, "beta shapes bit-identical")
	assert.Equal(t, a.LossTrace(), b.LossTrace(), "loss traces bit-identical")
}

// Under sequential order with full batches the loss is non-increasing
// (lower is better) from one check to the next, within tolerance.
func TestTrain_MonotoneLossSequential(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.Monitor.Epsilon = 1e-10 // run the full budget
	o.Monitor.MaxIter = 150

	m, err := hpf.Train(X, 3, o)
	require.NoError(t, err)

	trace := m.LossTrace()
	require.Greater(t, len(trace), 3, "several checks recorded")
	for i := 1; i < len(trace); i++ {
		assert.LessOrEqual(t, trace[i], trace[i-1]+1e-6*math.Abs(trace[i-1]),
			"loss must not worsen between checks %d and %d", i-1, i)
	}
}

// With epsilon always satisfied, training halts at the first check
// boundary at or after MinIter.
func TestTrain_HaltsAtMinIter(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.Monitor.Epsilon = 1.0
	o.Monitor.MinIter = 20
	o.Monitor.CheckFreq = 10

	m, err := hpf.Train(X, 3, o)
	require.NoError(t, err)
	assert.Equal(t, 20, m.Iterations(), "halts exactly at the min_iter check boundary")
	assert.Equal(t, hpf.Converged, m.State(), "terminal state is converged")
}

func TestTrainAll_SelectsLowestLoss(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.NTrials = 3
	o.MaxWorkers = 3

	results, err := hpf.TrainAll(X, 3, o)
	require.NoError(t, err)
	require.Len(t, results, 3, "every trial retained in insertion order")

	selected := -1
	bestLoss := math.Inf(1)
	for i, r := range results {
		require.NoError(t, r.Err, "trial %d must succeed", i)
		assert.Equal(t, i, r.Trial, "insertion order preserved")
		if !r.Rejected {
			require.Equal(t, -1, selected, "exactly one selected trial")
			selected = i
		}
		if r.Loss < bestLoss {
			bestLoss = r.Loss
		}
	}
	require.GreaterOrEqual(t, selected, 0, "one trial must be selected")
	assert.Equal(t, bestLoss, results[selected].Loss,
		"selected trial has the lowest loss (lower is better)")
}

func TestTrain_MinibatchWithReproject(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.Order = hpf.OrderSimultaneous
	o.BatchSize = 8
	o.Reproject = true
	o.Monitor.SmoothLoss = 3
	o.NTrials = 2
	o.MaxWorkers = 2

	m, err := hpf.Train(X, 3, o)
	require.NoError(t, err)
	assert.True(t, m.State().Terminal(), "run reaches a terminal state")

	nc, ng := X.Dims()
	r, c := m.CellScore().Dims()
	assert.Equal(t, nc, r, "cell score rows")
	assert.Equal(t, 3, c, "cell score cols")
	r, c = m.GeneScore().Dims()
	assert.Equal(t, ng, r, "gene score rows")
	assert.Equal(t, 3, c, "gene score cols")
}

func TestTrain_AutoShapeResolvesToInverseSqrtK(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.A = hpf.AutoShape()
	o.C = hpf.AutoShape()

	m, err := hpf.Train(X, 4, o)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.A, 1e-12, "a = 1/sqrt(4)")
	assert.InDelta(t, 0.5, m.C, 1e-12, "c = 1/sqrt(4)")
}

func TestTrain_Float32StoragePrecision(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.Dtype = hpf.Float32

	m, err := hpf.Train(X, 3, o)
	require.NoError(t, err)
	for n := range m.Theta.Shape {
		require.Equal(t, float64(float32(m.Theta.Shape[n])), m.Theta.Shape[n],
			"committed theta shapes hold float32 precision")
	}
	for n := range m.Beta.Rate {
		require.Equal(t, float64(float32(m.Beta.Rate[n])), m.Beta.Rate[n],
			"committed beta rates hold float32 precision")
	}
}

func TestTrain_WithValidationData(t *testing.T) {
	X := syntheticCounts(t)
	// hold out a sprinkling of entries as validation on the same grid
	nr, nc := X.Dims()
	var rows, cols []int
	var vals []float64
	for i := 0; i < nr; i++ {
		rows = append(rows, i)
		cols = append(cols, i%nc)
		vals = append(vals, float64(1+i%3))
	}
	val, err := coo.New(nr, nc, rows, cols, vals)
	require.NoError(t, err)

	o := quickOptions()
	o.Validation = val
	m, err := hpf.Train(X, 3, o)
	require.NoError(t, err)

	loss, ok := m.FinalLoss()
	require.True(t, ok, "loss trace recorded")
	assert.False(t, math.IsNaN(loss), "validation loss is finite")
}

func TestTrainParallel_KeysByFactorCount(t *testing.T) {
	X := syntheticCounts(t)
	o := quickOptions()
	o.NTrials = 2
	o.MaxWorkers = 4

	best, err := hpf.TrainParallel(X, []int{2, 3}, o)
	require.NoError(t, err)
	require.Len(t, best, 2, "one model per factor count")
	assert.Equal(t, 2, best[2].K)
	assert.Equal(t, 3, best[3].K)
}

func TestModel_CloneIsIndependent(t *testing.T) {
	X := syntheticCounts(t)
	m, err := hpf.Train(X, 3, quickOptions())
	require.NoError(t, err)

	c := m.Clone()
	c.Theta.Shape[0] = 1234
	assert.NotEqual(t, 1234.0, m.Theta.Shape[0], "clone shares no mutable state")
}

package hpf_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"schpf/coo"
	"schpf/hpf"
)

func trainedModel(t *testing.T) *hpf.Model {
	t.Helper()
	o := quickOptions()
	o.Monitor.Epsilon = 1e-6
	o.Monitor.MaxIter = 400
	m, err := hpf.Train(syntheticCounts(t), 3, o)
	require.NoError(t, err)
	return m
}

// The gene-count precondition is checked before any inference work.
func TestProject_DimensionGuard(t *testing.T) {
	m := trainedModel(t)

	// one extra gene column
	wide, err := coo.New(5, m.NGenes()+1, []int{0}, []int{m.NGenes()}, []float64{1})
	require.NoError(t, err)

	_, err = m.Project(wide, hpf.DefaultProjectOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, hpf.ErrDimensionMismatch)

	var dim *hpf.DimensionMismatchError
	require.True(t, errors.As(err, &dim), "typed error carries both gene counts")
	assert.Equal(t, m.NGenes(), dim.Want)
	assert.Equal(t, m.NGenes()+1, dim.Got)
}

// Projecting the training matrix onto its own model recovers cell scores
// close to the training-time ones.
func TestProject_SelfProjectionInvariance(t *testing.T) {
	X := syntheticCounts(t)
	m := trainedModel(t)

	po := hpf.DefaultProjectOptions()
	po.Monitor.Epsilon = 1e-6
	po.Monitor.MaxIter = 400
	p, err := m.Project(X, po)
	require.NoError(t, err)

	want := m.CellScore()
	got := p.CellScore()
	var num, den float64
	r, c := want.Dims()
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			d := got.At(i, k) - want.At(i, k)
			num += d * d
			den += want.At(i, k) * want.At(i, k)
		}
	}
	relErr := math.Sqrt(num / den)
	assert.Less(t, relErr, 0.15,
		"self-projection cell scores close to training-time values (rel. Frobenius err)")
}

func TestProject_DoesNotMutateSource(t *testing.T) {
	X := syntheticCounts(t)
	m := trainedModel(t)

	betaShape := append([]float64(nil), m.Beta.Shape...)
	betaRate := append([]float64(nil), m.Beta.Rate...)
	thetaShape := append([]float64(nil), m.Theta.Shape...)
	bp := m.Bp

	po := hpf.DefaultProjectOptions()
	po.RecalcBp = true
	_, err := m.Project(X, po)
	require.NoError(t, err)

	assert.Equal(t, betaShape, m.Beta.Shape, "gene shapes untouched")
	assert.Equal(t, betaRate, m.Beta.Rate, "gene rates untouched")
	assert.Equal(t, thetaShape, m.Theta.Shape, "source cell side untouched")
	assert.Equal(t, bp, m.Bp, "source capacity rate untouched even with RecalcBp")
}

func TestProject_RecalcBpFromNewData(t *testing.T) {
	X := syntheticCounts(t)
	m := trainedModel(t)

	// same data: the re-estimated rate must land on the training value
	po := hpf.DefaultProjectOptions()
	po.RecalcBp = true
	p, err := m.Project(X, po)
	require.NoError(t, err)
	assert.InDelta(t, m.Bp, p.Bp, 1e-9*math.Abs(m.Bp),
		"recalc on the training data reproduces the empirical b'")

	// without recalc the training-time value is reused verbatim
	p2, err := m.Project(X, hpf.DefaultProjectOptions())
	require.NoError(t, err)
	assert.Equal(t, m.Bp, p2.Bp, "training-time b' reused unchanged")
}

func TestProjection_Accessors(t *testing.T) {
	X := syntheticCounts(t)
	m := trainedModel(t)

	p, err := m.Project(X, hpf.DefaultProjectOptions())
	require.NoError(t, err)

	nc, ng := X.Dims()
	assert.Equal(t, nc, p.NCells())
	assert.Equal(t, ng, p.NGenes())
	assert.True(t, p.State().Terminal(), "projection fit reached a terminal state")
	assert.Greater(t, p.Iterations(), 0)

	loss, ok := p.FinalLoss()
	require.True(t, ok)
	assert.False(t, math.IsNaN(loss))

	var _ *mat.Dense = p.CellScore()
}

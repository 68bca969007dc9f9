package hpf_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schpf/hpf"
)

func TestModel_ParamsRoundTrip(t *testing.T) {
	m := trainedModel(t)

	back, err := hpf.ModelFromParams(m.Params())
	require.NoError(t, err, "a Params bag is sufficient for exact reconstruction")

	assert.Equal(t, m.K, back.K)
	assert.Equal(t, m.Dtype, back.Dtype)
	assert.Equal(t, m.Bp, back.Bp)
	assert.Equal(t, m.Dp, back.Dp)
	assert.Equal(t, m.Theta.Shape, back.Theta.Shape, "theta shapes exact")
	assert.Equal(t, m.Theta.Rate, back.Theta.Rate, "theta rates exact")
	assert.Equal(t, m.Beta.Shape, back.Beta.Shape, "beta shapes exact")
	assert.Equal(t, m.Xi.Rate, back.Xi.Rate, "xi rates exact")
	assert.Equal(t, m.Eta.Rate, back.Eta.Rate, "eta rates exact")
	assert.Equal(t, m.LossTrace(), back.LossTrace(), "loss trace survives")
}

func TestModel_GobRoundTrip(t *testing.T) {
	m := trainedModel(t)

	var buf bytes.Buffer
	require.NoError(t, hpf.SaveModel(&buf, m), "save")
	back, err := hpf.LoadModel(&buf)
	require.NoError(t, err, "load")

	assert.Equal(t, m.K, back.K)
	assert.Equal(t, m.Theta.Shape, back.Theta.Shape, "theta exact through gob")
	assert.Equal(t, m.Beta.Rate, back.Beta.Rate, "beta exact through gob")
	assert.Equal(t, m.State(), back.State(), "terminal state survives")
	assert.Equal(t, m.Iterations(), back.Iterations(), "iteration count survives")
}

func TestModelFromGammas_RejectsMixedPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	xi := hpf.NewRandomGamma(rng, 6, 1, 1, 1, hpf.Float64)
	theta := hpf.NewRandomGamma(rng, 6, 2, 0.3, 1, hpf.Float64)
	eta := hpf.NewRandomGamma(rng, 4, 1, 1, 1, hpf.Float64)
	beta := hpf.NewRandomGamma(rng, 4, 2, 0.3, 1, hpf.Float32) // mismatch

	_, err := hpf.ModelFromGammas(2, hpf.Float64, 0.3, 1, 1, 0.3, 1, 1, xi, theta, eta, beta)
	assert.ErrorIs(t, err, hpf.ErrConfig, "mixing precisions within one model is disallowed")
}

func TestModelFromGammas_RejectsBadDims(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	xi := hpf.NewRandomGamma(rng, 6, 1, 1, 1, hpf.Float64)
	theta := hpf.NewRandomGamma(rng, 6, 3, 0.3, 1, hpf.Float64) // K=3, declared 2
	eta := hpf.NewRandomGamma(rng, 4, 1, 1, 1, hpf.Float64)
	beta := hpf.NewRandomGamma(rng, 4, 2, 0.3, 1, hpf.Float64)

	_, err := hpf.ModelFromGammas(2, hpf.Float64, 0.3, 1, 1, 0.3, 1, 1, xi, theta, eta, beta)
	assert.ErrorIs(t, err, hpf.ErrConfig, "family dims must agree with the factor count")
}

func TestProjection_GobRoundTrip(t *testing.T) {
	X := syntheticCounts(t)
	m := trainedModel(t)
	p, err := m.Project(X, hpf.DefaultProjectOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, hpf.SaveProjection(&buf, p), "save")
	back, err := hpf.LoadProjection(&buf)
	require.NoError(t, err, "load")

	assert.Equal(t, p.K, back.K)
	assert.Equal(t, p.Bp, back.Bp)
	assert.Equal(t, p.Theta.Shape, back.Theta.Shape, "projected theta exact through gob")
	assert.Equal(t, p.NCells(), back.NCells())
	assert.Equal(t, p.NGenes(), back.NGenes())

	bag := p.Params()
	assert.Equal(t, p.Xi.Rate, bag["xi.rate"], "flat bag mirrors the cell side")
}

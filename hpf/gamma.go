package hpf

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mathext"
)

// Gamma is a (rows × cols) matrix of independent Gamma variational
// factors, stored as flat row-major shape and rate slices. Capacity
// variables use cols == 1. All shapes and rates are strictly positive.
//
// Fields are exported for serialization; treat a Gamma owned by a Model as
// read-only unless you are the update engine.
type Gamma struct {
	Shape []float64
	Rate  []float64
	Rows  int
	Cols  int
	Dtype Dtype
}

// NewRandomGamma draws initial shapes and rates uniformly from
// [0.5·prior, 1.5·prior]: positive, centered on the prior, and spread
// enough that independently seeded trials land in different optima.
func NewRandomGamma(rng *rand.Rand, rows, cols int, shapePrior, ratePrior float64, dtype Dtype) *Gamma {
	n := rows * cols
	g := &Gamma{
		Shape: make([]float64, n),
		Rate:  make([]float64, n),
		Rows:  rows,
		Cols:  cols,
		Dtype: dtype,
	}
	for i := 0; i < n; i++ {
		g.Shape[i] = dtype.round(shapePrior * (0.5 + rng.Float64()))
	}
	// second pass keeps shape and rate streams layout-independent
	for i := 0; i < n; i++ {
		g.Rate[i] = dtype.round(ratePrior * (0.5 + rng.Float64()))
	}
	return g
}

// Clone returns an independent deep copy. Required by the trial contract:
// concurrently running trials must not share mutable state.
func (g *Gamma) Clone() *Gamma {
	return &Gamma{
		Shape: append([]float64(nil), g.Shape...),
		Rate:  append([]float64(nil), g.Rate...),
		Rows:  g.Rows,
		Cols:  g.Cols,
		Dtype: g.Dtype,
	}
}

// EX returns E[x] = shape/rate for the flat index n.
func (g *Gamma) EX(n int) float64 { return g.Shape[n] / g.Rate[n] }

// ELogX returns E[log x] = ψ(shape) − log(rate) for the flat index n.
func (g *Gamma) ELogX(n int) float64 {
	return mathext.Digamma(g.Shape[n]) - math.Log(g.Rate[n])
}

// EXInto fills dst (len rows*cols) with E[x] for every factor.
func (g *Gamma) EXInto(dst []float64) {
	for n := range g.Shape {
		dst[n] = g.Shape[n] / g.Rate[n]
	}
}

// ELogXInto fills dst (len rows*cols) with E[log x] for every factor.
func (g *Gamma) ELogXInto(dst []float64) {
	for n := range g.Shape {
		dst[n] = mathext.Digamma(g.Shape[n]) - math.Log(g.Rate[n])
	}
}

// EXRowSums fills dst (len rows) with Σ_cols E[x] per row.
func (g *Gamma) EXRowSums(dst []float64) {
	for i := 0; i < g.Rows; i++ {
		var s float64
		base := i * g.Cols
		for k := 0; k < g.Cols; k++ {
			s += g.Shape[base+k] / g.Rate[base+k]
		}
		dst[i] = s
	}
}

// EXColSums fills dst (len cols) with Σ_rows E[x] per column.
func (g *Gamma) EXColSums(dst []float64) {
	for k := range dst {
		dst[k] = 0
	}
	for i := 0; i < g.Rows; i++ {
		base := i * g.Cols
		for k := 0; k < g.Cols; k++ {
			dst[k] += g.Shape[base+k] / g.Rate[base+k]
		}
	}
}

// Entropy returns the summed differential entropy of all factors,
//
//	H(α, β) = α − log β + log Γ(α) + (1−α)·ψ(α)
//
// useful when assembling an ELBO from the variational families.
func (g *Gamma) Entropy() float64 {
	var h float64
	for n := range g.Shape {
		a, b := g.Shape[n], g.Rate[n]
		lg, _ := math.Lgamma(a)
		h += a - math.Log(b) + lg + (1-a)*mathext.Digamma(a)
	}
	return h
}

// commit stores the staged shape and rate slices, rounded to the
// storage precision.
func (g *Gamma) commit(shape, rate []float64) {
	for n := range shape {
		g.Shape[n] = g.Dtype.round(shape[n])
		g.Rate[n] = g.Dtype.round(rate[n])
	}
}

// checkPositive returns a non-nil error if any shape or rate is
// non-positive or non-finite. Detection, not clamping: silent clamping
// would corrupt convergence semantics.
func (g *Gamma) checkPositive(family string, iter int) error {
	for n := range g.Shape {
		if !(g.Shape[n] > 0) || math.IsInf(g.Shape[n], 0) ||
			!(g.Rate[n] > 0) || math.IsInf(g.Rate[n], 0) {
			return &NumericalInstabilityError{Family: family, Iter: iter}
		}
	}
	return nil
}

// validateDims errors unless the Gamma has the given dimensions and dtype.
func (g *Gamma) validateDims(family string, rows, cols int, dtype Dtype) error {
	if g == nil {
		return fmt.Errorf("%w: %s is nil", ErrConfig, family)
	}
	if g.Rows != rows || g.Cols != cols ||
		len(g.Shape) != rows*cols || len(g.Rate) != rows*cols {
		return fmt.Errorf("%w: %s dims (%d×%d), want (%d×%d)",
			ErrConfig, family, g.Rows, g.Cols, rows, cols)
	}
	if g.Dtype != dtype {
		return fmt.Errorf("%w: %s dtype %s, model dtype %s (mixing precisions is not allowed)",
			ErrConfig, family, g.Dtype, dtype)
	}
	return nil
}

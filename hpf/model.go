package hpf

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"schpf/coo"
)

// Model owns the hyperparameters and variational parameters of one fitted
// (or in-training) factorization. It is mutated in place by every sweep
// during fitting and must be treated as immutable once training returns.
type Model struct {
	// K is the factor count; Dtype the storage precision.
	K     int
	Dtype Dtype

	// Resolved hyperparameters. A and C are the loading shapes (already
	// resolved from FixedShape/AutoShape); Ap/Cp the capacity shapes;
	// Bp/Dp the capacity rates (empirical unless supplied).
	A, Ap, Bp float64
	C, Cp, Dp float64

	// Variational families: Xi (cell capacity, ncells×1), Theta (cell
	// loadings, ncells×K), Eta (gene capacity, ngenes×1), Beta (gene
	// loadings, ngenes×K).
	Xi, Theta, Eta, Beta *Gamma

	ncells, ngenes int
	losses         []float64
	state          State
	iters          int
}

// NCells returns the number of cells the model was fit to.
func (m *Model) NCells() int { return m.ncells }

// NGenes returns the number of genes the model was fit to.
func (m *Model) NGenes() int { return m.ngenes }

// LossTrace returns the per-check loss history of the fit that produced
// this model (negative mean Poisson log-likelihood; lower is better).
func (m *Model) LossTrace() []float64 { return m.losses }

// FinalLoss returns the last recorded loss; ok is false before any check.
func (m *Model) FinalLoss() (loss float64, ok bool) {
	if len(m.losses) == 0 {
		return 0, false
	}
	return m.losses[len(m.losses)-1], true
}

// State reports the terminal monitor state of the fit.
func (m *Model) State() State { return m.state }

// Iterations returns the number of sweeps the fit performed.
func (m *Model) Iterations() int { return m.iters }

// Clone returns an independent deep copy sharing no mutable state.
func (m *Model) Clone() *Model {
	c := *m
	c.Xi = m.Xi.Clone()
	c.Theta = m.Theta.Clone()
	c.Eta = m.Eta.Clone()
	c.Beta = m.Beta.Clone()
	c.losses = append([]float64(nil), m.losses...)
	return &c
}

// newModel builds a randomly initialized model for X: resolves the shape
// hyperparameters, sets the empirical capacity rates, draws the four
// variational families and applies the first hierarchical update.
func newModel(X *coo.Matrix, k int, opts *TrainOptions, rng *rand.Rand) (*Model, error) {
	ncells, ngenes := X.Dims()
	a, c := opts.A.Resolve(k), opts.C.Resolve(k)

	bp, dp := opts.Bp, opts.Dp
	if bp == 0 {
		bp = opts.Ap * X.MeanVarRatio(coo.ByRow)
	}
	if dp == 0 {
		dp = opts.Cp * X.MeanVarRatio(coo.ByCol)
		// keep the two capacity priors on a comparable scale; an extreme
		// ratio destabilizes the first gene-side sweeps
		if bp > 1000*dp {
			dp = bp / 1000
		}
	}
	if !(bp > 0) || !(dp > 0) || math.IsInf(bp, 0) || math.IsInf(dp, 0) {
		return nil, fmt.Errorf("%w: degenerate marginal statistics (b'=%g, d'=%g)",
			ErrConfig, bp, dp)
	}

	m := &Model{
		K: k, Dtype: opts.Dtype,
		A: a, Ap: opts.Ap, Bp: bp,
		C: c, Cp: opts.Cp, Dp: dp,
		ncells: ncells, ngenes: ngenes,
		Xi:    NewRandomGamma(rng, ncells, 1, opts.Ap, bp, opts.Dtype),
		Theta: NewRandomGamma(rng, ncells, k, a, bp, opts.Dtype),
		Eta:   NewRandomGamma(rng, ngenes, 1, opts.Cp, dp, opts.Dtype),
		Beta:  NewRandomGamma(rng, ngenes, k, c, dp, opts.Dtype),
	}
	m.refreshCapacity(true, true)
	return m, nil
}

// refreshCapacity applies the hierarchical capacity update: constant
// conjugate shape a' + K·a (resp. c' + K·c) and rate b' + Σ_k E[loading].
func (m *Model) refreshCapacity(cells, genes bool) {
	if cells {
		shape := m.Dtype.round(m.Ap + float64(m.K)*m.A)
		rowSums := make([]float64, m.ncells)
		m.Theta.EXRowSums(rowSums)
		for i := range rowSums {
			m.Xi.Shape[i] = shape
			m.Xi.Rate[i] = m.Dtype.round(m.Bp + rowSums[i])
		}
	}
	if genes {
		shape := m.Dtype.round(m.Cp + float64(m.K)*m.C)
		rowSums := make([]float64, m.ngenes)
		m.Beta.EXRowSums(rowSums)
		for j := range rowSums {
			m.Eta.Shape[j] = shape
			m.Eta.Rate[j] = m.Dtype.round(m.Dp + rowSums[j])
		}
	}
}

// validate checks dimensional and precision consistency of the four
// variational families against the model metadata.
func (m *Model) validate() error {
	if m.K < 1 {
		return fmt.Errorf("%w: nfactors %d", ErrConfig, m.K)
	}
	if !m.Dtype.valid() {
		return fmt.Errorf("%w: unknown dtype %d", ErrConfig, int(m.Dtype))
	}
	if m.A <= 0 || m.Ap <= 0 || m.Bp <= 0 || m.C <= 0 || m.Cp <= 0 || m.Dp <= 0 {
		return fmt.Errorf("%w: hyperparameters must be positive", ErrConfig)
	}
	if err := m.Xi.validateDims("xi", m.ncells, 1, m.Dtype); err != nil {
		return err
	}
	if err := m.Theta.validateDims("theta", m.ncells, m.K, m.Dtype); err != nil {
		return err
	}
	if err := m.Eta.validateDims("eta", m.ngenes, 1, m.Dtype); err != nil {
		return err
	}
	return m.Beta.validateDims("beta", m.ngenes, m.K, m.Dtype)
}

// CellScore returns the (ncells × K) matrix E[ξ_i]·E[θ_ik], the expected
// contribution of factor k to cell i's budget.
func (m *Model) CellScore() *mat.Dense { return score(m.Xi, m.Theta) }

// GeneScore returns the (ngenes × K) matrix E[η_j]·E[β_jk].
func (m *Model) GeneScore() *mat.Dense { return score(m.Eta, m.Beta) }

func score(capacity, loading *Gamma) *mat.Dense {
	out := mat.NewDense(loading.Rows, loading.Cols, nil)
	for i := 0; i < loading.Rows; i++ {
		cx := capacity.EX(i)
		for k := 0; k < loading.Cols; k++ {
			out.Set(i, k, cx*loading.EX(i*loading.Cols+k))
		}
	}
	return out
}

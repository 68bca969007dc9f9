package hpf

import (
	"gonum.org/v1/gonum/mat"

	"schpf/coo"
)

// Projection is cell-side inference for new data against a trained,
// frozen gene-side factor space. It is structurally a model's cell half —
// it owns fresh Xi/Theta for the new cells plus the capacity rate used to
// infer them — but deliberately not a full Model: it never owns or
// mutates the source model's gene-side parameters.
type Projection struct {
	K     int
	Dtype Dtype
	Bp    float64

	// Xi and Theta are the inferred capacity and loadings of the new cells.
	Xi, Theta *Gamma

	ncells, ngenes int
	losses         []float64
	state          State
	iters          int
}

// NCells returns the number of projected cells.
func (p *Projection) NCells() int { return p.ncells }

// NGenes returns the gene count of the factor space projected into.
func (p *Projection) NGenes() int { return p.ngenes }

// LossTrace returns the per-check loss history of the projection fit.
func (p *Projection) LossTrace() []float64 { return p.losses }

// FinalLoss returns the last recorded loss; ok is false before any check.
func (p *Projection) FinalLoss() (loss float64, ok bool) {
	if len(p.losses) == 0 {
		return 0, false
	}
	return p.losses[len(p.losses)-1], true
}

// State reports the terminal monitor state of the projection fit.
func (p *Projection) State() State { return p.state }

// Iterations returns the number of cell-side sweeps performed.
func (p *Projection) Iterations() int { return p.iters }

// CellScore returns the (ncells × K) matrix E[ξ_i]·E[θ_ik] for the
// projected cells.
func (p *Projection) CellScore() *mat.Dense { return score(p.Xi, p.Theta) }

// Project infers cell-side variational parameters for the new count
// matrix X while this model's gene-side parameters stay fixed. X must
// cover the same gene set: a gene-count disagreement fails with a
// DimensionMismatchError before any inference work begins.
//
// With opts.RecalcBp the cell-capacity rate hyperparameter is
// re-estimated from X's marginal statistics on the first sweep; otherwise
// the training-time value is reused unchanged. The source model is never
// mutated.
func (m *Model) Project(X *coo.Matrix, opts ProjectOptions) (*Projection, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ncells, ngenes := X.Dims()
	if ngenes != m.ngenes {
		return nil, &DimensionMismatchError{Want: m.ngenes, Got: ngenes}
	}

	rng := rngFromSeed(opts.Seed)
	// a shell model over the new cells: fresh random cell side, shared
	// read-only gene side (frozen sweeps never write Eta or Beta)
	shell := &Model{
		K: m.K, Dtype: m.Dtype,
		A: m.A, Ap: m.Ap, Bp: m.Bp,
		C: m.C, Cp: m.Cp, Dp: m.Dp,
		ncells: ncells, ngenes: ngenes,
		Xi:    NewRandomGamma(rng, ncells, 1, m.Ap, m.Bp, m.Dtype),
		Theta: NewRandomGamma(rng, ncells, m.K, m.A, m.Bp, m.Dtype),
		Eta:   m.Eta,
		Beta:  m.Beta,
	}
	shell.refreshCapacity(true, false)

	ds := newDataset(X)
	err := shell.runFit(ds, nil, fitOptions{
		order:        OrderSequential,
		freezeGenes:  true,
		recalcBpOnce: opts.RecalcBp,
		njobs:        opts.NJobs,
		monitor:      opts.Monitor,
	})
	if err != nil {
		return nil, err
	}
	return &Projection{
		K: shell.K, Dtype: shell.Dtype, Bp: shell.Bp,
		Xi: shell.Xi, Theta: shell.Theta,
		ncells: ncells, ngenes: ngenes,
		losses: shell.losses, state: shell.state, iters: shell.iters,
	}, nil
}

package hpf

import "math"

// meanNegLLH returns the negative mean Poisson log-likelihood per nonzero,
//
//	−(1/nnz) Σ_(i,j) [ y·log λ_ij − λ_ij − log Γ(y+1) ],  λ_ij = Σ_k E[θ_ik]·E[β_jk]
//
// the loss every convergence check and every trial comparison uses.
// Lower is better. Deterministic for a fixed worker count (fixed chunk
// boundaries, partials combined in chunk order).
func meanNegLLH(ds *dataset, theta, beta *Gamma, njobs int) float64 {
	k := theta.Cols
	exTheta := make([]float64, len(theta.Shape))
	theta.EXInto(exTheta)
	exBeta := make([]float64, len(beta.Shape))
	beta.EXInto(exBeta)

	llh := parallelSum(ds.nnz, njobs, func(lo, hi int) float64 {
		var s float64
		for nz := lo; nz < hi; nz++ {
			ib := ds.rows[nz] * k
			jb := ds.cols[nz] * k
			var rate float64
			for x := 0; x < k; x++ {
				rate += exTheta[ib+x] * exBeta[jb+x]
			}
			y := ds.vals[nz]
			lg, _ := math.Lgamma(y + 1)
			s += y*math.Log(rate) - rate - lg
		}
		return s
	})
	return -llh / float64(ds.nnz)
}

// Package hpf implements hierarchical Poisson factorization of sparse
// count matrices, trained by mean-field variational inference.
//
// Model
//
//	y_ij ~ Poisson( Σ_k θ_ik · β_jk )
//	θ_ik ~ Gamma(a, ξ_i)     ξ_i ~ Gamma(a', b')   (cell capacity)
//	β_jk ~ Gamma(c, η_j)     η_j ~ Gamma(c', d')   (gene capacity)
//
// Every latent variable gets an independent Gamma variational factor
// (shape, rate). Inference is natural-gradient mean-field coordinate
// ascent: each update is the closed-form Gamma-conjugate posterior
//
//	shape = prior shape + E[sufficient statistic]
//	rate  = prior rate  + E[normalizer]
//
// with expectations E[x] = shape/rate and E[log x] = ψ(shape) − log(rate)
// taken under the current variational factors. No stochastic gradient is
// involved: a sweep is deterministic given the parameters and the batch.
//
// Training loop:
//
//  1. Train runs NTrials independently seeded trials; each iterates one
//     coordinate-ascent sweep at a time under a convergence Monitor until
//     it converges, diverges, or hits MaxIter.
//  2. The loss is the negative mean Poisson log-likelihood per nonzero on
//     the validation matrix when given, else on the training data. Lower
//     is better, everywhere in this package.
//  3. The trial with the lowest final loss wins. Trials that go
//     numerically unstable are recorded as failures and excluded; only if
//     every trial fails does Train fail (AllTrialsFailedError).
//
// Projection maps new cells into an already-trained factor space by
// re-running cell-side inference with the gene-side parameters frozen.
//
// Determinism: for a fixed Seed, NJobs and MaxWorkers, repeated runs
// produce bit-identical parameters. Exact reproducibility across different
// worker counts is not guaranteed (floating-point summation order).
package hpf

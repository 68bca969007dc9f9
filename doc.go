// Package schpf discovers latent gene-expression programs in single-cell
// RNA-seq count data via hierarchical Poisson factorization (HPF), trained
// by mean-field variational inference.
//
// 🚀 What is schpf?
//
//	A library that decomposes a sparse cells-by-genes count matrix into a
//	low-rank, non-negative, interpretable factor model:
//		• coo/ — immutable sparse count matrices with CSR/CSC index views
//		• hpf/ — the inference core: Gamma variational stores, closed-form
//		  coordinate-ascent updates, convergence monitoring, multi-trial
//		  best-model selection, and fixed-gene projection of new cells
//		• cmd/schpf — a small CLI for training and projecting models
//
// ✨ Why choose schpf?
//
//   - Deterministic — fixed seed and worker count reproduce bit-identical fits
//   - Honest failure semantics — unstable trials are reported, never papered over
//   - Pure Go — gonum for the numerics, no cgo
//
// Quick sketch of the generative model:
//
//	y_ij ~ Poisson( Σ_k θ_ik · β_jk )
//	θ_ik ~ Gamma(a, ξ_i)     ξ_i ~ Gamma(a', b')   (cell capacity)
//	β_jk ~ Gamma(c, η_j)     η_j ~ Gamma(c', d')   (gene capacity)
//
// Start with hpf.Train, then hpf.(*Model).Project for new data.
package schpf

// Package coo provides an immutable sparse cells-by-genes count matrix in
// coordinate (triplet) form, plus the grouped index views the inference
// core needs for per-cell and per-gene sufficient-statistic accumulation.
//
// A Matrix is built once from parallel (row, col, value) slices and never
// mutated afterwards, so it is safe to share across concurrently running
// training trials without locking.
//
// Key operations:
//   - New          — validate and build a matrix from triplets
//   - ReadTXT      — parse the whitespace "cell gene count" text format
//   - CSR / CSC    — nonzeros grouped by row / by column (offsets + permutation)
//   - RowSums, ColSums, MeanVarRatio — marginal statistics used to set the
//     empirical capacity rate hyperparameters
//
// Complexity: New and both index builders are O(nnz); marginal sums are
// O(nnz); memory is O(nnz) per index view.
package coo

// Package hpf - RNG utilities shared by trial initialization.
//
// This file centralizes deterministic random generation for training.
//
// Goals:
//   - Determinism: same seed ⇒ identical variational initializations.
//   - Encapsulation: a single RNG factory; no time-based sources hidden anywhere.
//   - Independence: per-trial substreams that do not correlate, so trials
//     may run on any number of workers without sharing a rand.Rand.
//
// Concurrency:
//   - math/rand.Rand is NOT goroutine-safe. Each trial derives its own
//     stream with deriveSeed and owns it exclusively.
package hpf

import "math/rand"

// defaultRNGSeed is the fixed “zero” seed used when callers pass seed==0.
// The value is arbitrary but stable to keep reproducible defaults.
const defaultRNGSeed int64 = 1

// rngFromSeed returns a deterministic *rand.Rand.
// Policy: seed==0 ⇒ use defaultRNGSeed; otherwise use the provided seed verbatim.
func rngFromSeed(seed int64) *rand.Rand {
	s := seed
	if s == 0 {
		s = defaultRNGSeed
	}
	return rand.New(rand.NewSource(s))
}

// deriveSeed mixes a parent seed and a stream identifier into a new 64-bit
// seed via a SplitMix64-style finalizer, so per-trial substreams derived
// from one base seed stay uncorrelated regardless of scheduling order.
func deriveSeed(parent int64, stream uint64) int64 {
	x := uint64(parent) ^ (stream + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

package hpf

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"schpf/coo"
)

// dataset bundles a count matrix with the index views the update engine
// needs: triplets, row-grouped (CSR) and column-grouped (CSC) nonzeros.
// Built once per fit; immutable and safe to share across trials.
type dataset struct {
	rows, cols []int
	vals       []float64
	csr, csc   coo.Index
	ncells     int
	ngenes     int
	nnz        int
}

func newDataset(X *coo.Matrix) *dataset {
	rows, cols, vals := X.Triplets()
	nc, ng := X.Dims()
	return &dataset{
		rows: rows, cols: cols, vals: vals,
		csr: X.CSR(), csc: X.CSC(),
		ncells: nc, ngenes: ng, nnz: X.NNZ(),
	}
}

// scratch holds per-fit reusable buffers so sweeps do not allocate.
type scratch struct {
	xphi       []float64 // nnz × K expected per-factor count allocations
	elogTheta  []float64 // ncells × K
	elogBeta   []float64 // ngenes × K
	thetaShape []float64 // ncells × K staging
	thetaRate  []float64
	betaShape  []float64 // ngenes × K staging
	betaRate   []float64
	thetaCol   []float64 // K: Σ_i E[θ_ik]
	betaCol    []float64 // K: Σ_j E[β_jk]
	xiEX       []float64 // ncells
	etaEX      []float64 // ngenes
}

func newScratch(ds *dataset, k int) *scratch {
	return &scratch{
		xphi:       make([]float64, ds.nnz*k),
		elogTheta:  make([]float64, ds.ncells*k),
		elogBeta:   make([]float64, ds.ngenes*k),
		thetaShape: make([]float64, ds.ncells*k),
		thetaRate:  make([]float64, ds.ncells*k),
		betaShape:  make([]float64, ds.ngenes*k),
		betaRate:   make([]float64, ds.ngenes*k),
		thetaCol:   make([]float64, k),
		betaCol:    make([]float64, k),
		xiEX:       make([]float64, ds.ncells),
		etaEX:      make([]float64, ds.ngenes),
	}
}

// sweepConfig is the per-sweep slice of the training configuration.
type sweepConfig struct {
	batch          []int // cell indices updated this sweep; nil = all
	order          Order
	freezeGenes    bool
	recalcCapacity bool
	njobs          int
	iter           int // for error reporting only
}

// sweep advances the model by one coordinate-ascent pass.
//
// Every update is the closed-form Gamma-conjugate posterior computed from
// expectations under the current variational factors; no stochastic step
// is involved. The sweep mutates m in place and reports a
// NumericalInstabilityError if any committed shape or rate is
// non-positive or non-finite.
func sweep(m *Model, ds *dataset, sc *scratch, cfg sweepConfig) error {
	if cfg.recalcCapacity {
		m.Bp = recalcCellCapacityRate(ds, m.Ap, cfg.batch)
	}
	if cfg.batch != nil {
		return sweepBatch(m, ds, sc, cfg)
	}

	k := m.K
	m.Theta.ELogXInto(sc.elogTheta)
	m.Beta.ELogXInto(sc.elogBeta)
	m.Xi.EXInto(sc.xiEX)
	m.Eta.EXInto(sc.etaEX)
	computeXphi(ds, sc, k, cfg.njobs)

	// snapshot normalizers; in sequential order betaCol is refreshed from
	// the committed gene side before the cell half runs
	m.Theta.EXColSums(sc.thetaCol)
	m.Beta.EXColSums(sc.betaCol)

	stageGenes := func() {
		parallelFor(ds.ngenes, cfg.njobs, func(lo, hi int) {
			for j := lo; j < hi; j++ {
				base := j * k
				for x := 0; x < k; x++ {
					sc.betaShape[base+x] = m.C
					sc.betaRate[base+x] = sc.etaEX[j] + sc.thetaCol[x]
				}
				for _, nz := range ds.csc.Perm[ds.csc.Start[j]:ds.csc.Start[j+1]] {
					for x := 0; x < k; x++ {
						sc.betaShape[base+x] += sc.xphi[nz*k+x]
					}
				}
			}
		})
	}
	stageCells := func() {
		parallelFor(ds.ncells, cfg.njobs, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				base := i * k
				for x := 0; x < k; x++ {
					sc.thetaShape[base+x] = m.A
					sc.thetaRate[base+x] = sc.xiEX[i] + sc.betaCol[x]
				}
				for _, nz := range ds.csr.Perm[ds.csr.Start[i]:ds.csr.Start[i+1]] {
					for x := 0; x < k; x++ {
						sc.thetaShape[base+x] += sc.xphi[nz*k+x]
					}
				}
			}
		})
	}

	switch cfg.order {
	case OrderSimultaneous:
		// both halves from the same prior-sweep snapshot, then commit both
		stageCells()
		if !cfg.freezeGenes {
			stageGenes()
			m.Beta.commit(sc.betaShape, sc.betaRate)
		}
		m.Theta.commit(sc.thetaShape, sc.thetaRate)
	default: // OrderSequential: genes first, cells from the updated genes
		if !cfg.freezeGenes {
			stageGenes()
			m.Beta.commit(sc.betaShape, sc.betaRate)
			m.Beta.EXColSums(sc.betaCol)
		}
		stageCells()
		m.Theta.commit(sc.thetaShape, sc.thetaRate)
	}
	m.refreshCapacity(true, !cfg.freezeGenes)
	return checkStability(m, cfg)
}

// sweepBatch is the minibatch pass: cell side first over the batch rows,
// then gene side from statistics aggregated over the cells touched this
// round, scaled by ncells/len(batch) to stay calibrated against the
// full-population prior.
func sweepBatch(m *Model, ds *dataset, sc *scratch, cfg sweepConfig) error {
	k := m.K
	batch := cfg.batch
	scale := float64(ds.ncells) / float64(len(batch))

	m.Beta.ELogXInto(sc.elogBeta)
	m.Eta.EXInto(sc.etaEX)
	for _, i := range batch {
		sc.xiEX[i] = m.Xi.EX(i)
		for x := 0; x < k; x++ {
			sc.elogTheta[i*k+x] = m.Theta.ELogX(i*k + x)
		}
	}
	computeXphiRows(ds, sc, k, batch, cfg.njobs)
	m.Beta.EXColSums(sc.betaCol)

	// cell half: batch rows only
	parallelFor(len(batch), cfg.njobs, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			i := batch[b]
			base := i * k
			for x := 0; x < k; x++ {
				sc.thetaShape[base+x] = m.A
				sc.thetaRate[base+x] = sc.xiEX[i] + sc.betaCol[x]
			}
			for _, nz := range ds.csr.Perm[ds.csr.Start[i]:ds.csr.Start[i+1]] {
				for x := 0; x < k; x++ {
					sc.thetaShape[base+x] += sc.xphi[nz*k+x]
				}
			}
		}
	})
	m.Theta.commitRows(batch, sc.thetaShape, sc.thetaRate)

	if !cfg.freezeGenes {
		// gene half: scaled sufficient statistics from the batch, using
		// the just-updated cell-side estimates for the normalizer
		for x := 0; x < k; x++ {
			sc.thetaCol[x] = 0
		}
		for j := 0; j < ds.ngenes*k; j++ {
			sc.betaShape[j] = 0
		}
		for _, i := range batch {
			base := i * k
			for x := 0; x < k; x++ {
				sc.thetaCol[x] += m.Theta.EX(base + x)
			}
			for _, nz := range ds.csr.Perm[ds.csr.Start[i]:ds.csr.Start[i+1]] {
				jb := ds.cols[nz] * k
				for x := 0; x < k; x++ {
					sc.betaShape[jb+x] += sc.xphi[nz*k+x]
				}
			}
		}
		parallelFor(ds.ngenes, cfg.njobs, func(lo, hi int) {
			for j := lo; j < hi; j++ {
				base := j * k
				for x := 0; x < k; x++ {
					sc.betaShape[base+x] = m.C + scale*sc.betaShape[base+x]
					sc.betaRate[base+x] = sc.etaEX[j] + scale*sc.thetaCol[x]
				}
			}
		})
		m.Beta.commit(sc.betaShape, sc.betaRate)
	}
	m.refreshCapacity(true, !cfg.freezeGenes)
	return checkStability(m, cfg)
}

// computeXphi fills sc.xphi for every nonzero: the expected per-factor
// allocation y·φ, with φ the softmax of E[log θ] + E[log β] computed in
// log space for stability.
func computeXphi(ds *dataset, sc *scratch, k, njobs int) {
	parallelFor(ds.nnz, njobs, func(lo, hi int) {
		lr := make([]float64, k)
		for nz := lo; nz < hi; nz++ {
			xphiOne(ds, sc, k, nz, lr)
		}
	})
}

// computeXphiRows is the batch-restricted variant, iterating only the
// nonzeros of the given rows.
func computeXphiRows(ds *dataset, sc *scratch, k int, batch []int, njobs int) {
	parallelFor(len(batch), njobs, func(lo, hi int) {
		lr := make([]float64, k)
		for b := lo; b < hi; b++ {
			i := batch[b]
			for _, nz := range ds.csr.Perm[ds.csr.Start[i]:ds.csr.Start[i+1]] {
				xphiOne(ds, sc, k, nz, lr)
			}
		}
	})
}

func xphiOne(ds *dataset, sc *scratch, k, nz int, lr []float64) {
	ib := ds.rows[nz] * k
	jb := ds.cols[nz] * k
	for x := 0; x < k; x++ {
		lr[x] = sc.elogTheta[ib+x] + sc.elogBeta[jb+x]
	}
	lse := floats.LogSumExp(lr)
	y := ds.vals[nz]
	for x := 0; x < k; x++ {
		sc.xphi[nz*k+x] = y * math.Exp(lr[x]-lse)
	}
}

// commitRows commits staged values for the given rows only.
func (g *Gamma) commitRows(rows []int, shape, rate []float64) {
	for _, i := range rows {
		for n := i * g.Cols; n < (i+1)*g.Cols; n++ {
			g.Shape[n] = g.Dtype.round(shape[n])
			g.Rate[n] = g.Dtype.round(rate[n])
		}
	}
}

// checkStability scans every family after a commit. Failures abort the
// trial; they are never clamped away.
func checkStability(m *Model, cfg sweepConfig) error {
	if err := m.Theta.checkPositive("theta", cfg.iter); err != nil {
		return err
	}
	if err := m.Xi.checkPositive("xi", cfg.iter); err != nil {
		return err
	}
	if cfg.freezeGenes {
		return nil
	}
	if err := m.Beta.checkPositive("beta", cfg.iter); err != nil {
		return err
	}
	return m.Eta.checkPositive("eta", cfg.iter)
}

// recalcCellCapacityRate re-estimates b' = a' · mean/var of the per-cell
// totals over the given rows (all rows when batch is nil).
func recalcCellCapacityRate(ds *dataset, ap float64, batch []int) float64 {
	sums := make([]float64, ds.ncells)
	for nz, v := range ds.vals {
		sums[ds.rows[nz]] += v
	}
	if batch != nil {
		sub := make([]float64, len(batch))
		for b, i := range batch {
			sub[b] = sums[i]
		}
		sums = sub
	}
	return ap * stat.Mean(sums, nil) / stat.PopVariance(sums, nil)
}

// parallelFor splits [0, n) into one contiguous chunk per worker. Chunk
// boundaries depend only on n and workers, so results are deterministic
// for a fixed worker count.
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n > 0 {
			fn(0, n)
		}
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// parallelSum reduces fn over fixed chunks, combining partials in chunk
// order so the result is deterministic for a fixed worker count.
func parallelSum(n, workers int, fn func(lo, hi int) float64) float64 {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n == 0 {
			return 0
		}
		return fn(0, n)
	}
	chunk := (n + workers - 1) / workers
	nchunks := (n + chunk - 1) / chunk
	partial := make([]float64, nchunks)
	var wg sync.WaitGroup
	for c := 0; c < nchunks; c++ {
		lo := c * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(c, lo, hi int) {
			defer wg.Done()
			partial[c] = fn(lo, hi)
		}(c, lo, hi)
	}
	wg.Wait()
	var total float64
	for _, p := range partial {
		total += p
	}
	return total
}

package hpf

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"schpf/coo"
)

// testTrialHook, when non-nil, runs at the start of every trial and can
// force a failure. Set only from tests.
var testTrialHook func(trial int) error

// fitOptions is the internal slice of TrainOptions/ProjectOptions a fit
// loop actually consumes.
type fitOptions struct {
	order        Order
	batchSize    int
	freezeGenes  bool
	recalcBpOnce bool
	njobs        int
	monitor      MonitorOptions
}

// runFit iterates sweeps under a convergence monitor until a terminal
// state or an instability error. The loss is checked every CheckFreq
// sweeps on valDS when given, else on ds. The trace, iteration count and
// terminal state are recorded on the model.
func (m *Model) runFit(ds, valDS *dataset, fo fitOptions) error {
	mon, err := NewMonitor(fo.monitor)
	if err != nil {
		return err
	}
	sc := newScratch(ds, m.K)
	lossDS := ds
	if valDS != nil {
		lossDS = valDS
	}

	state := Running
	cursor := 0
	t := 0
	for t = 1; t <= fo.monitor.MaxIter; t++ {
		cfg := sweepConfig{
			order:       fo.order,
			freezeGenes: fo.freezeGenes,
			njobs:       fo.njobs,
			iter:        t,
		}
		if fo.batchSize > 0 && fo.batchSize < ds.ncells {
			cfg.batch = nextBatch(&cursor, ds.ncells, fo.batchSize)
		}
		if t == 1 && fo.recalcBpOnce {
			cfg.recalcCapacity = true
		}
		if err := sweep(m, ds, sc, cfg); err != nil {
			m.iters = t
			return err
		}
		if t%fo.monitor.CheckFreq == 0 {
			loss := meanNegLLH(lossDS, m.Theta, m.Beta, fo.njobs)
			m.losses = append(m.losses, loss)
			if state = mon.Observe(t, loss); state.Terminal() {
				break
			}
		}
	}
	if t > fo.monitor.MaxIter {
		t = fo.monitor.MaxIter
	}
	if state == Running {
		state = MaxIterReached
	}
	m.state = state
	m.iters = t
	return nil
}

// nextBatch returns the next batchSize cell indices of the sequential
// epoch partition, advancing the cursor. Batches are a policy of the
// caller's loop, never re-randomized per sweep.
func nextBatch(cursor *int, ncells, size int) []int {
	b := make([]int, size)
	for x := range b {
		b[x] = *cursor
		*cursor = (*cursor + 1) % ncells
	}
	return b
}

// Train runs opts.NTrials independently initialized trials of K factors
// on X and returns the one with the lowest comparison loss. The
// comparison loss is measured on opts.Validation when given, else on X.
// Trials that fail with a NumericalInstabilityError are excluded from
// selection; Train fails with AllTrialsFailedError only when every trial
// failed.
func Train(X *coo.Matrix, k int, opts TrainOptions) (*Model, error) {
	results, err := TrainAll(X, k, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err == nil && !r.Rejected {
			return r.Model, nil
		}
	}
	// TrainAll guarantees a selected trial when err == nil
	return nil, &AllTrialsFailedError{K: k, Failures: []TrialFailure{{Err: errors.New("hpf: no trial selected")}}}
}

// TrainAll is Train in save-all mode: every trial's result is returned in
// trial order, rejected and failed ones included, for post-hoc
// inspection. Exactly one result is the selected (non-rejected) model.
func TrainAll(X *coo.Matrix, k int, opts TrainOptions) ([]TrialResult, error) {
	if err := opts.validate(k); err != nil {
		return nil, err
	}
	if err := checkValidation(X, opts.Validation); err != nil {
		return nil, err
	}
	ds := newDataset(X)
	var valDS *dataset
	if opts.Validation != nil {
		valDS = newDataset(opts.Validation)
	}

	results := make([]TrialResult, opts.NTrials)
	g := new(errgroup.Group)
	g.SetLimit(opts.MaxWorkers)
	for trial := 0; trial < opts.NTrials; trial++ {
		trial := trial
		g.Go(func() error {
			results[trial] = runTrial(X, ds, valDS, k, opts, trial, deriveSeed(opts.Seed, uint64(trial)))
			return nil
		})
	}
	_ = g.Wait() // per-trial failures are recorded, not returned

	if err := selectBest(k, results, opts); err != nil {
		return nil, err
	}
	return results, nil
}

// TrainParallel runs independent trials for every requested factor count,
// scattered over a shared pool of opts.MaxWorkers workers, and returns the
// best model per K. Factor counts whose trials all failed are absent from
// the map and reported in the joined error.
func TrainParallel(X *coo.Matrix, ks []int, opts TrainOptions) (map[int]*Model, error) {
	if len(ks) == 0 {
		return nil, fmt.Errorf("%w: no factor counts given", ErrConfig)
	}
	for _, k := range ks {
		if err := opts.validate(k); err != nil {
			return nil, err
		}
	}
	if err := checkValidation(X, opts.Validation); err != nil {
		return nil, err
	}
	ds := newDataset(X)
	var valDS *dataset
	if opts.Validation != nil {
		valDS = newDataset(opts.Validation)
	}

	all := make([][]TrialResult, len(ks))
	g := new(errgroup.Group)
	g.SetLimit(opts.MaxWorkers)
	for ki, k := range ks {
		all[ki] = make([]TrialResult, opts.NTrials)
		for trial := 0; trial < opts.NTrials; trial++ {
			ki, k, trial := ki, k, trial
			g.Go(func() error {
				seed := deriveSeed(opts.Seed, uint64(ki)<<32|uint64(trial))
				all[ki][trial] = runTrial(X, ds, valDS, k, opts, trial, seed)
				return nil
			})
		}
	}
	_ = g.Wait()

	best := make(map[int]*Model, len(ks))
	var errs []error
	for ki, k := range ks {
		if err := selectBest(k, all[ki], opts); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range all[ki] {
			if r.Err == nil && !r.Rejected {
				best[k] = r.Model
			}
		}
	}
	return best, errors.Join(errs...)
}

// runTrial trains one independently seeded model and computes its
// comparison loss. Failures are captured in the result, never panicked or
// swallowed.
func runTrial(X *coo.Matrix, ds, valDS *dataset, k int, opts TrainOptions, trial int, seed int64) TrialResult {
	log := opts.Monitor.Logger.With().Int("trial", trial).Int("k", k).Logger()
	if testTrialHook != nil {
		if err := testTrialHook(trial); err != nil {
			log.Warn().Err(err).Msg("trial failed")
			return TrialResult{Trial: trial, Rejected: true, Err: err}
		}
	}

	rng := rngFromSeed(seed)
	m, err := newModel(X, k, &opts, rng)
	if err == nil {
		mo := opts.Monitor
		mo.Logger = log
		err = m.runFit(ds, valDS, fitOptions{
			order:     opts.Order,
			batchSize: opts.BatchSize,
			njobs:     opts.NJobs,
			monitor:   mo,
		})
	}
	if err == nil && opts.Reproject && opts.BatchSize > 0 {
		// undo minibatch partiality: re-infer the cell side over the full
		// population with genes frozen, so trial losses are comparable
		mo := opts.Monitor
		mo.Logger = log
		err = m.runFit(ds, valDS, fitOptions{
			order:       opts.Order,
			freezeGenes: true,
			njobs:       opts.NJobs,
			monitor:     mo,
		})
	}
	if err != nil {
		log.Warn().Err(err).Msg("trial failed")
		return TrialResult{Trial: trial, Rejected: true, Err: err}
	}

	lossDS := ds
	if valDS != nil {
		lossDS = valDS
	}
	loss := meanNegLLH(lossDS, m.Theta, m.Beta, opts.NJobs)
	log.Info().
		Float64("loss", loss).
		Int("iterations", m.Iterations()).
		Stringer("state", m.State()).
		Msg("trial finished")
	return TrialResult{Trial: trial, Model: m, Loss: loss, Rejected: true}
}

// selectBest clears the Rejected flag on the lowest-loss successful trial,
// or reports AllTrialsFailedError when there is none. Lower loss wins; on
// ties the earliest trial wins (insertion order is preserved).
func selectBest(k int, results []TrialResult, opts TrainOptions) error {
	best := -1
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		if best < 0 || r.Loss < results[best].Loss {
			best = i
		}
	}
	if best < 0 {
		failures := make([]TrialFailure, 0, len(results))
		for _, r := range results {
			failures = append(failures, TrialFailure{Trial: r.Trial, Err: r.Err})
		}
		return &AllTrialsFailedError{K: k, Failures: failures}
	}
	results[best].Rejected = false
	opts.Monitor.Logger.Info().
		Int("k", k).
		Int("selected_trial", results[best].Trial).
		Float64("loss", results[best].Loss).
		Msg("best trial selected")
	return nil
}

// checkValidation enforces shape agreement between training and
// validation data at construction time.
func checkValidation(X, val *coo.Matrix) error {
	if val == nil {
		return nil
	}
	xr, xc := X.Dims()
	vr, vc := val.Dims()
	if xr != vr || xc != vc {
		return fmt.Errorf("%w: validation dims (%d, %d) differ from training (%d, %d)",
			ErrConfig, vr, vc, xr, xc)
	}
	return nil
}

package hpf

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"schpf/coo"
)

// Dtype selects the storage precision of all variational parameters in one
// model. Arrays are held as []float64 for gonum interoperability; Float32
// rounds every committed value through float32, so float32 storage
// precision — and its underflow failure mode — behaves faithfully.
type Dtype int

const (
	// Float64 keeps full double precision (the default).
	Float64 Dtype = iota
	// Float32 rounds every stored shape/rate through float32.
	Float32
)

// String implements fmt.Stringer.
func (d Dtype) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("Dtype(%d)", int(d))
	}
}

func (d Dtype) valid() bool { return d == Float64 || d == Float32 }

// round maps v onto the dtype's storage precision.
func (d Dtype) round(v float64) float64 {
	if d == Float32 {
		return float64(float32(v))
	}
	return v
}

// Shape is a tagged hyperparameter value for the loading shapes a and c:
// either a fixed positive scalar, or "auto", resolved to 1/√K once at
// model construction.
type Shape struct {
	auto  bool
	value float64
}

// FixedShape returns a Shape holding the literal value v.
func FixedShape(v float64) Shape { return Shape{value: v} }

// AutoShape returns a Shape resolved to 1/√K at model construction.
func AutoShape() Shape { return Shape{auto: true} }

// Resolve returns the concrete hyperparameter value for k factors.
func (s Shape) Resolve(k int) float64 {
	if s.auto {
		return 1 / math.Sqrt(float64(k))
	}
	return s.value
}

// Order selects how the two halves of a coordinate-ascent sweep combine.
type Order int

const (
	// OrderSequential updates gene-side parameters first from the previous
	// cell-side estimate, then cell-side from the just-updated gene side.
	// Standard coordinate ascent; loss is (near-)monotone. Full data only.
	OrderSequential Order = iota
	// OrderSimultaneous computes both sides from the same prior-sweep
	// snapshot and commits both. Slower convergence, occasionally better
	// optima. Required whenever BatchSize restricts the sweep to a subset
	// of cells; there the order inverts to cell-side first, because
	// gene-side statistics aggregate over all cells touched this round.
	OrderSimultaneous
)

// MonitorOptions configures the convergence Monitor.
//   - MinIter/MaxIter bound the iteration count; the monitor never reports
//     Converged or Diverged before MinIter, and always stops at MaxIter.
//   - CheckFreq is the number of sweeps between loss checks.
//   - Epsilon is the relative-change threshold for convergence.
//   - BetterThanNAgo is the divergence lookback, measured in checks;
//     0 disables the divergence guard.
//   - SmoothLoss averages the last n checks before testing, to absorb
//     minibatch noise; the window is measured in checks, not sweeps.
type MonitorOptions struct {
	MinIter        int
	MaxIter        int
	CheckFreq      int
	Epsilon        float64
	BetterThanNAgo int
	SmoothLoss     int
	Logger         zerolog.Logger
}

// DefaultMonitorOptions returns the standard convergence policy.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		MinIter:        30,
		MaxIter:        1000,
		CheckFreq:      10,
		Epsilon:        0.001,
		BetterThanNAgo: 5,
		SmoothLoss:     1,
		Logger:         zerolog.Nop(),
	}
}

func (o MonitorOptions) validate() error {
	switch {
	case o.MinIter < 0 || o.MaxIter < 1 || o.MinIter > o.MaxIter:
		return fmt.Errorf("%w: iteration bounds [%d, %d]", ErrConfig, o.MinIter, o.MaxIter)
	case o.CheckFreq < 1:
		return fmt.Errorf("%w: check frequency %d", ErrConfig, o.CheckFreq)
	case o.Epsilon <= 0:
		return fmt.Errorf("%w: epsilon %g", ErrConfig, o.Epsilon)
	case o.BetterThanNAgo < 0:
		return fmt.Errorf("%w: divergence lookback %d", ErrConfig, o.BetterThanNAgo)
	case o.SmoothLoss < 1:
		return fmt.Errorf("%w: smoothing window %d", ErrConfig, o.SmoothLoss)
	}
	return nil
}

// TrainOptions configures Train, TrainAll and TrainParallel. The zero
// value is not usable; start from DefaultTrainOptions.
type TrainOptions struct {
	// Hyperparameters. A and C are the loading shapes (FixedShape or
	// AutoShape); Ap and Cp are the capacity shapes; Bp and Dp are the
	// capacity rates, set empirically from the data's marginal mean/var
	// ratio when 0.
	A, C   Shape
	Ap, Cp float64
	Bp, Dp float64

	// Dtype selects parameter storage precision.
	Dtype Dtype

	// NTrials is the number of independently initialized training runs.
	Seed    int64
	NTrials int

	// Validation, when non-nil, is held-out data used both for the
	// convergence loss and for best-trial comparison.
	Validation *coo.Matrix

	// Reproject re-infers the cell side over the full population after a
	// minibatched trial converges, before computing its comparison loss.
	Reproject bool

	// BatchSize restricts each sweep to a sequential partition of cells;
	// 0 trains on all cells every sweep. Requires OrderSimultaneous.
	BatchSize int
	Order     Order

	// Monitor holds the convergence policy, including the logger used for
	// progress reporting (zerolog.Nop by default).
	Monitor MonitorOptions

	// NJobs is the intra-sweep worker count over independent rows/columns
	// (1 = no parallelism). MaxWorkers bounds concurrently running trials.
	NJobs      int
	MaxWorkers int
}

// DefaultTrainOptions returns the standard defaults: a = c = 0.3,
// a' = c' = 1, empirical b'/d', one trial, full-batch sequential sweeps.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		A:          FixedShape(0.3),
		C:          FixedShape(0.3),
		Ap:         1,
		Cp:         1,
		Dtype:      Float64,
		Seed:       1,
		NTrials:    1,
		Order:      OrderSequential,
		Monitor:    DefaultMonitorOptions(),
		NJobs:      1,
		MaxWorkers: 1,
	}
}

func (o TrainOptions) validate(k int) error {
	switch {
	case k < 1:
		return fmt.Errorf("%w: nfactors %d", ErrConfig, k)
	case o.A.Resolve(k) <= 0 || o.C.Resolve(k) <= 0:
		return fmt.Errorf("%w: loading shapes must be positive", ErrConfig)
	case o.Ap <= 0 || o.Cp <= 0:
		return fmt.Errorf("%w: capacity shapes a'=%g c'=%g", ErrConfig, o.Ap, o.Cp)
	case o.Bp < 0 || o.Dp < 0:
		return fmt.Errorf("%w: capacity rates b'=%g d'=%g", ErrConfig, o.Bp, o.Dp)
	case !o.Dtype.valid():
		return fmt.Errorf("%w: unknown dtype %d", ErrConfig, int(o.Dtype))
	case o.NTrials < 1:
		return fmt.Errorf("%w: ntrials %d", ErrConfig, o.NTrials)
	case o.BatchSize < 0:
		return fmt.Errorf("%w: batch size %d", ErrConfig, o.BatchSize)
	case o.BatchSize > 0 && o.Order != OrderSimultaneous:
		return fmt.Errorf("%w: minibatching requires OrderSimultaneous", ErrConfig)
	case o.NJobs < 1:
		return fmt.Errorf("%w: njobs %d", ErrConfig, o.NJobs)
	case o.MaxWorkers < 1:
		return fmt.Errorf("%w: max workers %d", ErrConfig, o.MaxWorkers)
	}
	return o.Monitor.validate()
}

// ProjectOptions configures Model.Project. The zero value is not usable;
// start from DefaultProjectOptions.
type ProjectOptions struct {
	// RecalcBp re-estimates the cell-capacity rate hyperparameter from the
	// new data's marginal statistics instead of reusing the training-time
	// value. Appropriate when the new population's sparsity profile
	// differs materially from the training population.
	RecalcBp bool

	Seed    int64
	Monitor MonitorOptions
	NJobs   int
}

// DefaultProjectOptions differs from training defaults only in MinIter
// (10): with the gene side frozen the fit needs far fewer sweeps.
func DefaultProjectOptions() ProjectOptions {
	mo := DefaultMonitorOptions()
	mo.MinIter = 10
	return ProjectOptions{Seed: 1, Monitor: mo, NJobs: 1}
}

func (o ProjectOptions) validate() error {
	if o.NJobs < 1 {
		return fmt.Errorf("%w: njobs %d", ErrConfig, o.NJobs)
	}
	return o.Monitor.validate()
}

// TrialResult is one completed (or failed) trial. For successful trials
// Model is set and Loss is the comparison loss (lower is better); for
// failed trials Err records the cause and Model is nil. Exactly one
// successful trial per run has Rejected == false: the selected one.
type TrialResult struct {
	Trial    int
	Model    *Model
	Loss     float64
	Rejected bool
	Err      error
}

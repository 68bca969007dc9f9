package hpf

import "math"

// State is the monitor's verdict after a loss check.
type State int

const (
	// Running means training should continue.
	Running State = iota
	// Converged means the relative loss change fell below Epsilon.
	Converged
	// Diverged means the loss has been getting worse for the lookback
	// window; continuing would waste time on a bad run.
	Diverged
	// MaxIterReached means the iteration budget is exhausted.
	MaxIterReached
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIterReached:
		return "max-iter"
	default:
		return "unknown"
	}
}

// Terminal reports whether training must stop in this state.
func (s State) Terminal() bool { return s != Running }

// Monitor decides, one loss check at a time, whether a fit should keep
// running, has converged, or is diverging. Loss convention: lower is
// better. Both the convergence and the divergence test operate on the
// smoothed trace (a trailing mean over the last SmoothLoss checks), so
// minibatch noise cannot trip either one.
type Monitor struct {
	opts   MonitorOptions
	raw    []float64
	smooth []float64
}

// NewMonitor validates opts and returns a fresh monitor in Running state.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Monitor{opts: opts}, nil
}

// Losses returns the raw (unsmoothed) loss trace observed so far.
func (mo *Monitor) Losses() []float64 { return mo.raw }

// Observe records the loss at sweep iter and returns the new state.
//
// Rules, in order:
//  1. Converged when the relative change |prev−curr|/|prev| of the
//     smoothed loss is below Epsilon — never before MinIter.
//  2. Diverged when the smoothed loss is worse (greater) than it was
//     BetterThanNAgo checks ago AND worse than the previous check —
//     never before MinIter.
//  3. MaxIterReached when iter ≥ MaxIter.
//  4. Otherwise Running.
func (mo *Monitor) Observe(iter int, loss float64) State {
	mo.raw = append(mo.raw, loss)
	w := mo.opts.SmoothLoss
	if w > len(mo.raw) {
		w = len(mo.raw)
	}
	var cur float64
	for _, v := range mo.raw[len(mo.raw)-w:] {
		cur += v
	}
	cur /= float64(w)
	mo.smooth = append(mo.smooth, cur)

	n := len(mo.smooth)
	pct := math.Inf(1)
	if n >= 2 {
		prev := mo.smooth[n-2]
		pct = (cur - prev) / math.Abs(prev)
	}
	mo.opts.Logger.Debug().
		Int("iter", iter).
		Float64("loss", loss).
		Float64("smoothed", cur).
		Float64("pct_change", pct).
		Msg("loss check")

	if iter >= mo.opts.MinIter && n >= 2 {
		prev := mo.smooth[n-2]
		if math.Abs(cur-prev) < mo.opts.Epsilon*math.Abs(prev) {
			return Converged
		}
		if lb := mo.opts.BetterThanNAgo; lb > 0 && n > lb {
			if cur > mo.smooth[n-1-lb] && cur > prev {
				return Diverged
			}
		}
	}
	if iter >= mo.opts.MaxIter {
		return MaxIterReached
	}
	return Running
}

package hpf

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates invalid hyperparameters or options. It is always
	// raised at construction time, never mid-iteration.
	ErrConfig = errors.New("hpf: invalid configuration")

	// ErrNumericalInstability indicates variational parameters became
	// non-positive or non-finite during a sweep. The offending trial is
	// aborted rather than clamped; retry with Float64 precision.
	ErrNumericalInstability = errors.New("hpf: numerical instability")

	// ErrDimensionMismatch indicates projection input whose gene count
	// disagrees with the source model.
	ErrDimensionMismatch = errors.New("hpf: dimension mismatch")

	// ErrAllTrialsFailed indicates every trial for a factor count failed.
	ErrAllTrialsFailed = errors.New("hpf: all trials failed")
)

// NumericalInstabilityError reports which variational family broke and at
// which iteration. errors.Is(err, ErrNumericalInstability) matches it.
type NumericalInstabilityError struct {
	Family string // "theta", "beta", "xi" or "eta"
	Iter   int
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("hpf: numerical instability in %s at iteration %d", e.Family, e.Iter)
}

func (e *NumericalInstabilityError) Unwrap() error { return ErrNumericalInstability }

// DimensionMismatchError reports the expected and observed gene counts.
// errors.Is(err, ErrDimensionMismatch) matches it.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hpf: model trained on %d genes, input has %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// TrialFailure ties a failed trial index to its cause.
type TrialFailure struct {
	Trial int
	Err   error
}

// AllTrialsFailedError carries every per-trial cause for a factor count K.
// errors.Is(err, ErrAllTrialsFailed) matches it.
type AllTrialsFailedError struct {
	K        int
	Failures []TrialFailure
}

func (e *AllTrialsFailedError) Error() string {
	return fmt.Sprintf("hpf: all %d trials failed for K=%d (first cause: %v)",
		len(e.Failures), e.K, e.Failures[0].Err)
}

func (e *AllTrialsFailedError) Unwrap() error { return ErrAllTrialsFailed }

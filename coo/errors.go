package coo

import "errors"

var (
	// ErrBadShape indicates a non-positive row or column count.
	ErrBadShape = errors.New("coo: matrix dimensions must be positive")
	// ErrBadTriplets indicates rows/cols/vals slices of unequal length or
	// an index outside the declared dimensions.
	ErrBadTriplets = errors.New("coo: malformed triplets")
	// ErrBadCount indicates a negative or non-integral count value.
	ErrBadCount = errors.New("coo: counts must be non-negative integers")
	// ErrBadFormat indicates unparseable text input.
	ErrBadFormat = errors.New("coo: unparseable input line")
)

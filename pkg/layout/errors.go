package layout

import "errors"

var (
	// ErrBadDescriptor indicates a descriptor whose range cannot exist.
	ErrBadDescriptor = errors.New("invalid field descriptor")
	// ErrNegativeCount indicates a repetition count below zero.
	ErrNegativeCount = errors.New("negative repetition count")
	// ErrCycle indicates descriptors that depend on each other.
	ErrCycle = errors.New("field dependency cycle")
	// ErrUnknownField indicates a field missing from the table.
	ErrUnknownField = errors.New("unknown field")
)

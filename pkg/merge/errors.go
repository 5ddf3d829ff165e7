package merge

import "errors"

var (
	// ErrInvalidChunkSize indicates a zero or negative chunk size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrUnreadableInput indicates an input could not be opened or read.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrUnwritableOutput indicates the output could not be created or written.
	ErrUnwritableOutput = errors.New("unwritable output")

	// ErrNoInputs indicates an empty input list.
	ErrNoInputs = errors.New("no inputs to merge")
)

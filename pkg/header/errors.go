package header

import (
	"errors"
	"fmt"

	"github.com/eunmann/bdf-merge/pkg/layout"
)

var (
	// ErrTruncated indicates the source ended before the declared header length.
	ErrTruncated = errors.New("truncated header")
	// ErrRead indicates the source failed while the header was being read.
	ErrRead = errors.New("header read failed")
	// ErrInvalidLength indicates a header length field that cannot be right.
	ErrInvalidLength = errors.New("invalid header length")
	// ErrOutOfRange indicates a field range past the end of the header buffer.
	ErrOutOfRange = errors.New("field outside header buffer")
	// ErrCardinality indicates the wrong number of values for a field.
	ErrCardinality = errors.New("wrong number of values for field")
	// ErrIncompatible indicates two headers that cannot be concatenated.
	ErrIncompatible = errors.New("incompatible headers")
	// ErrType indicates a decoded value of an unexpected Go type.
	ErrType = errors.New("unexpected field value type")
)

// FieldError ties a codec failure to the field being decoded or encoded.
type FieldError struct {
	Field layout.Field
	Op    string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IncompatibleError names the field that differs between two folded headers.
type IncompatibleError struct {
	Field layout.Field
	Left  []any
	Right []any
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("%v: %s does not match (%v != %v)", ErrIncompatible, e.Field, e.Left, e.Right)
}

// Is makes errors.Is(err, ErrIncompatible) match.
func (e *IncompatibleError) Is(target error) bool {
	return target == ErrIncompatible
}

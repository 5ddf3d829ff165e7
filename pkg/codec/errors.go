package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthExceeded indicates a value's encoding does not fit its field width.
	ErrLengthExceeded = errors.New("encoded value exceeds field width")
	// ErrCharset indicates bytes or text outside the codec's character set.
	ErrCharset = errors.New("value outside character set")
	// ErrDecode indicates malformed field bytes.
	ErrDecode = errors.New("malformed field value")
	// ErrType indicates a value of the wrong Go type was passed to Encode.
	ErrType = errors.New("unsupported value type")
)

// LengthError reports an encoding that is Len bytes long for a Width-byte field.
type LengthError struct {
	Value []byte
	Len   int
	Width int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%v: %q is %d bytes, field holds %d", ErrLengthExceeded, e.Value, e.Len, e.Width)
}

// Is makes errors.Is(err, ErrLengthExceeded) match.
func (e *LengthError) Is(target error) bool {
	return target == ErrLengthExceeded
}

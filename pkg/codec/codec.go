// Package codec converts between fixed-width, pad-filled header byte ranges
// and typed values.
//
// Codecs are layered: Int, Date and Time render through Text, which pads
// through Bytes. Every codec is symmetric: Decode(Encode(v, w)) == v for any
// v whose canonical form fits in w bytes and does not contain the pad byte.
package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// DefaultPad is the pad byte used by BDF headers.
const DefaultPad = ' '

// Default calendar layouts (day.month.2-digit-year, hour.minute.second).
const (
	DateLayout = "02.01.06"
	TimeLayout = "15.04.05"
)

// Codec is the untyped view of a codec used by the field layout table.
type Codec interface {
	// Decode strips padding from b and interprets the rest.
	Decode(b []byte) (any, error)
	// Encode renders v and right-pads it to exactly width bytes.
	Encode(v any, width int) ([]byte, error)
}

// Bytes passes raw bytes through, removing and appending Pad.
type Bytes struct {
	Pad byte
}

// NewBytes returns a Bytes codec padding with DefaultPad.
func NewBytes() Bytes {
	return Bytes{Pad: DefaultPad}
}

// Strip removes every occurrence of the pad byte.
func (c Bytes) Strip(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte{c.Pad}, []byte{})
}

// Fill right-pads v with the pad byte to width bytes.
func (c Bytes) Fill(v []byte, width int) ([]byte, error) {
	if len(v) > width {
		return nil, &LengthError{Value: bytes.Clone(v), Len: len(v), Width: width}
	}
	out := make([]byte, width)
	n := copy(out, v)
	for i := n; i < width; i++ {
		out[i] = c.Pad
	}
	return out, nil
}

// Decode returns b with every pad byte removed.
func (c Bytes) Decode(b []byte) (any, error) {
	return c.Strip(b), nil
}

// Encode pads a []byte or string value to width bytes.
func (c Bytes) Encode(v any, width int) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return c.Fill(x, width)
	case string:
		return c.Fill([]byte(x), width)
	default:
		return nil, fmt.Errorf("%w: %T for bytes codec", ErrType, v)
	}
}

// Charset selects how Text validates bytes.
type Charset int

const (
	ASCII Charset = iota
	UTF8
)

func (cs Charset) String() string {
	if cs == UTF8 {
		return "utf-8"
	}
	return "ascii"
}

func (cs Charset) valid(b []byte) bool {
	if cs == UTF8 {
		return utf8.Valid(b)
	}
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Text decodes padded bytes as a string in a fixed character set.
type Text struct {
	Bytes
	Charset Charset
}

// NewText returns an ASCII Text codec padding with DefaultPad.
func NewText() Text {
	return Text{Bytes: NewBytes(), Charset: ASCII}
}

// Parse strips padding and validates the character set.
func (c Text) Parse(b []byte) (string, error) {
	s := c.Strip(b)
	if !c.Charset.valid(s) {
		return "", fmt.Errorf("%w: %q is not %s", ErrCharset, s, c.Charset)
	}
	return string(s), nil
}

// Format validates s and pads it to width bytes. Width counts bytes, so a
// multi-byte UTF-8 rune uses more than one slot.
func (c Text) Format(s string, width int) ([]byte, error) {
	if !c.Charset.valid([]byte(s)) {
		return nil, fmt.Errorf("%w: %q is not %s", ErrCharset, s, c.Charset)
	}
	return c.Fill([]byte(s), width)
}

// Decode returns the stripped text as a string.
func (c Text) Decode(b []byte) (any, error) {
	return c.Parse(b)
}

// Encode pads a string value to width bytes.
func (c Text) Encode(v any, width int) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %T for text codec", ErrType, v)
	}
	return c.Format(s, width)
}

// Int stores a decimal integer as text.
type Int struct {
	Text
}

// NewInt returns an Int codec over NewText.
func NewInt() Int {
	return Int{Text: NewText()}
}

// Parse decodes a decimal integer.
func (c Int) Parse(b []byte) (int, error) {
	s, err := c.Text.Parse(b)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrDecode, s)
	}
	return n, nil
}

// Format renders n in decimal, padded to width bytes.
func (c Int) Format(n int, width int) ([]byte, error) {
	return c.Text.Format(strconv.Itoa(n), width)
}

// Decode returns the value as an int.
func (c Int) Decode(b []byte) (any, error) {
	return c.Parse(b)
}

// Encode renders an int value.
func (c Int) Encode(v any, width int) ([]byte, error) {
	n, ok := v.(int)
	if !ok {
		return nil, fmt.Errorf("%w: %T for int codec", ErrType, v)
	}
	return c.Format(n, width)
}

// Calendar stores a time.Time as text using a Go reference layout. Date and
// time-of-day fields are both Calendar codecs with different layouts.
//
// Values are wall-clock readings: the location is not stored, and decoded
// values are in UTC.
type Calendar struct {
	Text
	Layout string
}

// NewDate returns a Calendar codec using DateLayout.
func NewDate() Calendar {
	return Calendar{Text: NewText(), Layout: DateLayout}
}

// NewTime returns a Calendar codec using TimeLayout. Decoded values carry
// the zero date.
func NewTime() Calendar {
	return Calendar{Text: NewText(), Layout: TimeLayout}
}

// Parse decodes b with Layout. The result is in UTC.
func (c Calendar) Parse(b []byte) (time.Time, error) {
	s, err := c.Text.Parse(b)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(c.Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %q", ErrDecode, s, c.Layout)
	}
	return t, nil
}

// Format renders the wall clock of t with Layout, ignoring its location.
func (c Calendar) Format(t time.Time, width int) ([]byte, error) {
	return c.Text.Format(t.Format(c.Layout), width)
}

// Decode returns the value as a time.Time.
func (c Calendar) Decode(b []byte) (any, error) {
	return c.Parse(b)
}

// Encode renders a time.Time value.
func (c Calendar) Encode(v any, width int) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: %T for calendar codec", ErrType, v)
	}
	return c.Format(t, width)
}

// Equal compares two decoded values. Times compare by wall clock, so the
// same reading in different locations is equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && sameWallClock(x, y)
	default:
		return a == b
	}
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ah, amin, as := a.Clock()
	bh, bmin, bs := b.Clock()
	return ay == by && am == bm && ad == bd &&
		ah == bh && amin == bmin && as == bs &&
		a.Nanosecond() == b.Nanosecond()
}

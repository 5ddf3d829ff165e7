// Package header reads, edits and concatenates BDF headers.
//
// A Header owns an in-memory copy of the header bytes. Fields are read and
// written by name through a layout.Table; writes replace exactly the bytes
// of the field and never change the buffer length.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eunmann/bdf-merge/pkg/codec"
	"github.com/eunmann/bdf-merge/pkg/layout"
)

// MaxBytes bounds the header length accepted by Load: the channel count
// field holds at most four digits.
const MaxBytes = layout.FixedSize + 9999*layout.ChannelBlockSize

// Header is a mutable BDF header.
type Header struct {
	table  *layout.Table
	data   []byte
	ranges map[layout.Field][]layout.Range
}

// New wraps a copy of data using table.
func New(table *layout.Table, data []byte) *Header {
	return &Header{
		table: table,
		data:  bytes.Clone(data),
	}
}

// Load reads a BDF header from r.
func Load(r io.Reader) (*Header, error) {
	return LoadTable(layout.BDF(), r)
}

// LoadTable reads a header from r. It first reads up to the end of the
// header-length field, decodes the full length, then reads the remainder.
func LoadTable(table *layout.Table, r io.Reader) (*Header, error) {
	prefix := table.Prefix()
	buf := make([]byte, prefix)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, readError(err, fmt.Sprintf("read first %d bytes", prefix))
	}

	h := &Header{table: table, data: buf}
	n, err := h.Int(table.LengthField())
	if err != nil {
		return nil, err
	}
	if n < prefix || n > MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, n)
	}

	full := make([]byte, n)
	copy(full, buf)
	if _, err := io.ReadFull(r, full[prefix:]); err != nil {
		return nil, readError(err, fmt.Sprintf("read %d of %d bytes", prefix, n))
	}
	h.data = full
	h.ranges = nil
	return h, nil
}

// readError tags a short read as ErrTruncated and anything else as ErrRead.
func readError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %w", ErrTruncated, what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRead, what, err)
}

// LoadFile reads the BDF header at the start of path.
func LoadFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load header %s: %w", path, err)
	}
	return h, nil
}

// Table returns the layout the header is read through.
func (h *Header) Table() *layout.Table {
	return h.table
}

// Len returns the size of the header buffer in bytes.
func (h *Header) Len() int {
	return len(h.data)
}

// Bytes returns a copy of the header buffer.
func (h *Header) Bytes() []byte {
	return bytes.Clone(h.data)
}

// WriteTo writes the header bytes to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.data)
	return int64(n), err
}

// Clone returns an independent copy of h.
func (h *Header) Clone() *Header {
	return New(h.table, h.data)
}

// DataOffset returns the file offset of the first data record, which is the
// value of the header-length field.
func (h *Header) DataOffset() (int64, error) {
	n, err := h.Int(h.table.LengthField())
	return int64(n), err
}

// RecordSize returns the size in bytes of one data record.
func (h *Header) RecordSize(bytesPerSample int) (int64, error) {
	samples, err := h.Ints(layout.SamplesPerRecord)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range samples {
		total += int64(s)
	}
	return total * int64(bytesPerSample), nil
}

func (h *Header) descriptor(f layout.Field) (layout.Descriptor, error) {
	d, ok := h.table.Lookup(f)
	if !ok {
		return layout.Descriptor{}, fmt.Errorf("%w: %s", layout.ErrUnknownField, f)
	}
	return d, nil
}

// resolve returns the byte ranges of f, decoding dependencies as needed.
// Results are cached until the next write.
func (h *Header) resolve(f layout.Field) ([]layout.Range, error) {
	if r, ok := h.ranges[f]; ok {
		return r, nil
	}
	d, err := h.descriptor(f)
	if err != nil {
		return nil, err
	}
	ranges, err := d.Resolve(h.Int)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", f, err)
	}
	for _, r := range ranges {
		if r.End > len(h.data) {
			return nil, fmt.Errorf("%w: %s needs bytes [%d, %d) of %d", ErrOutOfRange, f, r.Start, r.End, len(h.data))
		}
	}
	if h.ranges == nil {
		h.ranges = make(map[layout.Field][]layout.Range)
	}
	h.ranges[f] = ranges
	return ranges, nil
}

// Values decodes every repetition of f. Non-repeating fields yield one value.
func (h *Header) Values(f layout.Field) ([]any, error) {
	d, err := h.descriptor(f)
	if err != nil {
		return nil, err
	}
	ranges, err := h.resolve(f)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(ranges))
	for i, r := range ranges {
		v, err := d.Codec.Decode(h.data[r.Start:r.End])
		if err != nil {
			return nil, &FieldError{Field: f, Op: "decode", Err: err}
		}
		out[i] = v
	}
	return out, nil
}

// Get decodes f. Repeating fields return []any with one element per
// repetition; other fields return the single value.
func (h *Header) Get(f layout.Field) (any, error) {
	d, err := h.descriptor(f)
	if err != nil {
		return nil, err
	}
	vals, err := h.Values(f)
	if err != nil {
		return nil, err
	}
	if d.Repeated() {
		return vals, nil
	}
	return vals[0], nil
}

// Set encodes v into f. Repeating fields take a slice with one value per
// repetition. Either every value is written or none is.
func (h *Header) Set(f layout.Field, v any) error {
	d, err := h.descriptor(f)
	if err != nil {
		return err
	}
	if !d.Repeated() {
		return h.SetValues(f, []any{v})
	}
	vals, ok := anySlice(v)
	if !ok {
		return fmt.Errorf("%w: %s takes a slice, got %T", ErrCardinality, f, v)
	}
	return h.SetValues(f, vals)
}

// SetValues encodes one value per repetition of f.
func (h *Header) SetValues(f layout.Field, vals []any) error {
	d, err := h.descriptor(f)
	if err != nil {
		return err
	}
	ranges, err := h.resolve(f)
	if err != nil {
		return err
	}
	if len(vals) != len(ranges) {
		return fmt.Errorf("%w: %s has %d slots, got %d values", ErrCardinality, f, len(ranges), len(vals))
	}

	encoded := make([][]byte, len(vals))
	for i, v := range vals {
		b, err := d.Codec.Encode(v, ranges[i].Width())
		if err != nil {
			return &FieldError{Field: f, Op: "encode", Err: err}
		}
		encoded[i] = b
	}
	for i, r := range ranges {
		copy(h.data[r.Start:r.End], encoded[i])
	}
	h.ranges = nil
	return nil
}

// Int decodes a non-repeating integer field.
func (h *Header) Int(f layout.Field) (int, error) {
	return Scalar[int](h, f)
}

// Ints decodes every repetition of an integer field.
func (h *Header) Ints(f layout.Field) ([]int, error) {
	return Sequence[int](h, f)
}

// Strings decodes every repetition of a text field.
func (h *Header) Strings(f layout.Field) ([]string, error) {
	return Sequence[string](h, f)
}

// Scalar decodes a non-repeating field as T.
func Scalar[T any](h *Header, f layout.Field) (T, error) {
	var zero T
	vals, err := h.Values(f)
	if err != nil {
		return zero, err
	}
	if len(vals) != 1 {
		return zero, fmt.Errorf("%w: %s has %d values", ErrCardinality, f, len(vals))
	}
	v, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %T", ErrType, f, vals[0], zero)
	}
	return v, nil
}

// Sequence decodes every repetition of f as T.
func Sequence[T any](h *Header, f layout.Field) ([]T, error) {
	vals, err := h.Values(f)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(vals))
	for i, v := range vals {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, not %T", ErrType, f, i, v, t)
		}
		out[i] = t
	}
	return out, nil
}

// SetSequence encodes one value per repetition of f.
func SetSequence[T any](h *Header, f layout.Field, vs []T) error {
	vals := make([]any, len(vs))
	for i, v := range vs {
		vals[i] = v
	}
	return h.SetValues(f, vals)
}

func anySlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []int:
		return toAny(x), true
	case []string:
		return toAny(x), true
	case []time.Time:
		return toAny(x), true
	case [][]byte:
		return toAny(x), true
	default:
		return nil, false
	}
}

func toAny[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// Equal reports whether every field of the table decodes to the same value
// in h and other. A field that fails to decode on either side is unequal.
func (h *Header) Equal(other *Header) bool {
	if h == other {
		return true
	}
	for _, f := range h.table.Fields() {
		a, err := h.Values(f)
		if err != nil {
			return false
		}
		b, err := other.Values(f)
		if err != nil {
			return false
		}
		if !valuesEqual(a, b) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !codec.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

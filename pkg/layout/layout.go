// Package layout describes where each BDF header field lives.
//
// A field's byte range is either fixed or computed from another field's
// decoded value. The per-channel block after the 256-byte fixed part starts
// at 256 + channels*stride and repeats once per channel, so resolving any
// per-channel field first requires decoding ChannelCount.
package layout

import (
	"fmt"

	"github.com/eunmann/bdf-merge/pkg/codec"
)

// Field identifies a header field.
type Field int

const (
	IdentificationCode Field = iota
	SubjectID
	RecordingID
	StartDate
	StartTime
	HeaderBytes
	FormatVersion
	RecordCount
	RecordDuration
	ChannelCount
	ChannelLabels
	TransducerTypes
	PhysicalDimensions
	PhysicalMinimum
	PhysicalMaximum
	DigitalMinimum
	DigitalMaximum
	Prefiltering
	SamplesPerRecord
	Reserved

	numFields
)

// NumFields is the number of fields in the table.
const NumFields = int(numFields)

// FixedSize is the size of the part of the header that does not depend on
// the channel count.
const FixedSize = 256

// ChannelBlockSize is the header size contributed by each channel.
const ChannelBlockSize = 256

var fieldNames = [numFields]string{
	IdentificationCode: "identification_code",
	SubjectID:          "subject_id",
	RecordingID:        "recording_id",
	StartDate:          "start_date",
	StartTime:          "start_time",
	HeaderBytes:        "header_bytes",
	FormatVersion:      "format_version",
	RecordCount:        "record_count",
	RecordDuration:     "record_duration",
	ChannelCount:       "channel_count",
	ChannelLabels:      "channel_labels",
	TransducerTypes:    "transducer_types",
	PhysicalDimensions: "physical_dimensions",
	PhysicalMinimum:    "physical_minimum",
	PhysicalMaximum:    "physical_maximum",
	DigitalMinimum:     "digital_minimum",
	DigitalMaximum:     "digital_maximum",
	Prefiltering:       "prefiltering",
	SamplesPerRecord:   "samples_per_record",
	Reserved:           "reserved",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Valid reports whether f names a field of the table.
func (f Field) Valid() bool {
	return f >= 0 && f < numFields
}

// Fields returns every field in table order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// ParseField looks a field up by name.
func ParseField(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// Start is the first byte of a field: Offset, plus Stride times the decoded
// value of Ref when HasRef is set.
type Start struct {
	Offset int
	Ref    Field
	Stride int
	HasRef bool
}

// End closes a field's range. Without Repeat the range ends at the literal
// offset End. With Repeat the field is Width bytes long and repeats once per
// decoded value of Count, each repetition directly after the previous one.
type End struct {
	End    int
	Count  Field
	Width  int
	Repeat bool
}

// Descriptor locates one field and binds its codec.
type Descriptor struct {
	Field Field
	Start Start
	End   End
	Codec codec.Codec
}

// Repeated reports whether the field yields one value per repetition.
func (d Descriptor) Repeated() bool {
	return d.End.Repeat
}

// Deps returns the fields that must be decoded before d can be resolved.
func (d Descriptor) Deps() []Field {
	var deps []Field
	if d.Start.HasRef {
		deps = append(deps, d.Start.Ref)
	}
	if d.End.Repeat && (!d.Start.HasRef || d.End.Count != d.Start.Ref) {
		deps = append(deps, d.End.Count)
	}
	return deps
}

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int
	End   int
}

// Width returns the number of bytes in r.
func (r Range) Width() int {
	return r.End - r.Start
}

// Fixed describes a field at literal offsets [start, end).
func Fixed(f Field, start, end int, c codec.Codec) Descriptor {
	return Descriptor{
		Field: f,
		Start: Start{Offset: start},
		End:   End{End: end},
		Codec: c,
	}
}

// PerChannel describes a field of the channel block. before is the summed
// width of the per-channel fields that precede it; each channel gets width
// bytes.
func PerChannel(f Field, before, width int, c codec.Codec) Descriptor {
	return Descriptor{
		Field: f,
		Start: Start{Offset: FixedSize, Ref: ChannelCount, Stride: before, HasRef: before > 0},
		End:   End{Count: ChannelCount, Width: width, Repeat: true},
		Codec: c,
	}
}

// Resolve computes the byte ranges of d. value decodes an integer field of
// the same header; it is only called for d's dependencies.
func (d Descriptor) Resolve(value func(Field) (int, error)) ([]Range, error) {
	start := d.Start.Offset
	if d.Start.HasRef {
		n, err := value(d.Start.Ref)
		if err != nil {
			return nil, err
		}
		start += n * d.Start.Stride
	}

	if !d.End.Repeat {
		if d.End.End < start {
			return nil, fmt.Errorf("%w: %s ends at %d before start %d", ErrBadDescriptor, d.Field, d.End.End, start)
		}
		return []Range{{Start: start, End: d.End.End}}, nil
	}

	count, err := value(d.End.Count)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %s repeats %d times", ErrNegativeCount, d.Field, count)
	}
	ranges := make([]Range, count)
	for i := range ranges {
		ranges[i] = Range{Start: start + i*d.End.Width, End: start + (i+1)*d.End.Width}
	}
	return ranges, nil
}

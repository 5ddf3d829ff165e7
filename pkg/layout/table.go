package layout

import (
	"fmt"

	"github.com/eunmann/bdf-merge/pkg/codec"
)

// Table maps every Field to its descriptor.
type Table struct {
	desc   [numFields]Descriptor
	set    [numFields]bool
	length Field
	order  []Field
}

// NewTable builds a table. length names the header-length field, which must
// have a fixed range because it is decoded before the rest of the header is
// read.
func NewTable(length Field, descs ...Descriptor) (*Table, error) {
	t := &Table{length: length}
	for _, d := range descs {
		if !d.Field.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownField, int(d.Field))
		}
		if t.set[d.Field] {
			return nil, fmt.Errorf("%w: %s described twice", ErrBadDescriptor, d.Field)
		}
		if d.Codec == nil {
			return nil, fmt.Errorf("%w: %s has no codec", ErrBadDescriptor, d.Field)
		}
		t.desc[d.Field] = d
		t.set[d.Field] = true
	}

	ld, ok := t.Lookup(length)
	if !ok {
		return nil, fmt.Errorf("%w: header length field %s", ErrUnknownField, length)
	}
	if ld.Start.HasRef || ld.End.Repeat {
		return nil, fmt.Errorf("%w: header length field %s must have a fixed range", ErrBadDescriptor, length)
	}

	order, err := t.topoOrder()
	if err != nil {
		return nil, err
	}
	t.order = order
	return t, nil
}

// Lookup returns the descriptor of f.
func (t *Table) Lookup(f Field) (Descriptor, bool) {
	if !f.Valid() || !t.set[f] {
		return Descriptor{}, false
	}
	return t.desc[f], true
}

// LengthField returns the header-length field.
func (t *Table) LengthField() Field {
	return t.length
}

// Prefix returns the number of bytes that must be read to decode the
// header-length field.
func (t *Table) Prefix() int {
	return t.desc[t.length].End.End
}

// Fields returns the described fields in dependency order: every field
// appears after the fields its range depends on.
func (t *Table) Fields() []Field {
	return append([]Field(nil), t.order...)
}

func (t *Table) topoOrder() ([]Field, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	var state [numFields]int
	order := make([]Field, 0, numFields)

	var visit func(f Field) error
	visit = func(f Field) error {
		switch state[f] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: through %s", ErrCycle, f)
		}
		state[f] = visiting
		for _, dep := range t.desc[f].Deps() {
			if !t.set[dep] {
				return fmt.Errorf("%w: %s depends on undescribed %s", ErrUnknownField, f, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[f] = done
		order = append(order, f)
		return nil
	}

	for f := Field(0); f < numFields; f++ {
		if !t.set[f] {
			continue
		}
		if err := visit(f); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// BDF returns the BioSemi Data Format header layout.
func BDF() *Table {
	text := codec.NewText()
	num := codec.NewInt()

	t, err := NewTable(HeaderBytes,
		Fixed(IdentificationCode, 0, 8, codec.NewBytes()),
		Fixed(SubjectID, 8, 88, text),
		Fixed(RecordingID, 88, 168, text),
		Fixed(StartDate, 168, 176, codec.NewDate()),
		Fixed(StartTime, 176, 184, codec.NewTime()),
		Fixed(HeaderBytes, 184, 192, num),
		Fixed(FormatVersion, 192, 236, text),
		Fixed(RecordCount, 236, 244, num),
		Fixed(RecordDuration, 244, 252, num),
		Fixed(ChannelCount, 252, 256, num),
		PerChannel(ChannelLabels, 0, 16, text),
		PerChannel(TransducerTypes, 16, 80, text),
		PerChannel(PhysicalDimensions, 96, 8, text),
		PerChannel(PhysicalMinimum, 104, 8, num),
		PerChannel(PhysicalMaximum, 112, 8, num),
		PerChannel(DigitalMinimum, 120, 8, num),
		PerChannel(DigitalMaximum, 128, 8, num),
		PerChannel(Prefiltering, 136, 80, text),
		PerChannel(SamplesPerRecord, 216, 8, num),
		PerChannel(Reserved, 224, 32, text),
	)
	if err != nil {
		panic(fmt.Sprintf("layout: invalid BDF table: %v", err))
	}
	return t
}

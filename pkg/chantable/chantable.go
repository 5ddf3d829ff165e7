// Package chantable exports the per-channel metadata of a BDF header as a
// Parquet table, one row per channel.
package chantable

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/bdf-merge/pkg/fileutil"
	"github.com/eunmann/bdf-merge/pkg/header"
	"github.com/eunmann/bdf-merge/pkg/layout"
)

// Channel is one row of the table.
type Channel struct {
	Index            int32  `parquet:"index"`
	Label            string `parquet:"label"`
	Transducer       string `parquet:"transducer"`
	Dimension        string `parquet:"dimension"`
	PhysicalMin      int64  `parquet:"physical_min"`
	PhysicalMax      int64  `parquet:"physical_max"`
	DigitalMin       int64  `parquet:"digital_min"`
	DigitalMax       int64  `parquet:"digital_max"`
	Prefilter        string `parquet:"prefilter"`
	SamplesPerRecord int32  `parquet:"samples_per_record"`
	Reserved         string `parquet:"reserved,optional"`
}

// FromHeader builds one Channel per channel of h.
func FromHeader(h *header.Header) ([]Channel, error) {
	labels, err := h.Strings(layout.ChannelLabels)
	if err != nil {
		return nil, err
	}
	transducers, err := h.Strings(layout.TransducerTypes)
	if err != nil {
		return nil, err
	}
	dims, err := h.Strings(layout.PhysicalDimensions)
	if err != nil {
		return nil, err
	}
	prefilter, err := h.Strings(layout.Prefiltering)
	if err != nil {
		return nil, err
	}
	reserved, err := h.Strings(layout.Reserved)
	if err != nil {
		return nil, err
	}

	ints := make(map[layout.Field][]int, 5)
	for _, f := range []layout.Field{
		layout.PhysicalMinimum, layout.PhysicalMaximum,
		layout.DigitalMinimum, layout.DigitalMaximum,
		layout.SamplesPerRecord,
	} {
		vs, err := h.Ints(f)
		if err != nil {
			return nil, err
		}
		ints[f] = vs
	}

	out := make([]Channel, len(labels))
	for i := range out {
		out[i] = Channel{
			Index:            int32(i),
			Label:            labels[i],
			Transducer:       transducers[i],
			Dimension:        dims[i],
			PhysicalMin:      int64(ints[layout.PhysicalMinimum][i]),
			PhysicalMax:      int64(ints[layout.PhysicalMaximum][i]),
			DigitalMin:       int64(ints[layout.DigitalMinimum][i]),
			DigitalMax:       int64(ints[layout.DigitalMaximum][i]),
			Prefilter:        prefilter[i],
			SamplesPerRecord: int32(ints[layout.SamplesPerRecord][i]),
			Reserved:         reserved[i],
		}
	}
	return out, nil
}

// Write encodes channels as a Parquet file to w.
func Write(w io.Writer, channels []Channel) error {
	pw := parquet.NewGenericWriter[Channel](w)
	if _, err := pw.Write(channels); err != nil {
		pw.Close()
		return fmt.Errorf("write channel rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteFile writes channels to path through a tmp file.
func WriteFile(path string, channels []Channel) error {
	return fileutil.WriteTmpThenMove(path, func(f *os.File) error {
		return Write(f, channels)
	})
}

// Read decodes a table written by Write.
func Read(r io.ReaderAt, size int64) ([]Channel, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	if err := checkSchema(file.Schema()); err != nil {
		return nil, err
	}

	rows, err := parquet.Read[Channel](r, size)
	if err != nil {
		return nil, fmt.Errorf("read channel rows: %w", err)
	}
	return rows, nil
}

func checkSchema(schema *parquet.Schema) error {
	have := make(map[string]bool)
	for _, field := range schema.Fields() {
		have[field.Name()] = true
	}
	for _, name := range []string{"label", "samples_per_record"} {
		if !have[name] {
			return fmt.Errorf("not a channel table: missing column %q", name)
		}
	}
	return nil
}

// ReadFile reads a table from path.
func ReadFile(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

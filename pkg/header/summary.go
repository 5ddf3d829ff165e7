package header

import (
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/bdf-merge/pkg/layout"
)

// Summary holds every decoded field of a header.
type Summary struct {
	IdentificationCode []byte
	SubjectID          string
	RecordingID        string
	StartDate          time.Time
	StartTime          time.Time
	HeaderBytes        int
	FormatVersion      string
	RecordCount        int
	RecordDuration     int
	ChannelCount       int
	ChannelLabels      []string
	TransducerTypes    []string
	PhysicalDimensions []string
	PhysicalMinimum    []int
	PhysicalMaximum    []int
	DigitalMinimum     []int
	DigitalMaximum     []int
	Prefiltering       []string
	SamplesPerRecord   []int
	Reserved           []string
}

// Summarize decodes every field of h.
func (h *Header) Summarize() (Summary, error) {
	var (
		s    Summary
		errs []error
	)
	scalar := func(f layout.Field, dst any) {
		var err error
		switch p := dst.(type) {
		case *[]byte:
			*p, err = Scalar[[]byte](h, f)
		case *string:
			*p, err = Scalar[string](h, f)
		case *int:
			*p, err = Scalar[int](h, f)
		case *time.Time:
			*p, err = Scalar[time.Time](h, f)
		}
		errs = append(errs, err)
	}
	strs := func(f layout.Field, dst *[]string) {
		var err error
		*dst, err = h.Strings(f)
		errs = append(errs, err)
	}
	ints := func(f layout.Field, dst *[]int) {
		var err error
		*dst, err = h.Ints(f)
		errs = append(errs, err)
	}

	scalar(layout.IdentificationCode, &s.IdentificationCode)
	scalar(layout.SubjectID, &s.SubjectID)
	scalar(layout.RecordingID, &s.RecordingID)
	scalar(layout.StartDate, &s.StartDate)
	scalar(layout.StartTime, &s.StartTime)
	scalar(layout.HeaderBytes, &s.HeaderBytes)
	scalar(layout.FormatVersion, &s.FormatVersion)
	scalar(layout.RecordCount, &s.RecordCount)
	scalar(layout.RecordDuration, &s.RecordDuration)
	scalar(layout.ChannelCount, &s.ChannelCount)
	strs(layout.ChannelLabels, &s.ChannelLabels)
	strs(layout.TransducerTypes, &s.TransducerTypes)
	strs(layout.PhysicalDimensions, &s.PhysicalDimensions)
	ints(layout.PhysicalMinimum, &s.PhysicalMinimum)
	ints(layout.PhysicalMaximum, &s.PhysicalMaximum)
	ints(layout.DigitalMinimum, &s.DigitalMinimum)
	ints(layout.DigitalMaximum, &s.DigitalMaximum)
	strs(layout.Prefiltering, &s.Prefiltering)
	ints(layout.SamplesPerRecord, &s.SamplesPerRecord)
	strs(layout.Reserved, &s.Reserved)

	return s, errors.Join(errs...)
}

// Validate checks that the header is internally consistent: the length
// field matches the buffer and the channel count, and every field decodes.
func (h *Header) Validate() error {
	n, err := h.Int(layout.HeaderBytes)
	if err != nil {
		return err
	}
	if n != len(h.data) {
		return fmt.Errorf("%w: field says %d, buffer holds %d", ErrInvalidLength, n, len(h.data))
	}
	channels, err := h.Int(layout.ChannelCount)
	if err != nil {
		return err
	}
	if want := layout.FixedSize + channels*layout.ChannelBlockSize; n != want {
		return fmt.Errorf("%w: %d channels need %d bytes, header has %d", ErrInvalidLength, channels, want, n)
	}
	_, err = h.Summarize()
	return err
}

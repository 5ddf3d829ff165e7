package header

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/eunmann/bdf-merge/internal/bdftest"
	"github.com/eunmann/bdf-merge/pkg/codec"
	"github.com/eunmann/bdf-merge/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, f bdftest.File) *Header {
	t.Helper()
	h, err := Load(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)
	return h
}

func repeat[T any](v T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLoadReadsOnlyHeader(t *testing.T) {
	f := bdftest.Newtest17(256)
	r := bytes.NewReader(f.Bytes())
	h, err := Load(r)
	require.NoError(t, err)

	assert.Equal(t, 4608, h.Len())
	assert.Equal(t, len(f.Data()), r.Len(), "reader should sit at the first data record")

	off, err := h.DataOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(4608), off)
}

func TestAttributes(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	s, err := h.Summarize()
	require.NoError(t, err)

	assert.Equal(t, []byte("\xffBIOSEMI"), s.IdentificationCode)
	assert.Equal(t, "", s.SubjectID)
	assert.Equal(t, "", s.RecordingID)
	assert.Equal(t, time.Date(2001, 11, 5, 0, 0, 0, 0, time.UTC), s.StartDate)
	assert.Equal(t, []int{19, 38, 42}, []int{s.StartTime.Hour(), s.StartTime.Minute(), s.StartTime.Second()})
	assert.Equal(t, 4608, s.HeaderBytes)
	assert.Equal(t, "24BIT", s.FormatVersion)
	assert.Equal(t, 60, s.RecordCount)
	assert.Equal(t, 1, s.RecordDuration)
	assert.Equal(t, 17, s.ChannelCount)

	labels := []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "A9",
		"A10", "A11", "A12", "A13", "A14", "A15", "A16", "Status"}
	assert.Equal(t, labels, s.ChannelLabels)
	assert.Equal(t, append(repeat("ActiveElectrode,pintype", 16), "TriggersandStatus"), s.TransducerTypes)
	assert.Equal(t, append(repeat("uV", 16), "Boolean"), s.PhysicalDimensions)
	assert.Equal(t, append(repeat(-262144, 16), -8388608), s.PhysicalMinimum)
	assert.Equal(t, append(repeat(262144, 16), 8388607), s.PhysicalMaximum)
	assert.Equal(t, repeat(-8388608, 17), s.DigitalMinimum)
	assert.Equal(t, repeat(8388607, 17), s.DigitalMaximum)
	assert.Equal(t, append(repeat("HP:DC;LP:113Hz", 16), "Nofiltering"), s.Prefiltering)
	assert.Equal(t, repeat(256, 17), s.SamplesPerRecord)
	assert.Equal(t, repeat("Reserved", 17), s.Reserved)

	require.NoError(t, h.Validate())
}

func TestGetShapes(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))

	v, err := h.Get(layout.RecordCount)
	require.NoError(t, err)
	assert.Equal(t, 60, v)

	v, err = h.Get(layout.SamplesPerRecord)
	require.NoError(t, err)
	require.IsType(t, []any{}, v)
	assert.Len(t, v, 17)
}

func TestSingleChannelStaysSequence(t *testing.T) {
	f := bdftest.Newtest17(256)
	f.Labels, f.Transducers, f.Dimensions = f.Labels[:1], f.Transducers[:1], f.Dimensions[:1]
	f.PhysMin, f.PhysMax, f.DigMin, f.DigMax = f.PhysMin[:1], f.PhysMax[:1], f.DigMin[:1], f.DigMax[:1]
	f.Prefilter, f.Samples, f.Reserved = f.Prefilter[:1], f.Samples[:1], f.Reserved[:1]
	h := load(t, f)

	v, err := h.Get(layout.ChannelLabels)
	require.NoError(t, err)
	assert.Equal(t, []any{"A1"}, v)
}

func TestSetScalar(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	before := h.Bytes()

	require.NoError(t, h.Set(layout.RecordCount, 12345))
	n, err := h.Int(layout.RecordCount)
	require.NoError(t, err)
	assert.Equal(t, 12345, n)

	after := h.Bytes()
	require.Len(t, after, len(before))
	assert.Equal(t, []byte("12345   "), after[236:244])
	assert.Equal(t, before[:236], after[:236])
	assert.Equal(t, before[244:], after[244:])
}

func TestSetSequence(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	before := h.Bytes()

	maxes := repeat(99999999, 17)
	require.NoError(t, SetSequence(h, layout.PhysicalMaximum, maxes))
	got, err := h.Ints(layout.PhysicalMaximum)
	require.NoError(t, err)
	assert.Equal(t, maxes, got)

	// Neighbouring per-channel fields are untouched.
	for _, f := range []layout.Field{layout.PhysicalMinimum, layout.DigitalMinimum, layout.PhysicalDimensions} {
		a, err := New(layout.BDF(), before).Values(f)
		require.NoError(t, err)
		b, err := h.Values(f)
		require.NoError(t, err)
		assert.Equal(t, a, b, "%s", f)
	}

	require.NoError(t, h.Set(layout.DigitalMinimum, repeat(-1, 17)))
	mins, err := h.Ints(layout.DigitalMinimum)
	require.NoError(t, err)
	assert.Equal(t, repeat(-1, 17), mins)
}

func TestSetLengthExceededWritesNothing(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	before := h.Bytes()

	vals := repeat(1, 17)
	vals[16] = 123456789
	err := SetSequence(h, layout.DigitalMaximum, vals)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrLengthExceeded)

	var ferr *FieldError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, layout.DigitalMaximum, ferr.Field)
	assert.Equal(t, before, h.Bytes())
}

func TestSetCardinality(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	assert.ErrorIs(t, SetSequence(h, layout.SamplesPerRecord, []int{1, 2}), ErrCardinality)
	assert.ErrorIs(t, h.Set(layout.SamplesPerRecord, 1), ErrCardinality)
}

func TestDecodeErrorNamesField(t *testing.T) {
	f := bdftest.Newtest17(256)
	b := f.Bytes()
	copy(b[236:244], "sixty   ")
	h, err := Load(bytes.NewReader(b))
	require.NoError(t, err)

	_, err = h.Int(layout.RecordCount)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrDecode)
	assert.Contains(t, err.Error(), "record_count")
}

func TestLoadTruncated(t *testing.T) {
	f := bdftest.Newtest17(256)
	b := f.Header()

	_, err := Load(bytes.NewReader(b[:100]))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Load(bytes.NewReader(b[:1000]))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.NotErrorIs(t, err, ErrRead)
}

func TestLoadReadFailure(t *testing.T) {
	b := bdftest.Newtest17(256).Header()
	boom := errors.New("connection reset")

	for _, n := range []int{0, 100, 1000} {
		_, err := Load(io.MultiReader(bytes.NewReader(b[:n]), iotest.ErrReader(boom)))
		require.ErrorIs(t, err, ErrRead, "after %d bytes", n)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrTruncated)
	}
}

func TestLoadInvalidLength(t *testing.T) {
	b := bdftest.Newtest17(256).Header()
	copy(b[184:192], "12      ")
	_, err := Load(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrInvalidLength)

	copy(b[184:192], "99999999")
	_, err = Load(bytes.NewReader(b))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestOutOfRangeAfterChannelCountChange(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	require.NoError(t, h.Set(layout.ChannelCount, 18))
	_, err := h.Values(layout.Reserved)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Error(t, h.Validate())
}

func TestValidateLengthMismatch(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	require.NoError(t, h.Set(layout.HeaderBytes, 4352))
	assert.ErrorIs(t, h.Validate(), ErrInvalidLength)
}

func TestRecordSize(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	n, err := h.RecordSize(bdftest.BytesPerSample)
	require.NoError(t, err)
	assert.Equal(t, int64(17*256*3), n)
}

func TestWriteTo(t *testing.T) {
	f := bdftest.Newtest17(256)
	h := load(t, f)
	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(4608), n)
	assert.Equal(t, f.Header(), buf.Bytes())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := bdftest.Newtest17(2048).Write(t, dir, "in.bdf")
	h, err := LoadFile(path)
	require.NoError(t, err)
	samples, err := h.Ints(layout.SamplesPerRecord)
	require.NoError(t, err)
	assert.Equal(t, repeat(2048, 17), samples)

	_, err = LoadFile(dir + "/missing.bdf")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing.bdf"))
}

func TestEquality(t *testing.T) {
	h256 := load(t, bdftest.Newtest17(256))
	h2048 := load(t, bdftest.Newtest17(2048))

	assert.True(t, h256.Equal(h256))
	assert.True(t, h256.Equal(h256.Clone()))
	assert.False(t, h256.Equal(h2048))

	fewer := bdftest.Newtest17(256)
	fewer.Labels = fewer.Labels[:16]
	fewer.Transducers, fewer.Dimensions = fewer.Transducers[:16], fewer.Dimensions[:16]
	fewer.PhysMin, fewer.PhysMax = fewer.PhysMin[:16], fewer.PhysMax[:16]
	fewer.DigMin, fewer.DigMax = fewer.DigMin[:16], fewer.DigMax[:16]
	fewer.Prefilter, fewer.Samples, fewer.Reserved = fewer.Prefilter[:16], fewer.Samples[:16], fewer.Reserved[:16]
	assert.False(t, h256.Equal(load(t, fewer)))
}

func TestCloneIsIndependent(t *testing.T) {
	h := load(t, bdftest.Newtest17(256))
	c := h.Clone()
	require.NoError(t, c.Set(layout.RecordCount, 1))
	n, err := h.Int(layout.RecordCount)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}

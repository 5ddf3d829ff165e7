package chantable

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/bdf-merge/internal/bdftest"
	"github.com/eunmann/bdf-merge/pkg/header"
)

func newtest17Channels(t *testing.T) []Channel {
	t.Helper()
	h, err := header.Load(bytes.NewReader(bdftest.Newtest17(256).Header()))
	require.NoError(t, err)
	channels, err := FromHeader(h)
	require.NoError(t, err)
	return channels
}

func TestFromHeader(t *testing.T) {
	channels := newtest17Channels(t)
	require.Len(t, channels, 17)

	assert.Equal(t, Channel{
		Index:            0,
		Label:            "A1",
		Transducer:       "ActiveElectrode,pintype",
		Dimension:        "uV",
		PhysicalMin:      -262144,
		PhysicalMax:      262144,
		DigitalMin:       -8388608,
		DigitalMax:       8388607,
		Prefilter:        "HP:DC;LP:113Hz",
		SamplesPerRecord: 256,
		Reserved:         "Reserved",
	}, channels[0])

	status := channels[16]
	assert.Equal(t, int32(16), status.Index)
	assert.Equal(t, "Status", status.Label)
	assert.Equal(t, "Boolean", status.Dimension)
	assert.Equal(t, int64(-8388608), status.PhysicalMin)
	assert.Equal(t, int64(8388607), status.PhysicalMax)
}

func TestWriteRead(t *testing.T) {
	channels := newtest17Channels(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, channels))

	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, channels, got)
}

func TestWriteFileReadFile(t *testing.T) {
	channels := newtest17Channels(t)
	path := filepath.Join(t.TempDir(), "tables", "channels.parquet")

	require.NoError(t, WriteFile(path, channels))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, channels, got)
}

func TestReadRejectsOtherTables(t *testing.T) {
	type other struct {
		Key  string `parquet:"key"`
		Size int64  `parquet:"size"`
	}
	var buf bytes.Buffer
	require.NoError(t, parquet.Write(&buf, []other{{Key: "a", Size: 1}}))

	_, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.ErrorContains(t, err, "not a channel table")
}

func TestReadRejectsGarbage(t *testing.T) {
	data := []byte("definitely not parquet")
	_, err := Read(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

package merge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/bdf-merge/internal/bdftest"
	"github.com/eunmann/bdf-merge/pkg/fileutil"
	"github.com/eunmann/bdf-merge/pkg/header"
	"github.com/eunmann/bdf-merge/pkg/layout"
	"github.com/eunmann/bdf-merge/pkg/membudget"
	"github.com/eunmann/bdf-merge/pkg/source"
)

func testOptions() Options {
	return DefaultOptions().WithBudget(membudget.New(64<<20, membudget.BudgetSourceCLI))
}

func writeInputs(t *testing.T, files ...bdftest.File) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Write(t, dir, string(rune('a'+i))+".bdf")
	}
	return paths
}

func readOutput(t *testing.T, path string) (*header.Header, []byte) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	h, err := header.Load(bytes.NewReader(raw))
	require.NoError(t, err)
	return h, raw[h.Len():]
}

func TestMergeTwoNewtest17(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	res, err := Merge(context.Background(), inputs, out, testOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Inputs)
	assert.Equal(t, 120, res.Records)
	assert.Equal(t, 2, res.Duration)
	assert.Equal(t, int64(4608), res.HeaderBytes)
	assert.Equal(t, int64(1566720), res.DataBytes)

	h, data := readOutput(t, out)
	records, err := h.Int(layout.RecordCount)
	require.NoError(t, err)
	assert.Equal(t, 120, records)
	duration, err := h.Int(layout.RecordDuration)
	require.NoError(t, err)
	assert.Equal(t, 2, duration)

	in, err := header.Load(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)
	for _, field := range []layout.Field{
		layout.ChannelLabels, layout.TransducerTypes, layout.PhysicalDimensions,
		layout.PhysicalMinimum, layout.PhysicalMaximum, layout.DigitalMinimum,
		layout.DigitalMaximum, layout.Prefiltering, layout.SamplesPerRecord,
		layout.StartDate, layout.StartTime,
	} {
		want, err := in.Values(field)
		require.NoError(t, err)
		got, err := h.Values(field)
		require.NoError(t, err)
		assert.Equal(t, want, got, field.String())
	}

	require.Len(t, data, 1566720)
	assert.True(t, bytes.Equal(append(f.Data(), f.Data()...), data), "data must be the input data twice")
}

func TestMergeThreeInputsKeepsOrder(t *testing.T) {
	a := bdftest.Newtest17(256)
	b := bdftest.Newtest17(256)
	b.Seed = 1
	b.Records = 10
	c := bdftest.Newtest17(256)
	c.Seed = 2
	c.Records = 5
	inputs := writeInputs(t, a, b, c)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	res, err := Merge(context.Background(), inputs, out, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 75, res.Records)
	assert.Equal(t, 3, res.Duration)

	_, data := readOutput(t, out)
	want := append(append(a.Data(), b.Data()...), c.Data()...)
	assert.True(t, bytes.Equal(want, data))
}

func TestMergeSingleInputCopies(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions())
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(f.Bytes(), raw))
}

func TestMergeOutputIdenticalAcrossPolicies(t *testing.T) {
	a := bdftest.Newtest17(256)
	b := bdftest.Newtest17(256)
	b.Seed = 7
	inputs := writeInputs(t, a, b)
	dir := t.TempDir()

	fixed, err := FixedChunks(312)
	require.NoError(t, err)
	odd, err := FixedChunks(7)
	require.NoError(t, err)
	huge, err := FixedChunks(1 << 20)
	require.NoError(t, err)

	policies := []ChunkPolicy{RecordChunks(), WholeFile(), fixed, odd, huge}

	var reference []byte
	for _, p := range policies {
		for _, concurrent := range []bool{false, true} {
			name := p.String()
			if concurrent {
				name += "-concurrent"
			}
			t.Run(name, func(t *testing.T) {
				out := filepath.Join(dir, name+".bdf")
				opts := testOptions().WithChunk(p).WithConcurrent(concurrent)
				_, err := Merge(context.Background(), inputs, out, opts)
				require.NoError(t, err)

				raw, err := os.ReadFile(out)
				require.NoError(t, err)
				if reference == nil {
					reference = raw
					return
				}
				assert.True(t, bytes.Equal(reference, raw), "output differs from first policy")
			})
		}
	}
}

func TestMergeTinyBudget(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	budget := membudget.New(100, membudget.BudgetSourceCLI)
	opts := DefaultOptions().WithBudget(budget).WithQueueDepth(1)

	_, err := Merge(context.Background(), inputs, out, opts)
	require.NoError(t, err)
	assert.Zero(t, budget.InUse())

	_, data := readOutput(t, out)
	assert.True(t, bytes.Equal(append(f.Data(), f.Data()...), data))
}

func TestNewRejectsInvalidChunkSize(t *testing.T) {
	for _, size := range []int64{0, -1, -13056} {
		_, err := New(Options{Chunk: ChunkPolicy{Kind: ChunkFixed, Size: size}})
		assert.ErrorIs(t, err, ErrInvalidChunkSize, "size %d", size)

		_, err = FixedChunks(size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize, "size %d", size)
	}
}

func TestMergeInvalidChunkSizeTouchesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "merged.bdf")
	opts := testOptions().WithChunk(ChunkPolicy{Kind: ChunkFixed, Size: 0})

	_, err := Merge(context.Background(), []string{"/does/not/exist.bdf"}, out, opts)
	require.ErrorIs(t, err, ErrInvalidChunkSize)
	assert.NoDirExists(t, filepath.Dir(out))
}

func TestParseChunkPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want ChunkPolicy
	}{
		{"", RecordChunks()},
		{"record", RecordChunks()},
		{"RECORD", RecordChunks()},
		{"whole-file", WholeFile()},
		{"all", WholeFile()},
		{"none", WholeFile()},
		{"312", ChunkPolicy{Kind: ChunkFixed, Size: 312}},
		{"64KiB", ChunkPolicy{Kind: ChunkFixed, Size: 64 << 10}},
		{"1MB", ChunkPolicy{Kind: ChunkFixed, Size: 1000000}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChunkPolicy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"0", "-5", "0B", "lots"} {
		_, err := ParseChunkPolicy(bad)
		assert.ErrorIs(t, err, ErrInvalidChunkSize, bad)
	}
}

func TestChunkPolicyResolve(t *testing.T) {
	h, err := header.Load(bytes.NewReader(bdftest.Newtest17(256).Header()))
	require.NoError(t, err)

	n, err := RecordChunks().Resolve(h, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(17*256*3), n)

	n, err = WholeFile().Resolve(h, 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = ChunkPolicy{Kind: ChunkFixed, Size: -1}.Resolve(h, 3)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestOptionsValidateFillsDefaults(t *testing.T) {
	var o Options
	require.NoError(t, o.Validate())
	assert.Equal(t, 4, o.QueueDepth)
	assert.Equal(t, 3, o.BytesPerSample)
	assert.NotNil(t, o.Budget)
	assert.NotNil(t, o.Opener)

	o = Options{QueueDepth: -1}
	assert.Error(t, o.Validate())
}

func TestMergeNoInputs(t *testing.T) {
	_, err := Merge(context.Background(), nil, filepath.Join(t.TempDir(), "out.bdf"), testOptions())
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestMergeIncompatibleProducesNoOutput(t *testing.T) {
	inputs := writeInputs(t, bdftest.Newtest17(256), bdftest.Newtest17(2048))
	out := filepath.Join(t.TempDir(), "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions())
	require.ErrorIs(t, err, header.ErrIncompatible)

	var ie *header.IncompatibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, layout.SamplesPerRecord, ie.Field)
	assert.NoFileExists(t, out)
}

func TestMergeDifferentChannelSets(t *testing.T) {
	a := bdftest.Newtest17(256)
	b := bdftest.Newtest17(256)
	b.Labels = append([]string(nil), b.Labels...)
	b.Labels[0] = "Fp1"
	inputs := writeInputs(t, a, b)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions())
	require.ErrorIs(t, err, header.ErrIncompatible)
	assert.NoFileExists(t, out)
}

func TestMergeMissingInput(t *testing.T) {
	inputs := writeInputs(t, bdftest.Newtest17(256))
	inputs = append(inputs, filepath.Join(t.TempDir(), "missing.bdf"))
	out := filepath.Join(t.TempDir(), "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions())
	require.ErrorIs(t, err, ErrUnreadableInput)
	assert.NoFileExists(t, out)
}

func TestMergeCreatesParentDirs(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "a", "b", "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions())
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestMergeUnwritableOutput(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)

	// The parent of the output is a regular file.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	out := filepath.Join(blocker, "merged.bdf")

	for _, concurrent := range []bool{false, true} {
		_, err := Merge(context.Background(), inputs, out, testOptions().WithConcurrent(concurrent))
		assert.ErrorIs(t, err, ErrUnwritableOutput)
	}
}

func TestMergeAtomic(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")
	require.NoError(t, os.WriteFile(fileutil.TmpPath(out), []byte("stale"), 0o644))

	_, err := Merge(context.Background(), inputs, out, testOptions().WithAtomic(true))
	require.NoError(t, err)
	assert.NoFileExists(t, fileutil.TmpPath(out))

	_, data := readOutput(t, out)
	assert.Len(t, data, 1566720)
}

// failingOpener serves the header pass normally and fails data reads
// after a few bytes.
type failingOpener struct {
	after int64
}

type failingReader struct {
	r    io.ReadCloser
	left int64
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.left <= 0 {
		return 0, errors.New("disk on fire")
	}
	if int64(len(p)) > f.left {
		p = p[:f.left]
	}
	n, err := f.r.Read(p)
	f.left -= int64(n)
	return n, err
}

func (f *failingReader) Close() error { return f.r.Close() }

func (o failingOpener) Open(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	rc, err := source.Local{}.Open(ctx, name, offset)
	if err != nil || offset == 0 {
		return rc, err
	}
	return &failingReader{r: rc, left: o.after}, nil
}

func TestMergeReadFailureDuringData(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)

	for _, concurrent := range []bool{false, true} {
		out := filepath.Join(t.TempDir(), "merged.bdf")
		opts := testOptions().
			WithConcurrent(concurrent).
			WithOpener(failingOpener{after: 50000})

		_, err := Merge(context.Background(), inputs, out, opts)
		require.ErrorIs(t, err, ErrUnreadableInput, "concurrent=%v", concurrent)
		assert.NotErrorIs(t, err, context.Canceled)
	}
}

// headerFailOpener fails reads of the second input partway through its
// header.
type headerFailOpener struct {
	bad string
}

func (o headerFailOpener) Open(ctx context.Context, name string, offset int64) (io.ReadCloser, error) {
	rc, err := source.Local{}.Open(ctx, name, offset)
	if err != nil || name != o.bad {
		return rc, err
	}
	return &failingReader{r: rc, left: 1000}, nil
}

func TestMergeReadFailureDuringHeader(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	_, err := Merge(context.Background(), inputs, out, testOptions().WithOpener(headerFailOpener{bad: inputs[1]}))
	require.ErrorIs(t, err, ErrUnreadableInput)
	assert.ErrorIs(t, err, header.ErrRead)
	assert.NoFileExists(t, out)
}

func TestMergeTruncatedHeaderIsNotUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bdf")
	require.NoError(t, os.WriteFile(path, bdftest.Newtest17(256).Header()[:1000], 0o644))

	_, err := Merge(context.Background(), []string{path}, filepath.Join(dir, "merged.bdf"), testOptions())
	require.ErrorIs(t, err, header.ErrTruncated)
	assert.NotErrorIs(t, err, ErrUnreadableInput)
}

func TestMergeReadFailureAtomicLeavesNothing(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	opts := testOptions().WithAtomic(true).WithOpener(failingOpener{after: 1000})
	_, err := Merge(context.Background(), inputs, out, opts)
	require.ErrorIs(t, err, ErrUnreadableInput)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, fileutil.TmpPath(out))
}

type failingWriter struct {
	left int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.left <= 0 {
		return 0, errors.New("no space left on device")
	}
	w.left--
	return len(p), nil
}

func TestConcurrentWriterFailureStopsReader(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	budget := membudget.New(1<<20, membudget.BudgetSourceCLI)

	p := &pipeline{
		opts: Options{
			QueueDepth: 2,
			Budget:     budget,
			Opener:     source.Local{},
		},
		chunk:   int64(f.RecordSize()),
		inputs:  inputs,
		offsets: []int64{int64(f.HeaderSize()), int64(f.HeaderSize())},
	}

	written, err := p.runConcurrent(context.Background(), &failingWriter{left: 3})
	require.ErrorIs(t, err, ErrUnwritableOutput)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(3*f.RecordSize()), written)
	assert.Zero(t, budget.InUse())
}

func TestMergeCancelled(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)
	out := filepath.Join(t.TempDir(), "merged.bdf")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Merge(ctx, inputs, out, testOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

// memOpener serves s3:// names from memory.
type memOpener map[string][]byte

func (m memOpener) Open(_ context.Context, name string, offset int64) (io.ReadCloser, error) {
	b, ok := m[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b[offset:])), nil
}

func TestMergeFromS3Inputs(t *testing.T) {
	f := bdftest.Newtest17(256)
	local := writeInputs(t, f)
	objects := memOpener{"s3://recordings/session-2.bdf": f.Bytes()}
	out := filepath.Join(t.TempDir(), "merged.bdf")

	opts := testOptions().WithOpener(source.WithS3(source.Local{}, objects))
	res, err := Merge(context.Background(), []string{local[0], "s3://recordings/session-2.bdf"}, out, opts)
	require.NoError(t, err)
	assert.Equal(t, 120, res.Records)

	_, data := readOutput(t, out)
	assert.True(t, bytes.Equal(append(f.Data(), f.Data()...), data))
}

func TestReadHeadersOffsets(t *testing.T) {
	a := bdftest.Newtest17(256)
	inputs := writeInputs(t, a, a)

	m, err := New(testOptions())
	require.NoError(t, err)

	merged, offsets, err := m.ReadHeaders(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, []int64{4608, 4608}, offsets)

	records, err := merged.Int(layout.RecordCount)
	require.NoError(t, err)
	assert.Equal(t, 120, records)
}

func TestReadHeadersDoesNotMutateFirstInput(t *testing.T) {
	f := bdftest.Newtest17(256)
	inputs := writeInputs(t, f, f)

	m, err := New(testOptions())
	require.NoError(t, err)
	_, _, err = m.ReadHeaders(context.Background(), inputs)
	require.NoError(t, err)

	raw, err := os.ReadFile(inputs[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(f.Bytes(), raw))
}

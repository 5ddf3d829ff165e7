// Package merge concatenates BDF recordings into one file.
//
// Merging happens in two passes. The header pass loads every input header
// and folds them left to right into the output header. The data pass writes
// that header, then copies each input's data region in input order, either
// chunk by chunk in one goroutine or through a reader and a writer stage
// joined by a bounded channel.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eunmann/bdf-merge/internal/logctx"
	"github.com/eunmann/bdf-merge/pkg/fileutil"
	"github.com/eunmann/bdf-merge/pkg/header"
	"github.com/eunmann/bdf-merge/pkg/layout"
	"github.com/eunmann/bdf-merge/pkg/logging"
)

// Merger merges BDF files with a fixed set of options.
type Merger struct {
	opts Options
}

// Result describes a completed merge.
type Result struct {
	Output      string
	Inputs      int
	HeaderBytes int64
	DataBytes   int64
	Records     int
	Duration    int
	Elapsed     time.Duration
}

// New validates opts and returns a Merger. An invalid chunk size fails
// here, before any file is touched.
func New(opts Options) (*Merger, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Merger{opts: opts}, nil
}

// Merge merges inputs into output using opts.
func Merge(ctx context.Context, inputs []string, output string, opts Options) (*Result, error) {
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	return m.Merge(ctx, inputs, output)
}

// Options returns the validated options.
func (m *Merger) Options() Options {
	return m.opts
}

// Merge folds the input headers and writes the merged file to output. On
// failure the output path must be treated as unusable unless Atomic is set.
func (m *Merger) Merge(ctx context.Context, inputs []string, output string) (*Result, error) {
	start := time.Now()
	log := logctx.FromContext(ctx).With().Str("output", output).Logger()
	ctx = logctx.WithLogger(ctx, log)

	log.Info().
		Int("inputs", len(inputs)).
		Str("chunk", m.opts.Chunk.String()).
		Bool("concurrent", m.opts.Concurrent).
		Bool("atomic", m.opts.Atomic).
		Msg("starting merge")

	merged, offsets, err := m.ReadHeaders(ctx, inputs)
	if err != nil {
		return nil, err
	}

	written, err := m.StreamData(ctx, merged, offsets, inputs, output)
	if err != nil {
		return nil, err
	}

	records, err := merged.Int(layout.RecordCount)
	if err != nil {
		return nil, err
	}
	duration, err := merged.Int(layout.RecordDuration)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Output:      output,
		Inputs:      len(inputs),
		HeaderBytes: int64(merged.Len()),
		DataBytes:   written,
		Records:     records,
		Duration:    duration,
		Elapsed:     time.Since(start),
	}

	logging.PhaseComplete(log, "merge", res.Elapsed).
		Int("inputs", res.Inputs).
		Int("records", res.Records).
		Int("duration", res.Duration).
		Bytes("bytes_written", res.HeaderBytes+res.DataBytes).
		Throughput(res.DataBytes).
		Log("merge complete")

	return res, nil
}

// ReadHeaders loads every input header and folds them into one, starting
// from a copy of the first. It also returns each input's data offset. The
// first incompatible input aborts the pass.
func (m *Merger) ReadHeaders(ctx context.Context, inputs []string) (*header.Header, []int64, error) {
	if len(inputs) == 0 {
		return nil, nil, ErrNoInputs
	}

	start := time.Now()
	log := logctx.FromContext(ctx)
	log.Info().Int("inputs", len(inputs)).Msg("reading headers")

	var merged *header.Header
	offsets := make([]int64, len(inputs))
	for i, name := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		h, err := m.loadHeader(ctx, name)
		if err != nil {
			return nil, nil, err
		}

		offsets[i], err = h.DataOffset()
		if err != nil {
			return nil, nil, fmt.Errorf("data offset of %s: %w", name, err)
		}

		if merged == nil {
			merged = h.Clone()
			continue
		}
		if err := merged.Fold(h); err != nil {
			return nil, nil, fmt.Errorf("fold %s: %w", name, err)
		}
	}

	logging.PhaseComplete(log, "headers", time.Since(start)).
		Int("inputs", len(inputs)).
		LogDebug("headers folded")

	return merged, offsets, nil
}

func (m *Merger) loadHeader(ctx context.Context, name string) (*header.Header, error) {
	rc, err := m.opts.Opener.Open(ctx, name, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnreadableInput, name, err)
	}
	defer rc.Close()

	h, err := header.Load(rc)
	if errors.Is(err, header.ErrRead) {
		return nil, fmt.Errorf("%w: load header %s: %w", ErrUnreadableInput, name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load header %s: %w", name, err)
	}
	return h, nil
}

// StreamData writes merged followed by the data region of every input,
// starting at offsets[i] of inputs[i]. Parent directories of output are
// created. It returns the number of data bytes written.
func (m *Merger) StreamData(ctx context.Context, merged *header.Header, offsets []int64, inputs []string, output string) (int64, error) {
	if len(inputs) == 0 {
		return 0, ErrNoInputs
	}
	if len(offsets) != len(inputs) {
		return 0, fmt.Errorf("got %d offsets for %d inputs", len(offsets), len(inputs))
	}

	chunk, err := m.opts.Chunk.Resolve(merged, m.opts.BytesPerSample)
	if err != nil {
		return 0, err
	}

	if m.opts.Atomic {
		if err := fileutil.CleanupTmp(output); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnwritableOutput, err)
		}
	}

	p := &pipeline{
		opts:    m.opts,
		chunk:   chunk,
		inputs:  inputs,
		offsets: offsets,
	}

	var written int64
	write := func(f *os.File) error {
		if _, err := merged.WriteTo(f); err != nil {
			return fmt.Errorf("%w: write header: %w", ErrUnwritableOutput, err)
		}
		var err error
		if m.opts.Concurrent {
			written, err = p.runConcurrent(ctx, f)
		} else {
			written, err = p.runSequential(ctx, f)
		}
		return err
	}

	if m.opts.Atomic {
		err = fileutil.WriteTmpThenMove(output, write)
	} else {
		err = fileutil.WriteFile(output, write)
	}
	if err != nil {
		return written, outputError(err)
	}
	return written, nil
}

// outputError tags errors that did not come from an input or from
// cancellation as output failures.
func outputError(err error) error {
	switch {
	case errors.Is(err, ErrUnreadableInput),
		errors.Is(err, ErrUnwritableOutput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnwritableOutput, err)
	}
}

package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eunmann/bdf-merge/internal/logctx"
	"github.com/eunmann/bdf-merge/pkg/logging"
)

// pipeline copies the data regions of the inputs to an output writer.
type pipeline struct {
	opts    Options
	chunk   int64 // 0 reads each input whole
	inputs  []string
	offsets []int64
}

// chunk is one read handed from the reader to the writer, with the bytes
// it holds against the memory budget.
type chunk struct {
	data     []byte
	reserved int64
}

// runSequential reads and writes chunk by chunk in the calling goroutine,
// reusing one buffer.
func (p *pipeline) runSequential(ctx context.Context, w io.Writer) (int64, error) {
	var buf []byte
	if p.chunk > 0 {
		buf = make([]byte, p.chunk)
	}
	next := func() []byte { return buf }

	var written int64
	err := p.readAll(ctx, next, func(data []byte) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("%w: %w", ErrUnwritableOutput, err)
		}
		written += int64(len(data))
		return nil
	})
	return written, err
}

// runConcurrent runs a reader goroutine and a writer goroutine joined by a
// channel of QueueDepth chunks. The reader closes the channel on every exit
// path, which is the writer's end-of-stream signal. If either stage fails
// the shared context is cancelled so the other stage returns too.
func (p *pipeline) runConcurrent(ctx context.Context, w io.Writer) (int64, error) {
	budget := p.opts.Budget
	ch := make(chan chunk, p.opts.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)

	var readErr, writeErr error
	var written int64

	g.Go(func() error {
		defer close(ch)
		next := func() []byte {
			if p.chunk == 0 {
				return nil
			}
			return make([]byte, p.chunk)
		}
		readErr = p.readAll(gctx, next, func(data []byte) error {
			reserved, err := budget.Acquire(gctx, int64(len(data)))
			if err != nil {
				return err
			}
			select {
			case ch <- chunk{data: data, reserved: reserved}:
				return nil
			case <-gctx.Done():
				budget.Release(reserved)
				return gctx.Err()
			}
		})
		return readErr
	})

	g.Go(func() error {
		for c := range ch {
			_, err := w.Write(c.data)
			budget.Release(c.reserved)
			if err != nil {
				writeErr = fmt.Errorf("%w: %w", ErrUnwritableOutput, err)
				return writeErr
			}
			written += int64(len(c.data))
		}
		return nil
	})

	_ = g.Wait()

	// Chunks left behind by a failed writer still hold budget.
	for c := range ch {
		budget.Release(c.reserved)
	}

	return written, joinStageErrors(ctx, readErr, writeErr)
}

// joinStageErrors reports both stage failures, dropping a cancellation
// that only echoes the other stage's failure.
func joinStageErrors(parent context.Context, readErr, writeErr error) error {
	if parent.Err() == nil {
		if writeErr != nil && errors.Is(readErr, context.Canceled) {
			readErr = nil
		}
		if readErr != nil && errors.Is(writeErr, context.Canceled) {
			writeErr = nil
		}
	}
	return errors.Join(readErr, writeErr)
}

// readAll reads every input's data region in order and passes each chunk
// to emit. next supplies the buffer for the next read; a nil buffer reads
// the rest of the input in one go.
func (p *pipeline) readAll(ctx context.Context, next func() []byte, emit func([]byte) error) error {
	log := logctx.FromContext(ctx)
	progress := logging.NewProgressTracker("data", int64(len(p.inputs)), log)

	for i, name := range p.inputs {
		inputCtx := logctx.WithInput(ctx, i, name)
		inputLog := logctx.FromContext(inputCtx)
		inputLog.Info().Msgf("merging data from %s (%d/%d)", name, i+1, len(p.inputs))

		start := time.Now()
		n, err := p.readInput(inputCtx, name, p.offsets[i], next, emit)
		if err != nil {
			return err
		}

		elapsed := time.Since(start)
		progress.RecordCompletion(n, elapsed)
		logging.InputMerged(inputLog, "data", elapsed).
			Bytes("bytes", n).
			Throughput(n).
			Progress(progress).
			Log(fmt.Sprintf("merged %s", name))
	}
	return nil
}

func (p *pipeline) readInput(ctx context.Context, name string, offset int64, next func() []byte, emit func([]byte) error) (int64, error) {
	rc, err := p.opts.Opener.Open(ctx, name, offset)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrUnreadableInput, name, err)
	}
	defer rc.Close()

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		buf := next()
		var n int
		if buf == nil {
			var data []byte
			data, err = io.ReadAll(rc)
			buf, n = data, len(data)
			if err == nil {
				err = io.EOF
			}
		} else {
			n, err = io.ReadFull(rc, buf)
		}

		if n > 0 {
			if emitErr := emit(buf[:n]); emitErr != nil {
				return total, emitErr
			}
			total += int64(n)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return total, nil
		default:
			return total, fmt.Errorf("%w: read %s: %w", ErrUnreadableInput, name, err)
		}
	}
}

// Package verify checks a merged BDF file against its inputs.
//
// The output header must equal the fold of the input headers, and the
// output data region must hash (xxhash64) to the same value as the input
// data regions read back to back.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/eunmann/bdf-merge/internal/logctx"
	"github.com/eunmann/bdf-merge/pkg/header"
	"github.com/eunmann/bdf-merge/pkg/logging"
	"github.com/eunmann/bdf-merge/pkg/source"
)

var (
	// ErrMismatch is matched by every verification failure.
	ErrMismatch = errors.New("merged output does not match inputs")
	// ErrHeaderMismatch indicates the output header is not the fold of the inputs.
	ErrHeaderMismatch = fmt.Errorf("%w: header", ErrMismatch)
	// ErrLengthMismatch indicates a data region of the wrong size.
	ErrLengthMismatch = fmt.Errorf("%w: data length", ErrMismatch)
	// ErrChecksumMismatch indicates data regions with different content.
	ErrChecksumMismatch = fmt.Errorf("%w: data checksum", ErrMismatch)
)

// Report is the outcome of a verification.
type Report struct {
	Inputs        int
	HeaderMatches bool
	ExpectedBytes int64
	ActualBytes   int64
	ExpectedSum   uint64
	ActualSum     uint64
	Elapsed       time.Duration
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return r.HeaderMatches &&
		r.ExpectedBytes == r.ActualBytes &&
		r.ExpectedSum == r.ActualSum
}

// Verify compares output with inputs. It returns a report together with an
// error matching ErrMismatch when a check fails; I/O failures return a nil
// report.
func Verify(ctx context.Context, opener source.Opener, inputs []string, output string) (*Report, error) {
	if len(inputs) == 0 {
		return nil, errors.New("verify: no inputs")
	}
	start := time.Now()
	log := logctx.FromContext(ctx).With().Str("output", output).Logger()

	headers := make([]*header.Header, len(inputs))
	for i, name := range inputs {
		h, err := loadHeader(ctx, opener, name)
		if err != nil {
			return nil, err
		}
		headers[i] = h
	}
	want, err := header.FoldAll(headers...)
	if err != nil {
		return nil, fmt.Errorf("fold input headers: %w", err)
	}
	got, err := loadHeader(ctx, opener, output)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Inputs:        len(inputs),
		HeaderMatches: want.Equal(got),
	}

	inDigest := xxhash.New()
	for i, name := range inputs {
		n, err := hashData(ctx, opener, name, headers[i], inDigest)
		if err != nil {
			return nil, err
		}
		report.ExpectedBytes += n
	}
	report.ExpectedSum = inDigest.Sum64()

	outDigest := xxhash.New()
	report.ActualBytes, err = hashData(ctx, opener, output, got, outDigest)
	if err != nil {
		return nil, err
	}
	report.ActualSum = outDigest.Sum64()
	report.Elapsed = time.Since(start)

	var errs []error
	if !report.HeaderMatches {
		errs = append(errs, ErrHeaderMismatch)
	}
	if report.ExpectedBytes != report.ActualBytes {
		errs = append(errs, fmt.Errorf("%w: want %d bytes, got %d", ErrLengthMismatch, report.ExpectedBytes, report.ActualBytes))
	}
	if report.ExpectedSum != report.ActualSum {
		errs = append(errs, fmt.Errorf("%w: want %016x, got %016x", ErrChecksumMismatch, report.ExpectedSum, report.ActualSum))
	}

	logging.PhaseComplete(log, "verify", report.Elapsed).
		Int("inputs", report.Inputs).
		Bytes("bytes", report.ActualBytes).
		Str("xxhash64", fmt.Sprintf("%016x", report.ActualSum)).
		Throughput(report.ExpectedBytes + report.ActualBytes).
		Log("verification finished")

	return report, errors.Join(errs...)
}

func loadHeader(ctx context.Context, opener source.Opener, name string) (*header.Header, error) {
	rc, err := opener.Open(ctx, name, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	h, err := header.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("load header %s: %w", name, err)
	}
	return h, nil
}

func hashData(ctx context.Context, opener source.Opener, name string, h *header.Header, w io.Writer) (int64, error) {
	offset, err := h.DataOffset()
	if err != nil {
		return 0, fmt.Errorf("data offset of %s: %w", name, err)
	}
	rc, err := opener.Open(ctx, name, offset)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return n, fmt.Errorf("read %s: %w", name, err)
	}
	return n, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package merge

import (
	"fmt"

	"github.com/eunmann/bdf-merge/pkg/membudget"
	"github.com/eunmann/bdf-merge/pkg/source"
)

// Options controls how inputs are streamed into the output.
type Options struct {
	// Chunk is the read size of the data pass. Default: one record.
	Chunk ChunkPolicy

	// Concurrent runs reads and writes as two stages joined by a bounded
	// channel. Default: true
	Concurrent bool

	// QueueDepth is the number of chunks the channel holds. Default: 4
	QueueDepth int

	// BytesPerSample is the sample width used to size records. Default: 3
	BytesPerSample int

	// Budget bounds the bytes held by queued chunks in concurrent mode.
	// Default: a quarter of system RAM.
	Budget *membudget.Budget

	// Atomic writes to <output>.tmp and renames on success.
	Atomic bool

	// Opener opens inputs. Default: local files and s3:// URIs.
	Opener source.Opener
}

// DefaultOptions returns the default merge options.
func DefaultOptions() Options {
	return Options{
		Chunk:          RecordChunks(),
		Concurrent:     true,
		QueueDepth:     4,
		BytesPerSample: 3,
	}
}

// Validate checks the chunk policy and fills zero values with defaults.
func (o *Options) Validate() error {
	if err := o.Chunk.Validate(); err != nil {
		return err
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("queue depth must be non-negative, got %d", o.QueueDepth)
	}
	if o.QueueDepth == 0 {
		o.QueueDepth = DefaultOptions().QueueDepth
	}
	if o.BytesPerSample < 0 {
		return fmt.Errorf("bytes per sample must be non-negative, got %d", o.BytesPerSample)
	}
	if o.BytesPerSample == 0 {
		o.BytesPerSample = DefaultOptions().BytesPerSample
	}
	if o.Budget == nil {
		o.Budget = membudget.NewFromSystemRAM()
	}
	if o.Opener == nil {
		o.Opener = source.NewRouter()
	}
	return nil
}

// WithChunk sets the chunk policy.
func (o Options) WithChunk(p ChunkPolicy) Options {
	o.Chunk = p
	return o
}

// WithConcurrent enables or disables the two-stage pipeline.
func (o Options) WithConcurrent(on bool) Options {
	o.Concurrent = on
	return o
}

// WithQueueDepth sets the channel capacity.
func (o Options) WithQueueDepth(n int) Options {
	o.QueueDepth = n
	return o
}

// WithBudget sets the in-flight memory budget.
func (o Options) WithBudget(b *membudget.Budget) Options {
	o.Budget = b
	return o
}

// WithAtomic enables tmp+rename output commit.
func (o Options) WithAtomic(on bool) Options {
	o.Atomic = on
	return o
}

// WithOpener sets the input opener.
func (o Options) WithOpener(op source.Opener) Options {
	o.Opener = op
	return o
}

package merge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/eunmann/bdf-merge/pkg/header"
)

// ChunkKind selects how the read size is determined.
type ChunkKind int

const (
	// ChunkRecord reads one data record at a time.
	ChunkRecord ChunkKind = iota
	// ChunkWholeFile reads each input's data region in one operation.
	ChunkWholeFile
	// ChunkFixed reads a fixed number of bytes at a time.
	ChunkFixed
)

// ChunkPolicy is the configured read size of the data pass.
type ChunkPolicy struct {
	Kind ChunkKind
	Size int64
}

// RecordChunks reads one record per chunk.
func RecordChunks() ChunkPolicy {
	return ChunkPolicy{Kind: ChunkRecord}
}

// WholeFile reads each input in a single chunk.
func WholeFile() ChunkPolicy {
	return ChunkPolicy{Kind: ChunkWholeFile}
}

// FixedChunks reads n bytes per chunk.
func FixedChunks(n int64) (ChunkPolicy, error) {
	p := ChunkPolicy{Kind: ChunkFixed, Size: n}
	if err := p.Validate(); err != nil {
		return ChunkPolicy{}, err
	}
	return p, nil
}

// ParseChunkPolicy accepts "record", "whole-file" (or "all", "none"), a
// positive byte count, or a human size such as "64KiB".
func ParseChunkPolicy(s string) (ChunkPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "record":
		return RecordChunks(), nil
	case "whole-file", "all", "none":
		return WholeFile(), nil
	}

	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return FixedChunks(n)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return ChunkPolicy{}, fmt.Errorf("%w: %q", ErrInvalidChunkSize, s)
	}
	return FixedChunks(int64(n))
}

// Validate rejects fixed policies with a non-positive size.
func (p ChunkPolicy) Validate() error {
	switch p.Kind {
	case ChunkRecord, ChunkWholeFile:
		return nil
	case ChunkFixed:
		if p.Size <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidChunkSize, p.Size)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidChunkSize, p.Kind)
	}
}

func (p ChunkPolicy) String() string {
	switch p.Kind {
	case ChunkRecord:
		return "record"
	case ChunkWholeFile:
		return "whole-file"
	default:
		return strconv.FormatInt(p.Size, 10)
	}
}

// Resolve returns the chunk size in bytes for h. Zero means unbounded.
func (p ChunkPolicy) Resolve(h *header.Header, bytesPerSample int) (int64, error) {
	switch p.Kind {
	case ChunkRecord:
		n, err := h.RecordSize(bytesPerSample)
		if err != nil {
			return 0, fmt.Errorf("record size: %w", err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("%w: record size is %d", ErrInvalidChunkSize, n)
		}
		return n, nil
	case ChunkWholeFile:
		return 0, nil
	default:
		if err := p.Validate(); err != nil {
			return 0, err
		}
		return p.Size, nil
	}
}

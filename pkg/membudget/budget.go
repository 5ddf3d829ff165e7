// Package membudget bounds the bytes held by chunks in flight between the
// reading and writing stages of a merge.
//
// Callers acquire a chunk's size before handing it off and release it once
// the chunk is written. Acquire blocks until enough bytes are free or the
// context ends.
package membudget

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/eunmann/bdf-merge/pkg/sysmem"
)

// DefaultBudgetBytes is used when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 1 << 30

// BudgetSource indicates how the budget was determined.
type BudgetSource string

const (
	// BudgetSourceAuto indicates a fraction of detected RAM.
	BudgetSourceAuto BudgetSource = "auto-25pct"
	// BudgetSourceDefault indicates the fallback default.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceCLI indicates a command-line flag.
	BudgetSourceCLI BudgetSource = "cli"
	// BudgetSourceEnv indicates an environment variable.
	BudgetSourceEnv BudgetSource = "env"
	// BudgetSourceConfig indicates the configuration file.
	BudgetSourceConfig BudgetSource = "config"
)

// Budget is safe for concurrent use.
type Budget struct {
	total  int64
	sem    *semaphore.Weighted
	inUse  atomic.Int64
	source BudgetSource
}

// New creates a budget of total bytes.
func New(total uint64, source BudgetSource) *Budget {
	if total == 0 {
		total = DefaultBudgetBytes
		source = BudgetSourceDefault
	}
	return &Budget{
		total:  int64(total),
		sem:    semaphore.NewWeighted(int64(total)),
		source: source,
	}
}

// NewFromSystemRAM creates a budget of a quarter of system RAM, or
// DefaultBudgetBytes when RAM cannot be detected.
func NewFromSystemRAM() *Budget {
	res := sysmem.Total()
	if !res.Reliable {
		return New(DefaultBudgetBytes, BudgetSourceDefault)
	}
	return New(res.TotalBytes/4, BudgetSourceAuto)
}

// Parse reads a human size such as "512MiB" or "2GB".
func Parse(s string) (uint64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse memory budget %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("parse memory budget %q: must be positive", s)
	}
	return n, nil
}

// Total returns the budget size in bytes.
func (b *Budget) Total() int64 {
	return b.total
}

// InUse returns the bytes currently acquired.
func (b *Budget) InUse() int64 {
	return b.inUse.Load()
}

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource {
	return b.source
}

// clamp caps a request at the whole budget so oversized chunks still make
// progress, one at a time.
func (b *Budget) clamp(n int64) int64 {
	if n > b.total {
		return b.total
	}
	if n < 0 {
		return 0
	}
	return n
}

// Acquire blocks until n bytes are available. It returns the number of
// bytes actually reserved, which must be passed to Release.
func (b *Budget) Acquire(ctx context.Context, n int64) (int64, error) {
	n = b.clamp(n)
	if err := b.sem.Acquire(ctx, n); err != nil {
		return 0, err
	}
	b.inUse.Add(n)
	return n, nil
}

// TryAcquire reserves n bytes without blocking.
func (b *Budget) TryAcquire(n int64) (int64, bool) {
	n = b.clamp(n)
	if !b.sem.TryAcquire(n) {
		return 0, false
	}
	b.inUse.Add(n)
	return n, true
}

// Release returns bytes obtained from Acquire or TryAcquire.
func (b *Budget) Release(n int64) {
	if n <= 0 {
		return
	}
	b.inUse.Add(-n)
	b.sem.Release(n)
}

// Stats is a snapshot of budget usage.
type Stats struct {
	TotalBytes   int64
	InUseBytes   int64
	Source       BudgetSource
	UsagePercent float64
}

// Stats returns current budget statistics.
func (b *Budget) Stats() Stats {
	inUse := b.inUse.Load()
	return Stats{
		TotalBytes:   b.total,
		InUseBytes:   inUse,
		Source:       b.source,
		UsagePercent: float64(inUse) / float64(b.total) * 100.0,
	}
}

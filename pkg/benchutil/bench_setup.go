// Package benchutil holds shared setup for merge benchmarks.
package benchutil

import (
	"fmt"
	"os"
	"testing"

	"github.com/eunmann/bdf-merge/internal/bdftest"
)

// SkipIfNoLongBench skips the benchmark if BDFMERGE_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("BDFMERGE_LONG_BENCH") == "" {
		b.Skip("set BDFMERGE_LONG_BENCH=1 to run scaling benchmark")
	}
}

// WriteInputs writes n Newtest17-shaped recordings of the given record count
// into dir and returns their paths and the total data bytes.
func WriteInputs(b *testing.B, dir string, n, records, samplesPerRecord int) ([]string, int64) {
	b.Helper()
	paths := make([]string, n)
	var total int64
	for i := range paths {
		f := bdftest.Newtest17(samplesPerRecord)
		f.Records = records
		f.Seed = byte(BenchmarkSeed + i)
		paths[i] = f.Write(b, dir, fmt.Sprintf("input-%03d.bdf", i))
		total += int64(records * f.RecordSize())
	}
	return paths, total
}

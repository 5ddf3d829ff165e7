package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// BenchmarkRecordCounts are per-input record counts for quick runs.
var BenchmarkRecordCounts = []int{60, 600}

// ScalingRecordCounts are larger per-input record counts for scaling tests.
// Used with BDFMERGE_LONG_BENCH=1 environment variable.
var ScalingRecordCounts = []int{3600, 14400}

// ChunkPolicies are the chunk sizes compared by the merge benchmarks.
var ChunkPolicies = []string{"record", "64KiB", "1MiB", "whole-file"}

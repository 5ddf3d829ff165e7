// Package sysmem detects total system memory, used to size the default
// merge memory budget.
package sysmem

import "sync"

// DefaultMemoryBytes is reported when detection fails or is unsupported.
const DefaultMemoryBytes uint64 = 4 << 30

// Result holds the detected memory size.
type Result struct {
	TotalBytes uint64
	// Reliable is false when TotalBytes is DefaultMemoryBytes.
	Reliable bool
}

var detect = sync.OnceValue(func() Result {
	n, ok := totalSystemMemory()
	if !ok || n == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: n, Reliable: true}
})

// Total returns the system memory, detected once per process.
func Total() Result {
	return detect()
}

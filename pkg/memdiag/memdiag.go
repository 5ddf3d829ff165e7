// Package memdiag samples heap usage while a merge runs and compares it with
// the bytes the memory budget believes are in flight.
//
// Enable with BDFMERGE_MEM_DEBUG=1. BDFMERGE_PPROF_ADDR=:6060 also serves
// net/http/pprof.
package memdiag

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/eunmann/bdf-merge/pkg/membudget"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvMemDebug  = "BDFMERGE_MEM_DEBUG"
	EnvPprofAddr = "BDFMERGE_PPROF_ADDR"
)

// Config holds configuration for memory diagnostics.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	PprofAddr string
}

// ConfigFromEnv reads the configuration through getenv.
func ConfigFromEnv(getenv func(string) string) Config {
	return Config{
		Enabled:   getenv(EnvMemDebug) == "1",
		Interval:  time.Second,
		PprofAddr: getenv(EnvPprofAddr),
	}
}

// Stats is a heap snapshot.
type Stats struct {
	HeapAlloc uint64
	HeapSys   uint64
	Sys       uint64
	NumGC     uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc: m.HeapAlloc,
		HeapSys:   m.HeapSys,
		Sys:       m.Sys,
		NumGC:     m.NumGC,
	}
}

// Monitor logs heap and budget usage at a fixed interval.
type Monitor struct {
	config Config
	budget *membudget.Budget
	log    zerolog.Logger

	mu         sync.Mutex
	peakHeap   uint64
	peakBudget int64

	cancel context.CancelFunc
	done   chan struct{}
	server *http.Server
}

// NewMonitor creates a monitor. budget may be nil.
func NewMonitor(config Config, budget *membudget.Budget, log zerolog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Monitor{config: config, budget: budget, log: log}
}

// Start begins sampling if enabled. Stop must be called afterwards.
func (m *Monitor) Start(ctx context.Context) {
	if !m.config.Enabled || m.done != nil {
		return
	}
	m.log.Info().Dur("interval", m.config.Interval).Msg("memory diagnostics enabled")

	if m.config.PprofAddr != "" {
		m.server = &http.Server{Addr: m.config.PprofAddr, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			m.log.Info().Str("addr", m.config.PprofAddr).Msg("starting pprof server")
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop ends sampling, logs a final sample and returns the peaks observed.
func (m *Monitor) Stop() (peakHeap uint64, peakBudget int64) {
	if m.done != nil {
		m.cancel()
		<-m.done
		if m.server != nil {
			_ = m.server.Close()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakHeap, m.peakBudget
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Sample("shutdown")
			return
		case <-ticker.C:
			m.Sample("periodic")
		}
	}
}

// Sample records and logs one snapshot.
func (m *Monitor) Sample(reason string) Stats {
	stats := Read()

	var inUse, total int64
	if m.budget != nil {
		inUse, total = m.budget.InUse(), m.budget.Total()
	}

	m.mu.Lock()
	m.peakHeap = max(m.peakHeap, stats.HeapAlloc)
	m.peakBudget = max(m.peakBudget, inUse)
	peakHeap := m.peakHeap
	m.mu.Unlock()

	e := m.log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanize.IBytes(stats.HeapAlloc)).
		Str("heap_sys", humanize.IBytes(stats.HeapSys)).
		Str("sys_total", humanize.IBytes(stats.Sys)).
		Str("peak_heap", humanize.IBytes(peakHeap)).
		Uint32("num_gc", stats.NumGC)
	if m.budget != nil {
		e = e.Str("budget_inuse", humanize.IBytes(uint64(inUse))).
			Str("budget_total", humanize.IBytes(uint64(total)))
	}
	e.Msg("memory stats")

	// Queued chunks should dominate the heap during a merge.
	if inUse > 64<<20 && stats.HeapAlloc > 2*uint64(inUse) {
		m.log.Warn().
			Str("heap_alloc", humanize.IBytes(stats.HeapAlloc)).
			Str("budget_inuse", humanize.IBytes(uint64(inUse))).
			Msg("heap usage significantly exceeds budget tracking")
	}
	return stats
}

package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ProgressTracker tracks how many merge inputs have been copied and how
// many bytes they carried. It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	bytes     atomic.Int64
	startTime time.Time
	log       zerolog.Logger
	phase     string

	mu              sync.Mutex
	recentDurations []time.Duration
	maxRecent       int
}

// NewProgressTracker creates a tracker for total inputs.
func NewProgressTracker(phase string, total int64, log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		total:           total,
		startTime:       time.Now(),
		log:             log,
		phase:           phase,
		recentDurations: make([]time.Duration, 0, 8),
		maxRecent:       8,
	}
}

// RecordCompletion records that an input of n bytes finished in d.
func (pt *ProgressTracker) RecordCompletion(n int64, d time.Duration) {
	pt.completed.Add(1)
	pt.bytes.Add(n)

	pt.mu.Lock()
	if len(pt.recentDurations) >= pt.maxRecent {
		pt.recentDurations = pt.recentDurations[1:]
	}
	pt.recentDurations = append(pt.recentDurations, d)
	pt.mu.Unlock()
}

// Completed returns the number of finished inputs.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}

// Bytes returns the bytes copied so far.
func (pt *ProgressTracker) Bytes() int64 {
	return pt.bytes.Load()
}

// Total returns the number of inputs.
func (pt *ProgressTracker) Total() int64 {
	return pt.total
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// ETA estimates the remaining time from the recent per-input durations.
func (pt *ProgressTracker) ETA() time.Duration {
	completed := pt.completed.Load()
	remaining := pt.total - completed
	if completed == 0 || remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	var sum time.Duration
	for _, d := range pt.recentDurations {
		sum += d
	}
	avg := sum / time.Duration(len(pt.recentDurations))
	pt.mu.Unlock()

	return avg * time.Duration(remaining)
}

// CompletionEvent builds consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds a byte count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Bytes(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() && n >= 0 {
		ce.fields[key+"_h"] = humanize.IBytes(uint64(n))
	}
	return ce
}

// Throughput adds bytes-per-second for n bytes over the event's duration.
func (ce *CompletionEvent) Throughput(n int64) *CompletionEvent {
	if ce.elapsed <= 0 {
		return ce
	}
	bps := float64(n) / ce.elapsed.Seconds()
	ce.fields["throughput_bps"] = bps
	if IsPrettyMode() && bps >= 0 {
		ce.fields["throughput_h"] = humanize.IBytes(uint64(bps)) + "/s"
	}
	return ce
}

// Progress adds progress fields from a tracker.
func (ce *CompletionEvent) Progress(pt *ProgressTracker) *CompletionEvent {
	done, total := pt.Completed(), pt.Total()
	ce.fields["done"] = done
	ce.fields["total"] = total
	if total > 0 {
		ce.fields["progress_pct"] = float64(done) * 100.0 / float64(total)
	}
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
	}
	return ce
}

// Log emits the event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", ce.elapsed.Round(time.Millisecond).String())
	}
	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// PhaseComplete starts a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// InputMerged starts an event for one input copied into the output.
func InputMerged(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "input_merged", phase, elapsed)
}

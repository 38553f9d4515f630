// Package progress carries pipeline stage events to the chat stream.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is one stage-start or stage-end signal. Seq increases monotonically
// per request so the UI can order events; ordering across requests is
// undefined.
type Event struct {
	Seq        uint64 `json:"seq"`
	Step       string `json:"step"`
	Status     string `json:"status"` // "started" or "completed"
	DurationMS int64  `json:"duration_ms,omitempty"`
	// IsParent marks the outer stage envelope; nested tool events carry
	// false so the UI can nest them.
	IsParent bool `json:"is_parent"`
}

// Reporter is the injectable sink for stage events. Stages receive it
// explicitly; it is never a global.
type Reporter interface {
	StepStart(name string, parent bool)
	StepEnd(name string, parent bool, d time.Duration)
}

// NoopReporter discards all events. Used by tests and non-streaming callers.
type NoopReporter struct{}

func (NoopReporter) StepStart(string, bool)              {}
func (NoopReporter) StepEnd(string, bool, time.Duration) {}

// QueueReporter writes events into a per-request bounded queue that the HTTP
// edge drains into the SSE stream. When the queue is full, step events are
// dropped with a warning; they are optional progress signals, not part of the
// response contract.
type QueueReporter struct {
	ch      chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewQueueReporter creates a reporter with the given queue capacity.
func NewQueueReporter(capacity int, logger *zap.Logger) *QueueReporter {
	if capacity <= 0 {
		capacity = 64
	}
	return &QueueReporter{
		ch:     make(chan Event, capacity),
		logger: logger.Named("progress"),
	}
}

// StepStart implements Reporter.
func (r *QueueReporter) StepStart(name string, parent bool) {
	r.offer(Event{
		Seq:      r.seq.Add(1),
		Step:     name,
		Status:   "started",
		IsParent: parent,
	})
}

// StepEnd implements Reporter.
func (r *QueueReporter) StepEnd(name string, parent bool, d time.Duration) {
	r.offer(Event{
		Seq:        r.seq.Add(1),
		Step:       name,
		Status:     "completed",
		DurationMS: d.Milliseconds(),
		IsParent:   parent,
	})
}

func (r *QueueReporter) offer(ev Event) {
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("progress queue full, dropping step event",
			zap.String("step", ev.Step),
			zap.String("status", ev.Status))
	}
}

// Events returns the drain side of the queue.
func (r *QueueReporter) Events() <-chan Event {
	return r.ch
}

// Dropped returns how many events were discarded due to backpressure.
func (r *QueueReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close closes the queue. Call only after the pipeline has returned.
func (r *QueueReporter) Close() {
	close(r.ch)
}

var (
	_ Reporter = NoopReporter{}
	_ Reporter = (*QueueReporter)(nil)
)

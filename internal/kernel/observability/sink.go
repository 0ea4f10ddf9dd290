package observability

import (
	"context"
	"log/slog"
	"sync"
)

// EventSink persists a single [PipelineEvent]. Implementations backed by a
// database must tolerate duplicate Record calls for the same event —
// delivery is at-least-once, never exactly-once.
type EventSink interface {
	Record(ctx context.Context, event PipelineEvent) error
}

// defaultQueueSize is the buffered channel capacity for [AsyncEventSink].
// Sized well above the partial_text_queue bound since events fan out across
// every stage of every concurrent pipeline run, not just one LLM→TTS
// hand-off.
const defaultQueueSize = 1000

// AsyncEventSink wraps an [EventSink] so that [AsyncEventSink.Record] never
// blocks the pipeline hot path on storage latency. Events are buffered on an
// internal channel and written by a single background goroutine; a full
// buffer drops the event (logged at warn) rather than applying backpressure
// to the caller.
type AsyncEventSink struct {
	inner EventSink
	queue chan PipelineEvent

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncEventSink starts the background writer and returns the sink. Call
// [AsyncEventSink.Close] to drain and stop it.
func NewAsyncEventSink(inner EventSink) *AsyncEventSink {
	s := &AsyncEventSink{
		inner: inner,
		queue: make(chan PipelineEvent, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncEventSink) run() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.inner.Record(context.Background(), event); err != nil {
			slog.Error("observability: failed to persist pipeline event",
				"pipeline_run_id", event.PipelineRunID,
				"type", event.Type,
				"err", err,
			)
		}
	}
}

// Record enqueues event for asynchronous delivery. It never blocks: a full
// queue drops the event and logs a warning, since the hot path must not
// stall on observability backpressure.
func (s *AsyncEventSink) Record(_ context.Context, event PipelineEvent) error {
	select {
	case s.queue <- event:
	default:
		slog.Warn("observability: event queue full, dropping event",
			"pipeline_run_id", event.PipelineRunID,
			"type", event.Type,
		)
	}
	return nil
}

// Close stops accepting new events, drains the queue, and waits for the
// background writer to finish.
func (s *AsyncEventSink) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
}

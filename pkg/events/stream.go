package events

import (
	"context"
	"sync"
	"time"
)

// Stream is the bounded, ordered event channel of a single run.
// The producing run blocks on Emit when the consumer falls behind; there
// is no drop policy. Close is idempotent and must be called exactly by
// the producer once the terminal event has been emitted.
type Stream struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Emit delivers one event in order. Blocks until the consumer accepts it
// or ctx is cancelled.
func (s *Stream) Emit(ctx context.Context, tag Tag, data any) error {
	select {
	case s.ch <- Event{Event: tag, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitAlways delivers an event without a cancellation escape. Used for
// terminal events (cancelled, final_result) that must reach the consumer
// even after the run context is done.
func (s *Stream) EmitAlways(tag Tag, data any) {
	s.ch <- Event{Event: tag, Data: data}
}

// EmitTimeout delivers one event, giving up after d. Relays use it once
// the run is cancelled, so a consumer that stopped draining cannot block
// shutdown. Returns false when the event was dropped.
func (s *Stream) EmitTimeout(tag Tag, data any, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case s.ch <- Event{Event: tag, Data: data}:
		return true
	case <-timer.C:
		return false
	}
}

// Events returns the consumer side of the stream. Closed after the
// terminal event.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Timestamp formats the current time the way event payloads carry it.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

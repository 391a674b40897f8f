package telemetry

import (
	"context"
	"sync"
)

// MemorySink records events in-process, for tests and local development.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns a Sink that only records events in memory.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close() error {
	return nil
}

// Events returns a snapshot of every event recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Package telemetry emits the spec's adventure-lifecycle events onto a
// Redis stream, adapted from the teacher's queue producer.
package telemetry

import (
	"context"
)

// EventType names one of spec.md §6's telemetry events.
type EventType string

const (
	EventAdventureStarted EventType = "adventure_started"
	EventChapterViewed    EventType = "chapter_viewed"
	EventChoiceMade       EventType = "choice_made"
	EventSummaryViewed    EventType = "summary_viewed"
	EventPlannerWarning   EventType = "planner_warning"
)

// Event is one telemetry record. Fields beyond the common envelope
// (AdventureID, UserID, Environment) are carried in Attrs, keyed per event
// type: chapter_viewed carries "chapter_number", "chapter_type",
// "duration_ms"; choice_made carries "chapter_number", "choice";
// planner_warning carries "reason".
type Event struct {
	Type        EventType
	AdventureID string
	UserID      string
	Environment string
	Attrs       map[string]any
}

// Sink is the spec's TelemetrySink adapter.
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

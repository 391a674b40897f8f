// Package store persists AdventureState rows per spec.md §6's schema.
package store

import (
	"context"
	"errors"

	"adventure.app/engine/internal/model"
)

// ErrNotFound is returned by Fetch and FindActive when no matching row
// exists.
var ErrNotFound = errors.New("store: adventure not found")

// StateStore is the spec's StateStore adapter: a row per adventure, upserted
// by id, with a find-active query keyed by (user_id OR client_uuid,
// story_category, lesson_topic).
type StateStore interface {
	// Upsert writes the full state, keyed by AdventureID. It also derives
	// and writes is_complete and completed_chapter_count from the state so
	// those columns stay queryable without deserializing state_data.
	Upsert(ctx context.Context, state *model.AdventureState) error

	// Fetch loads a single adventure by id.
	Fetch(ctx context.Context, adventureID string) (*model.AdventureState, error)

	// FindActive returns the most recently updated incomplete adventure
	// matching (userID OR clientUUID) and (storyCategory, lessonTopic), or
	// ErrNotFound if none exists. userID may be empty, in which case the
	// match is by clientUUID alone.
	FindActive(ctx context.Context, userID, clientUUID, storyCategory, lessonTopic string) (*model.AdventureState, error)
}

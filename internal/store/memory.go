package store

import (
	"context"
	"sync"

	"adventure.app/engine/internal/model"
	"github.com/google/uuid"
)

// memoryStore is an in-process StateStore used in tests and local
// development without Postgres.
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]model.AdventureState
}

// NewMemoryStore returns a StateStore backed by a plain map.
func NewMemoryStore() StateStore {
	return &memoryStore{rows: make(map[string]model.AdventureState)}
}

func (s *memoryStore) Upsert(ctx context.Context, state *model.AdventureState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.AdventureID == "" {
		state.AdventureID = uuid.NewString()
	}
	s.rows[state.AdventureID] = *state
	return nil
}

func (s *memoryStore) Fetch(ctx context.Context, adventureID string) (*model.AdventureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[adventureID]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *memoryStore) FindActive(ctx context.Context, userID, clientUUID, storyCategory, lessonTopic string) (*model.AdventureState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.AdventureState
	for _, row := range s.rows {
		if row.IsComplete() {
			continue
		}
		if row.StoryCategory != storyCategory || row.LessonTopic != lessonTopic {
			continue
		}
		if userID != "" {
			if row.UserID != userID {
				continue
			}
		} else if row.ClientUUID != clientUUID {
			continue
		}
		r := row
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) {
			best = &r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

package question

import (
	"context"
	"math/rand"

	"adventure.app/engine/internal/model"
)

// memorySource is an in-memory QuestionSource, used by tests and by
// deployments that seed a small fixed catalog rather than a database table.
type memorySource struct {
	byTopic map[string][]model.Question
	rng     *rand.Rand
}

// NewMemorySource returns a QuestionSource over a fixed in-memory catalog.
func NewMemorySource(byTopic map[string][]model.Question) Source {
	return &memorySource{byTopic: byTopic, rng: rand.New(rand.NewSource(1))}
}

func (s *memorySource) Sample(_ context.Context, topic string, exclude map[string]struct{}) (*model.Question, error) {
	candidates := s.available(topic, exclude)
	if len(candidates) == 0 {
		return nil, ErrExhausted
	}
	q := candidates[s.rng.Intn(len(candidates))]
	return &q, nil
}

func (s *memorySource) AvailableCount(_ context.Context, topic string, exclude map[string]struct{}) (int, error) {
	return len(s.available(topic, exclude)), nil
}

func (s *memorySource) available(topic string, exclude map[string]struct{}) []model.Question {
	all := s.byTopic[topic]
	out := make([]model.Question, 0, len(all))
	for _, q := range all {
		if _, used := exclude[q.Text]; used {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Package question implements the QuestionSource capability: loading and
// sampling lesson questions with a no-repetition guarantee within a session.
package question

import (
	"context"
	"errors"

	"adventure.app/engine/internal/model"
)

// ErrExhausted is returned when no unused question remains for a topic.
var ErrExhausted = errors.New("no unused questions remain for this topic")

// Source loads and samples lesson questions for a topic.
type Source interface {
	// Sample returns a random unused question for topic, excluding any whose
	// Text is a key in exclude. Returns ErrExhausted if none remain.
	Sample(ctx context.Context, topic string, exclude map[string]struct{}) (*model.Question, error)
	// AvailableCount reports how many unused questions remain for topic,
	// used by ChapterPlanner to cap the planned LESSON count.
	AvailableCount(ctx context.Context, topic string, exclude map[string]struct{}) (int, error)
}

package question

import (
	"context"
	"fmt"

	"adventure.app/engine/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSource is the production QuestionSource, backed directly by
// *pgxpool.Pool with hand-written SQL (no sqlc layer in this build — see
// DESIGN.md).
type postgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource returns a QuestionSource reading from the
// lesson_questions table.
func NewPostgresSource(pool *pgxpool.Pool) Source {
	return &postgresSource{pool: pool}
}

func (s *postgresSource) Sample(ctx context.Context, topic string, exclude map[string]struct{}) (*model.Question, error) {
	excluded := excludedTexts(exclude)

	row := s.pool.QueryRow(ctx, `
		SELECT text, answers, correct_index, explanation
		FROM lesson_questions
		WHERE topic = $1 AND NOT (text = ANY($2))
		ORDER BY random()
		LIMIT 1`, topic, excluded)

	var q model.Question
	if err := row.Scan(&q.Text, &q.Answers, &q.CorrectIdx, &q.Explanation); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrExhausted
		}
		return nil, fmt.Errorf("sampling question: %w", err)
	}
	return &q, nil
}

func (s *postgresSource) AvailableCount(ctx context.Context, topic string, exclude map[string]struct{}) (int, error) {
	excluded := excludedTexts(exclude)

	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM lesson_questions
		WHERE topic = $1 AND NOT (text = ANY($2))`, topic, excluded).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting available questions: %w", err)
	}
	return count, nil
}

func excludedTexts(exclude map[string]struct{}) []string {
	texts := make([]string, 0, len(exclude))
	for t := range exclude {
		texts = append(texts, t)
	}
	return texts
}

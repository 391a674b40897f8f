package store

import (
	"context"
	"encoding/json"
	"fmt"

	"adventure.app/engine/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the production StateStore, backed directly by
// *pgxpool.Pool with hand-written SQL (no sqlc layer in this build — see
// DESIGN.md).
type postgresStore struct {
	pool        *pgxpool.Pool
	environment string
}

// NewPostgresStore returns a StateStore backed by the adventures table.
// environment is stamped onto every row (spec.md §6's `environment` column).
func NewPostgresStore(pool *pgxpool.Pool, environment string) StateStore {
	return &postgresStore{pool: pool, environment: environment}
}

func (s *postgresStore) Upsert(ctx context.Context, state *model.AdventureState) error {
	if state.AdventureID == "" {
		state.AdventureID = uuid.NewString()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling adventure state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO adventures (
			id, user_id, client_uuid, state_data, story_category, lesson_topic,
			is_complete, completed_chapter_count, created_at, updated_at, environment
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state_data = EXCLUDED.state_data,
			is_complete = EXCLUDED.is_complete,
			completed_chapter_count = EXCLUDED.completed_chapter_count,
			updated_at = EXCLUDED.updated_at`,
		state.AdventureID, state.UserID, state.ClientUUID, data,
		state.StoryCategory, state.LessonTopic,
		state.IsComplete(), len(state.Chapters),
		state.CreatedAt, state.UpdatedAt, s.environment)
	if err != nil {
		return fmt.Errorf("upserting adventure state: %w", err)
	}
	return nil
}

func (s *postgresStore) Fetch(ctx context.Context, adventureID string) (*model.AdventureState, error) {
	row := s.pool.QueryRow(ctx, `SELECT state_data FROM adventures WHERE id = $1`, adventureID)
	return scanState(row)
}

func (s *postgresStore) FindActive(ctx context.Context, userID, clientUUID, storyCategory, lessonTopic string) (*model.AdventureState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT state_data FROM adventures
		WHERE is_complete = false
			AND story_category = $1 AND lesson_topic = $2
			AND (
				(NULLIF($3, '') IS NOT NULL AND user_id = $3::uuid)
				OR (NULLIF($3, '') IS NULL AND client_uuid = $4)
			)
		ORDER BY updated_at DESC
		LIMIT 1`, storyCategory, lessonTopic, userID, clientUUID)
	return scanState(row)
}

func scanState(row pgx.Row) (*model.AdventureState, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning adventure state: %w", err)
	}

	var state model.AdventureState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, model.NewEngineError(model.ErrStateCorrupted, "unmarshaling persisted state", err)
	}
	return &state, nil
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"adventure.app/engine/common/logger"
	"github.com/redis/go-redis/v9"
)

type redisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink adapts a Redis client as a Sink, writing each event as a
// stream entry via XADD.
func NewRedisSink(client *redis.Client, stream string) Sink {
	return &redisSink{client: client, stream: stream}
}

func (s *redisSink) Emit(ctx context.Context, event Event) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AdventureID: logger.Ptr(event.AdventureID),
		Component:   "adventure.telemetry.sink",
	})

	fields := map[string]any{
		"event_type":   string(event.Type),
		"adventure_id": event.AdventureID,
		"environment":  event.Environment,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	for k, v := range event.Attrs {
		fields[k] = v
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("emit telemetry event (stream=%s): %w", s.stream, err)
	}

	slog.DebugContext(ctx, "emitted telemetry event",
		"event_type", event.Type, "stream", s.stream)
	return nil
}

func (s *redisSink) Close() error {
	return s.client.Close()
}

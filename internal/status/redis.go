package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"boardhub/pkg/types"
)

// PresenceChannel carries one JSON StatusUpdate per transition.
const PresenceChannel = "whiteboard:presence"

// PresenceKey is the hash of userId -> status for a whiteboard.
func PresenceKey(whiteboardID string) string {
	return fmt.Sprintf("whiteboard:%s:presence", whiteboardID)
}

// RedisSink mirrors presence into Redis for other services to read.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

// WriteStatus updates the presence hash and publishes the transition in one round trip.
func (s *RedisSink) WriteStatus(ctx context.Context, update types.StatusUpdate) error {
	event, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode status update: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, PresenceKey(update.WhiteboardID), update.UserID, update.Status)
	pipe.Publish(ctx, PresenceChannel, event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence write failed: %w", err)
	}
	return nil
}

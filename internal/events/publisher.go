package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel carries arena lifecycle events as JSON payloads
const Channel = "arena_events"

// Publisher emits fire-and-forget arena events to Redis. A nil Publisher is
// valid and publishes nothing, so callers never branch on whether Redis is
// configured.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	if rdb == nil {
		return nil
	}
	return &Publisher{rdb: rdb}
}

// Publish sends one event. Failures are warned, never fatal: the event
// stream is observability, not state.
func (p *Publisher) Publish(ctx context.Context, eventType string, fields map[string]interface{}) {
	if p == nil || p.rdb == nil {
		return
	}
	payload := map[string]interface{}{
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EVENTS] marshal %s event: %v", eventType, err)
		return
	}
	if err := p.rdb.Publish(ctx, Channel, b).Err(); err != nil {
		log.Printf("[EVENTS] publish %s event: %v", eventType, err)
	}
}

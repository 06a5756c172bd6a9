package ws

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/siggame/gorena/internal/events"
)

// StartEventSubscriber subscribes to the arena event channel and forwards
// every payload to the hub. Runs until the context is cancelled.
func StartEventSubscriber(ctx context.Context, rdb *redis.Client, hub *Hub) {
	if rdb == nil {
		log.Println("[WS] Redis client not set; event subscriber not started")
		return
	}

	pubsub := rdb.Subscribe(ctx, events.Channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", events.Channel)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				hub.Broadcast([]byte(msg.Payload))
			}
		}
	}()
}

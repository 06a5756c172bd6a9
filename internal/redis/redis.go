package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Connect establishes a connection to Redis for the arena event channel.
// Each process is either a single publisher (runner) or a single subscriber
// (scheduler), so the pool is kept small.
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 4
	opt.MinIdleConns = 1

	client := redis.NewClient(opt)

	// Verify connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

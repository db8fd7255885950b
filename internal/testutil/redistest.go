package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// RedisTest opens a test Redis connection and returns the client plus a
// cleanup function that flushes the current database and closes the client.
//
// If REDIS_URL is not set, the test is skipped.
func RedisTest(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("redistest: parse REDIS_URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("redistest: connect to redis: %v", err)
	}

	cleanup := func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	}

	return client, cleanup
}
